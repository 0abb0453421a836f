package pakimplied

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// a <repository> or <pluginRepository> found in a descriptor
type RepositoryDeclaration struct {
	ID               string
	Name             string
	URL              string
	ReleasesEnabled  bool
	SnapshotsEnabled bool
}

type pomProject struct {
	XMLName            xml.Name        `xml:"project"`
	Repositories       []pomRepository `xml:"repositories>repository"`
	PluginRepositories []pomRepository `xml:"pluginRepositories>pluginRepository"`
	Profiles           []struct {
		Repositories       []pomRepository `xml:"repositories>repository"`
		PluginRepositories []pomRepository `xml:"pluginRepositories>pluginRepository"`
	} `xml:"profiles>profile"`
}

type pomRepository struct {
	ID        string           `xml:"id"`
	Name      string           `xml:"name"`
	URL       string           `xml:"url"`
	Releases  *pomUpdatePolicy `xml:"releases"`
	Snapshots *pomUpdatePolicy `xml:"snapshots"`
}

type pomUpdatePolicy struct {
	Enabled string `xml:"enabled"`
}

func (p *pomUpdatePolicy) enabled() bool {
	return p == nil || strings.TrimSpace(p.Enabled) != "false"
}

// repository declarations of a Maven POM, in document order, deduplicated by URL.
// declarations whose URL is unusable (empty, unresolved property) are dropped
func ParsePomRepositories(pom io.Reader) ([]RepositoryDeclaration, error) {
	project := pomProject{}
	if err := xml.NewDecoder(pom).Decode(&project); err != nil {
		return nil, fmt.Errorf("ParsePomRepositories: %w", err)
	}

	all := append([]pomRepository{}, project.Repositories...)
	all = append(all, project.PluginRepositories...)
	for _, profile := range project.Profiles {
		all = append(all, profile.Repositories...)
		all = append(all, profile.PluginRepositories...)
	}

	seenURLs := map[string]bool{}
	declarations := []RepositoryDeclaration{}

	for _, repo := range all {
		url := strings.TrimSpace(repo.URL)
		if url == "" || strings.Contains(url, "${") {
			continue
		}

		normalized := normalizeURL(url)
		if seenURLs[normalized] {
			continue
		}
		seenURLs[normalized] = true

		declarations = append(declarations, RepositoryDeclaration{
			ID:               strings.TrimSpace(repo.ID),
			Name:             strings.TrimSpace(repo.Name),
			URL:              url,
			ReleasesEnabled:  repo.Releases.enabled(),
			SnapshotsEnabled: repo.Snapshots.enabled(),
		})
	}

	return declarations, nil
}

// "https://repo.example.com/maven2" and "https://repo.example.com/maven2/" are the same
func normalizeURL(url string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(url)), "/")
}
