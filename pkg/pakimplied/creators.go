package pakimplied

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/function61/pakka/pkg/paktypes"
)

// turns a repository declaration into a remote store. returns nil store when the
// declaration should be ignored
type ImpliedRepositoryCreator interface {
	Create(origin paktypes.StoreKey, declaration RepositoryDeclaration) (*paktypes.RemoteRepository, error)
}

// keyed by package type
var Creators = map[string]ImpliedRepositoryCreator{
	"maven": &mavenCreator{},
}

type mavenCreator struct{}

var (
	nameUnsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)
	urlScheme       = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
)

func (m *mavenCreator) Create(origin paktypes.StoreKey, declaration RepositoryDeclaration) (*paktypes.RemoteRepository, error) {
	if strings.HasPrefix(strings.ToLower(declaration.URL), "file:") {
		return nil, nil
	}

	if !urlScheme.MatchString(declaration.URL) {
		return nil, fmt.Errorf("repository %q: not an URL: %s", declaration.ID, declaration.URL)
	}

	remote := paktypes.NewRemoteRepository(origin.PackageType, ImpliedStoreName(declaration), declaration.URL)
	remote.Metadata[paktypes.MetadataOrigin] = paktypes.OriginImplied
	remote.Metadata[paktypes.MetadataFoundInRepo] = origin.String()

	switch {
	case !declaration.ReleasesEnabled && !declaration.SnapshotsEnabled:
		remote.Disabled = true
	case !declaration.ReleasesEnabled: // snapshot-only repository
		remote.PathMaskPatterns = []string{`r/.*-SNAPSHOT.*/`, `r/.*maven-metadata\.xml.*/`}
	}

	return remote, nil
}

// "i-" + sanitized declaration id (or URL host+path if the declaration has no id)
func ImpliedStoreName(declaration RepositoryDeclaration) string {
	base := declaration.ID
	if base == "" {
		base = urlScheme.ReplaceAllString(declaration.URL, "")
	}

	sanitized := strings.Trim(nameUnsafeChars.ReplaceAllString(base, "-"), "-")
	if sanitized == "" {
		sanitized = "unnamed"
	}

	return "i-" + sanitized
}
