package pakvalidation

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
)

const ParamVersionPattern = "versionPattern"

func noSnapshots(_ context.Context, req RuleRequest) (string, error) {
	snapshots := lo.Filter(req.Paths, func(p string, _ int) bool {
		return strings.Contains(p, "-SNAPSHOT")
	})

	return violations("snapshot paths", snapshots), nil
}

func noPreExistingPaths(ctx context.Context, req RuleRequest) (string, error) {
	existing := []string{}

	for _, p := range req.Paths {
		if isMetadataFile(p) { // merged, not overwritten
			continue
		}

		exists, err := req.Content.Exists(ctx, req.Target, p)
		if err != nil {
			return "", err
		}

		if exists {
			existing = append(existing, p)
		}
	}

	return violations(fmt.Sprintf("already in %s", req.Target.String()), existing), nil
}

func projectVersionPattern(_ context.Context, req RuleRequest) (string, error) {
	pattern := req.RuleSet.Param(ParamVersionPattern)
	if pattern == "" {
		return "", fmt.Errorf("rule-set %s: parameter %s missing", req.RuleSet.Name, ParamVersionPattern)
	}

	versionRe, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("rule-set %s: %s: %w", req.RuleSet.Name, ParamVersionPattern, err)
	}

	mismatching := []string{}

	for _, p := range req.Paths {
		coords, ok := parseMavenPath(p)
		if !ok {
			continue
		}

		if !versionRe.MatchString(coords.version) {
			mismatching = append(mismatching, p)
		}
	}

	return violations(fmt.Sprintf("version not matching %s", pattern), mismatching), nil
}

// every version directory with artifacts must also have a POM
func projectArtifactsWithPoms(_ context.Context, req RuleRequest) (string, error) {
	hasArtifacts := map[string]bool{}
	hasPom := map[string]bool{}

	for _, p := range req.Paths {
		coords, ok := parseMavenPath(p)
		if !ok || isChecksumOrSignature(p) {
			continue
		}

		if strings.HasSuffix(coords.filename, ".pom") {
			hasPom[coords.dir] = true
		} else {
			hasArtifacts[coords.dir] = true
		}
	}

	missing := []string{}
	for dir := range hasArtifacts {
		if !hasPom[dir] {
			missing = append(missing, dir)
		}
	}

	return violations("no POM in", missing), nil
}

func parsablePom(ctx context.Context, req RuleRequest) (string, error) {
	unparsable := []string{}

	for _, p := range req.Paths {
		if !strings.HasSuffix(p, ".pom") {
			continue
		}

		if err := parsePom(ctx, req, p); err != nil {
			unparsable = append(unparsable, fmt.Sprintf("%s (%v)", p, err))
		}
	}

	return violations("unparsable POMs", unparsable), nil
}

func parsePom(ctx context.Context, req RuleRequest, p string) error {
	pom, err := req.Content.Open(ctx, req.Source, p)
	if err != nil {
		return err
	}
	defer pom.Close()

	project := struct {
		XMLName    xml.Name `xml:"project"`
		ArtifactID string   `xml:"artifactId"`
	}{}
	if err := xml.NewDecoder(pom).Decode(&project); err != nil {
		return err
	}

	if project.ArtifactID == "" {
		return errors.New("no artifactId")
	}

	return nil
}

type mavenCoords struct {
	dir      string // "org/example/app/1.0"
	version  string
	filename string
}

// "org/example/app/1.0/app-1.0.jar"
func parseMavenPath(p string) (mavenCoords, bool) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 4 {
		return mavenCoords{}, false
	}

	filename := parts[len(parts)-1]
	if isMetadataFile(filename) {
		return mavenCoords{}, false
	}

	return mavenCoords{
		dir:      path.Dir(strings.Trim(p, "/")),
		version:  parts[len(parts)-2],
		filename: filename,
	}, true
}

func isMetadataFile(p string) bool {
	return strings.HasPrefix(path.Base(p), "maven-metadata")
}

func isChecksumOrSignature(p string) bool {
	for _, suffix := range []string{".md5", ".sha1", ".sha256", ".sha512", ".asc"} {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func violations(what string, items []string) string {
	if len(items) == 0 {
		return ""
	}

	sorted := append([]string{}, items...)
	sort.Strings(sorted)

	return fmt.Sprintf("%s: %s", what, strings.Join(sorted, ", "))
}
