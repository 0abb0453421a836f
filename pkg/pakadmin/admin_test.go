package pakadmin

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/pakka/pkg/pakcatalog"
	"github.com/function61/pakka/pkg/pakdb"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/function61/pakka/pkg/pakvalidation"
)

func TestBuildStore(t *testing.T) {
	group, err := storeFlags{
		members:  []string{"maven:hosted:build-1", "maven:remote:central"},
		metadata: []string{"owner=ci"},
	}.build(paktypes.MustParseStoreKey("maven:group:public"))
	assert.Assert(t, err == nil)
	assert.EqualString(t, paktypes.FormatStoreKeyList(group.(*paktypes.Group).Constituents), "maven:hosted:build-1,maven:remote:central")
	assert.EqualString(t, group.Meta()["owner"], "ci")

	remote, err := storeFlags{url: "https://repo.maven.apache.org/maven2/", disabled: true}.build(paktypes.MustParseStoreKey("maven:remote:central"))
	assert.Assert(t, err == nil)
	assert.EqualString(t, remote.(*paktypes.RemoteRepository).URL, "https://repo.maven.apache.org/maven2/")
	assert.Assert(t, remote.IsDisabled())

	for _, tc := range []struct {
		key    string
		flags  storeFlags
		errMsg string
	}{
		{"maven:remote:central", storeFlags{}, "remote maven:remote:central needs --url"},
		{"maven:hosted:build-1", storeFlags{url: "https://example.com/"}, "--url only applies to remotes"},
		{"maven:hosted:build-1", storeFlags{members: []string{"maven:hosted:x"}}, "--member only applies to groups"},
		{"maven:group:public", storeFlags{members: []string{"npm:hosted:x"}}, "member npm:hosted:x: package type differs from maven:group:public"},
		{"maven:hosted:build-1", storeFlags{metadata: []string{"novalue"}}, `metadata not in key=value form: "novalue"`},
	} {
		t.Run(tc.errMsg, func(t *testing.T) {
			_, err := tc.flags.build(paktypes.MustParseStoreKey(tc.key))
			assert.EqualString(t, err.Error(), tc.errMsg)
		})
	}
}

func TestPutStoreKeepsRecordedMetadata(t *testing.T) {
	ctx := context.Background()
	catalog := openTestCatalog(t)

	hosted := paktypes.NewHostedRepository("maven", "build-1")
	hosted.Metadata["implied-stores"] = "maven:remote:i-jboss"

	changed, err := putStore(ctx, catalog, hosted, "joonas")
	assert.Assert(t, err == nil)
	assert.Assert(t, changed)

	// replacing without the metadata keeps it, and marks the store disabled
	replacement, err := storeFlags{disabled: true}.build(hosted.Key)
	assert.Assert(t, err == nil)

	changed, err = putStore(ctx, catalog, replacement, "joonas")
	assert.Assert(t, err == nil)
	assert.Assert(t, changed)

	stored, err := catalog.Get(ctx, hosted.Key)
	assert.Assert(t, err == nil)
	assert.Assert(t, stored.IsDisabled())
	assert.EqualString(t, stored.Meta()["implied-stores"], "maven:remote:i-jboss")
	assert.Assert(t, stored.CatalogVersion() == 2)

	changed, err = putStore(ctx, catalog, replacement, "joonas")
	assert.Assert(t, err == nil)
	assert.Assert(t, !changed)
}

func TestRenderTable(t *testing.T) {
	rows := [][]string{{"a/1.jar", "completed", ""}, {"a/1.pom", "pending", "already exists in target"}}

	piped := &bytes.Buffer{}
	renderTable(piped, false, []string{"Path", "Outcome", "Note"}, rows)
	assert.EqualString(t, piped.String(), "a/1.jar\tcompleted\t\na/1.pom\tpending\talready exists in target\n")

	terminal := &bytes.Buffer{}
	renderTable(terminal, true, []string{"Path", "Outcome", "Note"}, rows)
	assert.Assert(t, strings.Contains(terminal.String(), "Path"))
	assert.Assert(t, strings.Contains(terminal.String(), "already exists in target"))
}

func TestPromoteResultReport(t *testing.T) {
	result := &paktypes.PromoteResult{
		ID:             "7f3e",
		Source:         paktypes.MustParseStoreKey("maven:hosted:build-1"),
		Target:         paktypes.MustParseStoreKey("maven:hosted:shared"),
		CompletedPaths: []string{"b.jar"},
		SkippedPaths:   []string{"c.jar"},
		PendingPaths:   []string{"a.jar"},
		PendingNotes:   map[string]string{"a.jar": "copy failed: disk full"},
		Validations:    paktypes.NewValidResult(),
	}

	rows := promoteResultRows(result)
	assert.EqualString(t, strings.Join(rows[0], "|"), "a.jar|pending|copy failed: disk full")
	assert.EqualString(t, strings.Join(rows[1], "|"), "b.jar|completed|")
	assert.EqualString(t, strings.Join(rows[2], "|"), "c.jar|skipped|")

	assert.EqualString(t, promoteSummary(result), `promotion 7f3e (maven:hosted:build-1 -> maven:hosted:shared)
1 path(s) pending, resume with: promote resume 7f3e`)

	result.Validations.AddError("no-snapshots", "snapshot paths: a.jar")
	result.Validations.RuleSet = "shared"
	assert.Assert(t, strings.Contains(promoteSummary(result), "validation failed (rule set shared):\n  no-snapshots: snapshot paths: a.jar"))
}

func TestCheckRuleSet(t *testing.T) {
	rules := pakvalidation.DefaultRegistry()

	assert.Assert(t, checkRuleSet(paktypes.RuleSet{Name: "releases", StoreKeyPattern: "^maven:hosted:releases$", RuleNames: []string{"no-snapshots"}}, rules) == nil)

	err := checkRuleSet(paktypes.RuleSet{Name: "releases", RuleNames: []string{"no-bugs"}}, rules)
	assert.Assert(t, strings.HasPrefix(err.Error(), `rule set releases: unknown rule "no-bugs"`))

	err = checkRuleSet(paktypes.RuleSet{Name: "broken", StoreKeyPattern: "("}, rules)
	assert.Assert(t, err != nil)

	assert.Assert(t, checkRuleSet(paktypes.RuleSet{}, rules) != nil)
}

func TestParseSourceAndTarget(t *testing.T) {
	source, target, err := parseSourceAndTarget([]string{"maven:hosted:build-1", "maven:group:public"})
	assert.Assert(t, err == nil)
	assert.EqualString(t, source.String(), "maven:hosted:build-1")
	assert.EqualString(t, target.String(), "maven:group:public")

	_, _, err = parseSourceAndTarget([]string{"maven:hosted:build-1", "public"})
	assert.Assert(t, errors.Is(err, paktypes.ErrMalformedStoreKey))
}

func openTestCatalog(t *testing.T) *pakcatalog.Catalog {
	t.Helper()

	db, err := pakdb.OpenAndBootstrap(filepath.Join(t.TempDir(), "pakka.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return pakcatalog.New(db, nil)
}
