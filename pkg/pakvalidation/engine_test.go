package pakvalidation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/pakka/pkg/contentstore"
	"github.com/function61/pakka/pkg/contentstore/memcontentstore"
	"github.com/function61/pakka/pkg/paktypes"
)

var (
	ctx      = context.Background()
	build1   = paktypes.MustParseStoreKey("maven:hosted:build-1")
	releases = paktypes.MustParseStoreKey("maven:hosted:releases")
	scratch  = paktypes.MustParseStoreKey("maven:hosted:scratch")
)

func TestRuleSetMatching(t *testing.T) {
	engine := NewEngine(staticRuleSets{
		{Name: "releases", StoreKeyPattern: "^maven:hosted:releases$", RuleNames: []string{"no-snapshots"}},
		{Name: "everything", RuleNames: []string{}},
	}, DefaultRegistry(), newContent(t), nil)

	result := engine.Validate(ctx, Request{
		Source: build1,
		Target: releases,
		Paths:  []string{"org/x/1.0-SNAPSHOT/x-1.0-SNAPSHOT.jar", "org/x/1.0/x-1.0.jar"},
	})
	assert.Assert(t, !result.Valid)
	assert.EqualString(t, result.RuleSet, "releases,everything")
	assert.EqualString(t, result.ValidatorErrors["no-snapshots"], "rule-set releases: snapshot paths: org/x/1.0-SNAPSHOT/x-1.0-SNAPSHOT.jar")

	// same paths into a target only the wildcard rule-set matches
	result = engine.Validate(ctx, Request{
		Source: build1,
		Target: scratch,
		Paths:  []string{"org/x/1.0-SNAPSHOT/x-1.0-SNAPSHOT.jar"},
	})
	assert.Assert(t, result.Valid)
	assert.EqualString(t, result.RuleSet, "everything")
}

func TestEngineFailuresAreValidationErrors(t *testing.T) {
	registry := DefaultRegistry()
	registry.Register("crashes", RuleFunc(func(_ context.Context, _ RuleRequest) (string, error) {
		return "", errors.New("out of coffee")
	}))

	engine := NewEngine(staticRuleSets{
		{Name: "broken", RuleNames: []string{"does-not-exist", "crashes", "project-version-pattern"}},
	}, registry, newContent(t), nil)

	result := engine.Validate(ctx, Request{Source: build1, Target: releases, Paths: []string{"org/x/1.0/x-1.0.jar"}})
	assert.Assert(t, !result.Valid)
	assert.EqualString(t, result.ValidatorErrors["does-not-exist"], "rule-set broken: unknown rule")
	assert.EqualString(t, result.ValidatorErrors["crashes"], "rule failed: out of coffee")
	assert.Assert(t, strings.Contains(result.ValidatorErrors["project-version-pattern"], "parameter versionPattern missing"))

	failingProvider := NewEngine(failingRuleSets{}, registry, newContent(t), nil)

	result = failingProvider.Validate(ctx, Request{Source: build1, Target: releases})
	assert.Assert(t, !result.Valid)
	assert.Assert(t, result.ValidatorErrors["rule-sets"] != "")
}

func TestSameRuleInTwoRuleSetsKeepsBothMessages(t *testing.T) {
	engine := NewEngine(staticRuleSets{
		{Name: "releases", StoreKeyPattern: "^maven:hosted:releases$", RuleNames: []string{"project-version-pattern"}, ValidationParameters: map[string]string{"versionPattern": `^\d+\.\d+$`}},
		{Name: "strict", RuleNames: []string{"project-version-pattern"}, ValidationParameters: map[string]string{"versionPattern": `^\d+\.\d+\.\d+$`}},
	}, DefaultRegistry(), newContent(t), nil)

	result := engine.Validate(ctx, Request{
		Source: build1,
		Target: releases,
		Paths:  []string{"org/x/1.0.0/x-1.0.0.jar", "org/y/1.0/y-1.0.jar"},
	})
	assert.Assert(t, !result.Valid)

	message := result.ValidatorErrors["project-version-pattern"]
	assert.Assert(t, strings.HasPrefix(message, "rule-set releases: "))
	assert.Assert(t, strings.Contains(message, "; rule-set strict: "))
}

func TestInvalidStoreKeyPatternFailsValidation(t *testing.T) {
	engine := NewEngine(staticRuleSets{
		{Name: "typo", StoreKeyPattern: "^maven:hosted:(releases$", RuleNames: []string{"no-snapshots"}},
	}, DefaultRegistry(), newContent(t), nil)

	result := engine.Validate(ctx, Request{
		Source: build1,
		Target: releases,
		Paths:  []string{"org/x/1.0/x-1.0.jar"},
	})
	assert.Assert(t, !result.Valid)
	assert.Assert(t, strings.HasPrefix(result.ValidatorErrors["rule-sets"], "rule-set typo: invalid storeKeyPattern: "))
	assert.EqualString(t, result.RuleSet, "")
}

func TestNoPreExistingPaths(t *testing.T) {
	content := newContent(t)
	assert.Assert(t, content.Put(ctx, releases, "org/x/1.0/x-1.0.jar", strings.NewReader("jar")) == nil)
	assert.Assert(t, content.Put(ctx, releases, "org/x/maven-metadata.xml", strings.NewReader("<metadata/>")) == nil)

	message, err := noPreExistingPaths(ctx, RuleRequest{
		Request: Request{
			Source: build1,
			Target: releases,
			Paths:  []string{"org/x/1.0/x-1.0.jar", "org/x/1.0/x-1.0.pom", "org/x/maven-metadata.xml"},
		},
		Content: content,
	})
	assert.Assert(t, err == nil)
	assert.EqualString(t, message, "already in maven:hosted:releases: org/x/1.0/x-1.0.jar")
}

func TestProjectVersionPattern(t *testing.T) {
	req := RuleRequest{
		Request: Request{
			Paths: []string{
				"org/x/1.0.0/x-1.0.0.jar",
				"org/x/1.0.0-rc1/x-1.0.0-rc1.jar",
				"org/x/maven-metadata.xml",
			},
		},
		RuleSet: paktypes.RuleSet{
			Name:                 "strict",
			ValidationParameters: map[string]string{ParamVersionPattern: `^\d+\.\d+\.\d+$`},
		},
	}

	message, err := projectVersionPattern(ctx, req)
	assert.Assert(t, err == nil)
	assert.EqualString(t, message, `version not matching ^\d+\.\d+\.\d+$: org/x/1.0.0-rc1/x-1.0.0-rc1.jar`)

	req.RuleSet.ValidationParameters[ParamVersionPattern] = "(unclosed"

	_, err = projectVersionPattern(ctx, req)
	assert.Assert(t, err != nil)
}

func TestProjectArtifactsWithPoms(t *testing.T) {
	message, err := projectArtifactsWithPoms(ctx, RuleRequest{
		Request: Request{
			Paths: []string{
				"org/x/1.0/x-1.0.jar",
				"org/x/1.0/x-1.0.jar.sha1",
				"org/x/1.0/x-1.0.pom",
				"org/y/2.0/y-2.0.jar",
				"org/y/2.0/y-2.0-sources.jar",
			},
		},
	})
	assert.Assert(t, err == nil)
	assert.EqualString(t, message, "no POM in: org/y/2.0")
}

func TestParsablePom(t *testing.T) {
	content := newContent(t)
	assert.Assert(t, content.Put(ctx, build1, "org/x/1.0/x-1.0.pom", strings.NewReader(
		`<project xmlns="http://maven.apache.org/POM/4.0.0"><artifactId>x</artifactId></project>`)) == nil)
	assert.Assert(t, content.Put(ctx, build1, "org/y/1.0/y-1.0.pom", strings.NewReader("<html>oops</html>")) == nil)

	message, err := parsablePom(ctx, RuleRequest{
		Request: Request{
			Source: build1,
			Paths:  []string{"org/x/1.0/x-1.0.pom", "org/y/1.0/y-1.0.pom", "org/x/1.0/x-1.0.jar"},
		},
		Content: content,
	})
	assert.Assert(t, err == nil)
	assert.Assert(t, strings.HasPrefix(message, "unparsable POMs: org/y/1.0/y-1.0.pom ("))
}

func TestRegistryNames(t *testing.T) {
	assert.EqualString(
		t,
		strings.Join(DefaultRegistry().Names(), ","),
		"no-pre-existing-paths,no-snapshots,parsable-pom,project-artifacts-with-poms,project-version-pattern")
}

type staticRuleSets []paktypes.RuleSet

func (s staticRuleSets) RuleSets(_ context.Context) ([]paktypes.RuleSet, error) {
	return s, nil
}

type failingRuleSets struct{}

func (failingRuleSets) RuleSets(_ context.Context) ([]paktypes.RuleSet, error) {
	return nil, errors.New("database on fire")
}

func newContent(t *testing.T) *contentstore.Transport {
	return contentstore.New(memcontentstore.New(), nil)
}
