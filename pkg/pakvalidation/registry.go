package pakvalidation

import (
	"sort"
	"sync"
)

// rules by name. strategies are registered at startup, never loaded at runtime
type Registry struct {
	mu    sync.RWMutex
	rules map[string]ValidationRule
}

func NewRegistry() *Registry {
	return &Registry{
		rules: map[string]ValidationRule{},
	}
}

// registry with the built-in rules
func DefaultRegistry() *Registry {
	registry := NewRegistry()

	registry.Register("no-snapshots", RuleFunc(noSnapshots))
	registry.Register("no-pre-existing-paths", RuleFunc(noPreExistingPaths))
	registry.Register("project-version-pattern", RuleFunc(projectVersionPattern))
	registry.Register("project-artifacts-with-poms", RuleFunc(projectArtifactsWithPoms))
	registry.Register("parsable-pom", RuleFunc(parsablePom))

	return registry
}

func (r *Registry) Register(name string, rule ValidationRule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules[name] = rule
}

func (r *Registry) Lookup(name string) (ValidationRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, found := r.rules[name]
	return rule, found
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := []string{}
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
