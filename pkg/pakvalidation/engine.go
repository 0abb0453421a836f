// Matches rule-sets against promotion targets and runs their (read-only) rules
package pakvalidation

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/samber/lo"
)

// what rules may read. no mutating methods on purpose
type ContentReader interface {
	Exists(ctx context.Context, store paktypes.StoreKey, path string) (bool, error)
	ListAll(ctx context.Context, store paktypes.StoreKey) ([]string, error)
	Open(ctx context.Context, store paktypes.StoreKey, path string) (io.ReadCloser, error)
}

type RuleSetProvider interface {
	RuleSets(ctx context.Context) ([]paktypes.RuleSet, error)
}

type Request struct {
	Source paktypes.StoreKey
	Target paktypes.StoreKey
	Paths  []string
}

// input for a single rule
type RuleRequest struct {
	Request
	RuleSet paktypes.RuleSet
	Content ContentReader
}

// returns a non-empty message when the request violates the rule. an error means the
// rule itself could not be evaluated
type ValidationRule interface {
	Validate(ctx context.Context, req RuleRequest) (string, error)
}

// adapter, like http.HandlerFunc
type RuleFunc func(ctx context.Context, req RuleRequest) (string, error)

func (r RuleFunc) Validate(ctx context.Context, req RuleRequest) (string, error) {
	return r(ctx, req)
}

type Engine struct {
	ruleSets RuleSetProvider
	rules    *Registry
	content  ContentReader
	logl     *logex.Leveled
}

func NewEngine(ruleSets RuleSetProvider, rules *Registry, content ContentReader, logger *log.Logger) *Engine {
	return &Engine{
		ruleSets: ruleSets,
		rules:    rules,
		content:  content,
		logl:     logex.Levels(logex.NonNil(logger)),
	}
}

// failures of the engine itself (rule-set lookup, unknown or crashing rules) are
// reported as validation errors, never returned
func (e *Engine) Validate(ctx context.Context, req Request) *paktypes.ValidationResult {
	result := paktypes.NewValidResult()

	allRuleSets, err := e.ruleSets.RuleSets(ctx)
	if err != nil {
		result.AddError("rule-sets", fmt.Sprintf("cannot load rule-sets: %v", err))
		return result
	}

	target := req.Target.String()

	matching := []paktypes.RuleSet{}
	for _, ruleSet := range allRuleSets {
		pattern, err := ruleSet.KeyPattern()
		if err != nil { // fails every validation until fixed
			result.AddError("rule-sets", fmt.Sprintf("rule-set %s: invalid storeKeyPattern: %v", ruleSet.Name, err))
			continue
		}

		if pattern == nil || pattern.MatchString(target) {
			matching = append(matching, ruleSet)
		}
	}

	// with several rule-sets, the same rule may report more than once
	report := func(ruleSet paktypes.RuleSet, ruleName string, message string) {
		if len(matching) > 1 {
			message = fmt.Sprintf("rule-set %s: %s", ruleSet.Name, message)
		}
		result.AddError(ruleName, message)
	}

	result.RuleSet = strings.Join(lo.Map(matching, func(ruleSet paktypes.RuleSet, _ int) string {
		return ruleSet.Name
	}), ",")

	for _, ruleSet := range matching {
		for _, ruleName := range ruleSet.RuleNames {
			rule, found := e.rules.Lookup(ruleName)
			if !found {
				result.AddError(ruleName, fmt.Sprintf("rule-set %s: unknown rule", ruleSet.Name))
				continue
			}

			message, err := rule.Validate(ctx, RuleRequest{
				Request: req,
				RuleSet: ruleSet,
				Content: e.content,
			})
			switch {
			case err != nil:
				e.logl.Error.Printf("rule %s (rule-set %s) on %s: %v", ruleName, ruleSet.Name, target, err)
				report(ruleSet, ruleName, fmt.Sprintf("rule failed: %v", err))
			case message != "":
				report(ruleSet, ruleName, message)
			}
		}
	}

	if !result.Valid {
		e.logl.Info.Printf("%s -> %s invalid: %v", req.Source.String(), target, result.ValidatorErrors)
	}

	return result
}
