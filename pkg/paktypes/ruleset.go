package paktypes

import (
	"regexp"
)

// selects promotion targets (by key pattern) and names the rules they must pass
type RuleSet struct {
	Name                 string            `json:"name"`
	StoreKeyPattern      string            `json:"storeKeyPattern,omitempty"` // regex against StoreKey.String(). empty = all
	RuleNames            []string          `json:"ruleNames"`
	ValidationParameters map[string]string `json:"validationParameters,omitempty"`
}

// nil pattern means all keys
func (r *RuleSet) KeyPattern() (*regexp.Regexp, error) {
	if r.StoreKeyPattern == "" {
		return nil, nil
	}

	return regexp.Compile(r.StoreKeyPattern)
}

// an invalid pattern matches nothing. KeyPattern() reports why
func (r *RuleSet) MatchesKey(key string) bool {
	re, err := r.KeyPattern()
	switch {
	case err != nil:
		return false
	case re == nil:
		return true
	default:
		return re.MatchString(key)
	}
}

func (r *RuleSet) Param(name string) string {
	if r.ValidationParameters == nil {
		return ""
	}
	return r.ValidationParameters[name]
}
