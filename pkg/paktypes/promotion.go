package paktypes

import (
	"net/http"
	"sort"
)

// where the terminal result of an async promotion gets delivered
type CallbackTarget struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"` // POST (default) | PUT
	Headers map[string]string `json:"headers,omitempty"`
}

func (c CallbackTarget) MethodOrDefault() string {
	if c.Method == "" {
		return http.MethodPost
	}
	return c.Method
}

type PathsPromoteRequest struct {
	Source         StoreKey        `json:"source"`
	Target         StoreKey        `json:"target"`
	Paths          []string        `json:"paths,omitempty"` // empty = all content of source
	PurgeSource    bool            `json:"purge_source"`
	DryRun         bool            `json:"dry_run"`
	FailWhenExists bool            `json:"fail_when_exists"`
	Async          bool            `json:"async"`
	Callback       *CallbackTarget `json:"callback,omitempty"`
}

type GroupPromoteRequest struct {
	Source      StoreKey        `json:"source"`
	TargetGroup StoreKey        `json:"target_group"`
	DryRun      bool            `json:"dry_run"`
	Async       bool            `json:"async"`
	Callback    *CallbackTarget `json:"callback,omitempty"`
}

type PromoteResult struct {
	ID             string            `json:"id,omitempty"`
	Source         StoreKey          `json:"source"`
	Target         StoreKey          `json:"target"`
	Kind           PromotionKind     `json:"kind"`
	CompletedPaths []string          `json:"completed_paths"`
	SkippedPaths   []string          `json:"skipped_paths"`
	PendingPaths   []string          `json:"pending_paths"`
	PendingNotes   map[string]string `json:"pending_notes,omitempty"` // path => why it's pending
	PurgedSource   bool              `json:"purged_source,omitempty"`
	Validations    *ValidationResult `json:"validations,omitempty"`
	Error          string            `json:"error,omitempty"`
	DryRun         bool              `json:"dry_run"`
	Accepted       bool              `json:"accepted,omitempty"` // async submission, not terminal
	RolledBack     bool              `json:"rolled_back,omitempty"`
}

type PromotionKind string

const (
	PromotionKindPaths PromotionKind = "paths"
	PromotionKindGroup PromotionKind = "group"
)

// resubmitting the same request retries only the pending paths
func (p *PromoteResult) Resumable() bool {
	return len(p.PendingPaths) > 0 && p.Error == ""
}

func (p *PromoteResult) Succeeded() bool {
	return !p.Accepted && len(p.PendingPaths) == 0 && p.Error == "" && (p.Validations == nil || p.Validations.Valid)
}

// all buckets' union, sorted
func (p *PromoteResult) RequestedPaths() []string {
	all := []string{}
	all = append(all, p.CompletedPaths...)
	all = append(all, p.SkippedPaths...)
	all = append(all, p.PendingPaths...)
	sort.Strings(all)
	return all
}

type ValidationResult struct {
	Valid           bool              `json:"valid"`
	ValidatorErrors map[string]string `json:"validator_errors,omitempty"` // rule name => message
	RuleSet         string            `json:"rule_set,omitempty"`
}

func NewValidResult() *ValidationResult {
	return &ValidationResult{Valid: true, ValidatorErrors: map[string]string{}}
}

// messages for the same rule (e.g. from two rule-sets) are joined
func (v *ValidationResult) AddError(rule string, message string) {
	v.Valid = false

	if existing, found := v.ValidatorErrors[rule]; found && existing != message {
		message = existing + "; " + message
	}

	v.ValidatorErrors[rule] = message
}
