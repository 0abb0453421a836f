// Validates and executes promotions: copying paths between stores, or adding a store to
// a group
package pakpromote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/mutexmap"
	"github.com/function61/pakka/pkg/pakdb"
	"github.com/function61/pakka/pkg/pakgroups"
	"github.com/function61/pakka/pkg/pakvalidation"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/google/uuid"
)

var ErrSameSourceAndTarget = errors.New("source and target are the same store")

type Catalog interface {
	paktypes.StoreDataManager
	Update(
		ctx context.Context,
		key paktypes.StoreKey,
		mutate func(store paktypes.ArtifactStore) (paktypes.ArtifactStore, error),
		summary paktypes.ChangeSummary,
	) (bool, error)
	SavePromotion(ctx context.Context, record *pakdb.PromotionRecord) error
	Promotion(ctx context.Context, id string) (*pakdb.PromotionRecord, error)
}

type Validator interface {
	Validate(ctx context.Context, req pakvalidation.Request) *paktypes.ValidationResult
}

// runs async promotions
type Submitter interface {
	Submit(ctx context.Context, name string, job func(ctx context.Context) error) error
}

type Engine struct {
	catalog   Catalog
	content   paktypes.ContentTransport
	validator Validator
	resolver  *pakgroups.Resolver
	async     Submitter
	callbacks *callbackSender
	// writes into the same target are serialized
	targetLocks *mutexmap.M[paktypes.StoreKey]
	// rollback of a given result is single-flight
	rollbacks *mutexmap.M[string]
	now       func() time.Time
	logl      *logex.Leveled
}

func NewEngine(
	catalog Catalog,
	content paktypes.ContentTransport,
	validator Validator,
	resolver *pakgroups.Resolver,
	async Submitter,
	callbackTimeout time.Duration,
	logger *log.Logger,
) *Engine {
	return &Engine{
		catalog:     catalog,
		content:     content,
		validator:   validator,
		resolver:    resolver,
		async:       async,
		callbacks:   newCallbackSender(callbackTimeout, logger),
		targetLocks: mutexmap.New[paktypes.StoreKey](),
		rollbacks:   mutexmap.New[string](),
		now:         time.Now,
		logl:        logex.Levels(logex.NonNil(logger)),
	}
}

// validation only, never mutates
func (e *Engine) Validate(ctx context.Context, req paktypes.PathsPromoteRequest) (*paktypes.ValidationResult, error) {
	if err := e.checkPathsInput(ctx, req); err != nil {
		return nil, err
	}

	paths, err := e.requestedPaths(ctx, req)
	if err != nil {
		validation := paktypes.NewValidResult()
		validation.AddError("source-listing", err.Error())
		return validation, nil
	}

	return e.validator.Validate(ctx, pakvalidation.Request{
		Source: req.Source,
		Target: req.Target,
		Paths:  paths,
	}), nil
}

// the stored record of a (non dry-run) promotion
func (e *Engine) Result(ctx context.Context, id string) (*pakdb.PromotionRecord, error) {
	return e.catalog.Promotion(ctx, id)
}

// re-runs a stored promotion under its original ID, retrying only what didn't complete.
// an async request's callback gets the terminal result, the caller never heard of it
func (e *Engine) Resume(ctx context.Context, id string) (*paktypes.PromoteResult, error) {
	record, err := e.catalog.Promotion(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *paktypes.PromoteResult
	var inputErr error
	var callback *paktypes.CallbackTarget

	switch {
	case record.PathsRequest != nil:
		req := *record.PathsRequest
		if req.Async {
			callback = req.Callback
		}

		result = newResult(paktypes.PromotionKindPaths, req.Source, req.Target, req.DryRun)
		result.ID = record.ID

		if inputErr = e.checkPathsInput(ctx, req); inputErr == nil {
			prior := record.Result
			e.promotePaths(ctx, req, &prior, result)
		}

		e.persistResumed(ctx, result, inputErr, record.Created, &req, nil)
	case record.GroupRequest != nil:
		req := *record.GroupRequest
		if req.Async {
			callback = req.Callback
		}

		result = newResult(paktypes.PromotionKindGroup, req.Source, req.TargetGroup, req.DryRun)
		result.ID = record.ID

		// membership promotion is idempotent, no prior result needed
		if inputErr = e.checkGroupInput(ctx, req); inputErr == nil {
			e.promoteGroup(ctx, req, result)
		}

		e.persistResumed(ctx, result, inputErr, record.Created, nil, &req)
	default:
		return nil, fmt.Errorf("promotion %s has no request", id)
	}

	if err := e.callbacks.deliver(ctx, callback, result); err != nil {
		e.logl.Error.Printf("resume %s: %v", id, err)
	}

	if inputErr != nil {
		return nil, inputErr
	}

	return result, nil
}

// a request that no longer passes input checks (e.g. a store was removed) still reaches a
// terminal state, or it would be resumed forever
func (e *Engine) persistResumed(
	ctx context.Context,
	result *paktypes.PromoteResult,
	inputErr error,
	created time.Time,
	pathsRequest *paktypes.PathsPromoteRequest,
	groupRequest *paktypes.GroupPromoteRequest,
) {
	if inputErr != nil {
		result.Error = inputErr.Error()
	}

	e.persist(ctx, result, created, pathsRequest, groupRequest)
}

func (e *Engine) persist(
	ctx context.Context,
	result *paktypes.PromoteResult,
	created time.Time,
	pathsRequest *paktypes.PathsPromoteRequest,
	groupRequest *paktypes.GroupPromoteRequest,
) {
	if result.DryRun {
		return
	}

	record := &pakdb.PromotionRecord{
		ID:           result.ID,
		Created:      created,
		Status:       statusOf(result),
		Result:       *result,
		PathsRequest: pathsRequest,
		GroupRequest: groupRequest,
	}

	if !result.Accepted {
		record.Finished = e.now()
	}

	// the caller still gets the result, just can't look it up later
	if err := e.catalog.SavePromotion(ctx, record); err != nil {
		e.logl.Error.Printf("persisting promotion %s: %v", result.ID, err)
	}
}

func newResult(kind paktypes.PromotionKind, source paktypes.StoreKey, target paktypes.StoreKey, dryRun bool) *paktypes.PromoteResult {
	return &paktypes.PromoteResult{
		ID:             uuid.New().String(),
		Source:         source,
		Target:         target,
		Kind:           kind,
		CompletedPaths: []string{},
		SkippedPaths:   []string{},
		PendingPaths:   []string{},
		PendingNotes:   map[string]string{},
		DryRun:         dryRun,
	}
}

func statusOf(result *paktypes.PromoteResult) pakdb.PromotionStatus {
	switch {
	case result.Accepted:
		return pakdb.PromotionStatusAccepted
	case result.RolledBack:
		return pakdb.PromotionStatusRolledBack
	case result.Succeeded():
		return pakdb.PromotionStatusCompleted
	default:
		return pakdb.PromotionStatusFailed
	}
}
