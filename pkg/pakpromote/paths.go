package pakpromote

import (
	"context"
	"errors"
	"fmt"

	"github.com/function61/pakka/pkg/pakvalidation"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/samber/lo"
)

var (
	ErrTargetNotHosted = errors.New("paths can only be promoted into hosted stores")
	ErrSourceIsGroup   = errors.New("groups have no content of their own to promote")
)

const noteAlreadyExists = "already exists in target"

// completed ∪ skipped ∪ pending == requested paths, pairwise disjoint. transport failures
// are reported per path, the only errors returned are input errors
func (e *Engine) PromotePaths(ctx context.Context, req paktypes.PathsPromoteRequest) (*paktypes.PromoteResult, error) {
	return e.ResumePaths(ctx, req, nil)
}

// like PromotePaths(), but paths that "prior" completed (or skipped) and that still exist
// in the target keep their bucket instead of being copied again or flagged as conflicts
func (e *Engine) ResumePaths(
	ctx context.Context,
	req paktypes.PathsPromoteRequest,
	prior *paktypes.PromoteResult,
) (*paktypes.PromoteResult, error) {
	if err := e.checkPathsInput(ctx, req); err != nil {
		return nil, err
	}

	created := e.now()

	result := newResult(paktypes.PromotionKindPaths, req.Source, req.Target, req.DryRun)
	if prior != nil && prior.ID != "" && !req.DryRun {
		result.ID = prior.ID
	}

	e.promotePaths(ctx, req, prior, result)

	e.persist(ctx, result, created, &req, nil)

	return result, nil
}

func (e *Engine) promotePaths(
	ctx context.Context,
	req paktypes.PathsPromoteRequest,
	prior *paktypes.PromoteResult,
	result *paktypes.PromoteResult,
) {
	paths, err := e.requestedPaths(ctx, req)
	if err != nil {
		e.logl.Error.Printf("promote %s -> %s: %v", req.Source.String(), req.Target.String(), err)
		result.Error = err.Error()
		return
	}

	result.Validations = e.validator.Validate(ctx, pakvalidation.Request{
		Source: req.Source,
		Target: req.Target,
		Paths:  paths,
	})
	if !result.Validations.Valid && !req.DryRun {
		return
	}

	if !req.DryRun {
		unlock, err := e.targetLocks.Lock(ctx, req.Target)
		if err != nil {
			result.Error = err.Error()
			return
		}
		defer unlock()
	}

	satisfiedBefore := map[string]*[]string{}
	if prior != nil {
		for _, p := range prior.CompletedPaths {
			satisfiedBefore[p] = &result.CompletedPaths
		}
		for _, p := range prior.SkippedPaths {
			satisfiedBefore[p] = &result.SkippedPaths
		}
	}

	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			pendAll(result, paths[i:], fmt.Sprintf("not attempted: %v", err))
			break
		}

		// existence in the target is the source of truth, not the prior result
		exists, err := e.content.Exists(ctx, req.Target, p)
		if err != nil {
			e.logl.Error.Printf("promote %s -> %s: checking %s: %v", req.Source.String(), req.Target.String(), p, err)
			pend(result, p, fmt.Sprintf("checking target: %v", err))
			continue
		}

		if exists {
			bucket, satisfied := satisfiedBefore[p]
			switch {
			case satisfied:
				*bucket = append(*bucket, p)
			case req.FailWhenExists:
				pend(result, p, noteAlreadyExists)
			default:
				result.SkippedPaths = append(result.SkippedPaths, p)
			}
			continue
		}

		if req.DryRun { // would complete
			result.CompletedPaths = append(result.CompletedPaths, p)
			continue
		}

		if err := e.content.Copy(ctx, req.Source, req.Target, p); err != nil {
			e.logl.Error.Printf("promote %s -> %s: copying %s: %v", req.Source.String(), req.Target.String(), p, err)
			pend(result, p, fmt.Sprintf("copy failed: %v", err))
			pendAll(result, paths[i+1:], fmt.Sprintf("not attempted: copy of %s failed", p))
			break
		}

		result.CompletedPaths = append(result.CompletedPaths, p)
	}

	if req.PurgeSource && !req.DryRun && len(result.PendingPaths) == 0 {
		e.purgeSource(ctx, req, result)
	}

	e.logl.Info.Printf(
		"promote %s -> %s (dry-run=%v): %d completed, %d skipped, %d pending",
		req.Source.String(),
		req.Target.String(),
		req.DryRun,
		len(result.CompletedPaths),
		len(result.SkippedPaths),
		len(result.PendingPaths))
}

func (e *Engine) purgeSource(ctx context.Context, req paktypes.PathsPromoteRequest, result *paktypes.PromoteResult) {
	failures := []error{}

	for _, p := range append(append([]string{}, result.CompletedPaths...), result.SkippedPaths...) {
		if err := e.content.Delete(ctx, req.Source, p); err != nil {
			e.logl.Error.Printf("purging %s from %s: %v", p, req.Source.String(), err)
			failures = append(failures, fmt.Errorf("%s: %w", p, err))
		}
	}

	if len(failures) > 0 {
		result.Error = fmt.Sprintf("purging source: %d failure(s): %v", len(failures), failures[0])
		return
	}

	result.PurgedSource = true
}

// explicit paths (deduplicated, order kept), or everything in the source
func (e *Engine) requestedPaths(ctx context.Context, req paktypes.PathsPromoteRequest) ([]string, error) {
	if len(req.Paths) > 0 {
		return lo.Uniq(req.Paths), nil
	}

	paths, err := e.content.ListAll(ctx, req.Source)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", req.Source.String(), err)
	}

	return paths, nil
}

func (e *Engine) checkPathsInput(ctx context.Context, req paktypes.PathsPromoteRequest) error {
	if req.Source == req.Target {
		return fmt.Errorf("%w: %s", ErrSameSourceAndTarget, req.Source.String())
	}

	if req.Source.IsGroup() {
		return fmt.Errorf("%w: %s", ErrSourceIsGroup, req.Source.String())
	}

	if req.Target.Type != paktypes.StoreTypeHosted {
		return fmt.Errorf("%w: %s", ErrTargetNotHosted, req.Target.String())
	}

	for _, key := range []paktypes.StoreKey{req.Source, req.Target} {
		if _, err := e.catalog.Get(ctx, key); err != nil {
			return err
		}
	}

	return nil
}

func pend(result *paktypes.PromoteResult, p string, note string) {
	result.PendingPaths = append(result.PendingPaths, p)
	result.PendingNotes[p] = note
}

func pendAll(result *paktypes.PromoteResult, paths []string, note string) {
	for _, p := range paths {
		pend(result, p, note)
	}
}
