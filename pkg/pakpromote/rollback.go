package pakpromote

import (
	"context"
	"errors"
	"fmt"

	"github.com/function61/pakka/pkg/paktypes"
	"github.com/samber/lo"
)

var ErrNotRollbackable = errors.New("promotion cannot be rolled back")

// undoes a stored promotion. a second rollback of the same promotion while one is running
// fails with paktypes.ErrBusy
func (e *Engine) Rollback(ctx context.Context, id string) (*paktypes.PromoteResult, error) {
	release, err := e.rollbacks.TryLockOrBusy(id)
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := e.catalog.Promotion(ctx, id)
	if err != nil {
		return nil, err
	}

	result := record.Result

	switch {
	case result.DryRun || result.Accepted:
		return nil, fmt.Errorf("%w: %s is dry-run or still running", ErrNotRollbackable, id)
	case result.RolledBack:
		return &result, nil
	}

	switch result.Kind {
	case paktypes.PromotionKindPaths:
		err = e.RollbackPaths(ctx, &result)
	case paktypes.PromotionKindGroup:
		err = e.RollbackGroup(ctx, &result)
	default:
		err = fmt.Errorf("%w: unknown kind %q", ErrNotRollbackable, result.Kind)
	}
	if err != nil {
		return nil, err
	}

	e.persist(ctx, &result, record.Created, record.PathsRequest, record.GroupRequest)

	return &result, nil
}

// removes completed paths from the target. if the promotion purged the source, paths are
// first copied back. skipped paths were there before the promotion, so they stay
func (e *Engine) RollbackPaths(ctx context.Context, result *paktypes.PromoteResult) error {
	unlock, err := e.targetLocks.Lock(ctx, result.Target)
	if err != nil {
		return err
	}
	defer unlock()

	failed := []string{}

	for _, p := range result.CompletedPaths {
		if err := e.rollbackPath(ctx, result, p); err != nil {
			e.logl.Error.Printf("rollback %s: %s: %v", result.ID, p, err)
			failed = append(failed, p)
		}
	}

	if result.PurgedSource {
		for _, p := range result.SkippedPaths {
			if err := e.restoreToSource(ctx, result, p); err != nil {
				e.logl.Error.Printf("rollback %s: restoring %s: %v", result.ID, p, err)
				failed = append(failed, p)
			}
		}
	}

	if len(failed) > 0 { // rolled back paths are gone from target, so a retry skips them
		return fmt.Errorf("rollback %s: %d path(s) failed: %v", result.ID, len(failed), failed)
	}

	result.RolledBack = true
	result.PurgedSource = false

	e.logl.Info.Printf("rolled back %s (%d paths)", result.ID, len(result.CompletedPaths))

	return nil
}

func (e *Engine) rollbackPath(ctx context.Context, result *paktypes.PromoteResult, p string) error {
	inTarget, err := e.content.Exists(ctx, result.Target, p)
	if err != nil {
		return err
	}

	if !inTarget { // already rolled back
		return nil
	}

	if result.PurgedSource {
		if err := e.restoreToSource(ctx, result, p); err != nil {
			return err
		}
	}

	return e.content.Delete(ctx, result.Target, p)
}

func (e *Engine) restoreToSource(ctx context.Context, result *paktypes.PromoteResult, p string) error {
	inSource, err := e.content.Exists(ctx, result.Source, p)
	if err != nil || inSource {
		return err
	}

	return e.content.Copy(ctx, result.Target, result.Source, p)
}

// removes the source from the group, if the promotion added it
func (e *Engine) RollbackGroup(ctx context.Context, result *paktypes.PromoteResult) error {
	if !lo.Contains(result.CompletedPaths, result.Source.String()) {
		result.RolledBack = true
		return nil
	}

	if _, err := e.catalog.Update(ctx, result.Target, func(store paktypes.ArtifactStore) (paktypes.ArtifactStore, error) {
		group, isGroup := store.(*paktypes.Group)
		if !isGroup {
			return nil, fmt.Errorf("%w: %s", paktypes.ErrNotAGroup, result.Target.String())
		}

		return group.WithConstituents(lo.Without(group.Constituents, result.Source)), nil
	}, paktypes.Changed("promotion", fmt.Sprintf("rolling back %s", result.ID))); err != nil {
		return err
	}

	result.RolledBack = true

	e.logl.Info.Printf("rolled back %s: removed %s from %s", result.ID, result.Source.String(), result.Target.String())

	return nil
}
