package pakpromote

import (
	"context"
	"errors"
	"fmt"

	"github.com/function61/pakka/pkg/pakvalidation"
	"github.com/function61/pakka/pkg/paktypes"
)

var ErrMembershipCycle = errors.New("promotion would make the group a member of itself")

// membership promotion: appends the source to the target group. content is not copied.
// buckets hold the source key instead of paths
func (e *Engine) PromoteGroup(ctx context.Context, req paktypes.GroupPromoteRequest) (*paktypes.PromoteResult, error) {
	if err := e.checkGroupInput(ctx, req); err != nil {
		return nil, err
	}

	created := e.now()

	result := newResult(paktypes.PromotionKindGroup, req.Source, req.TargetGroup, req.DryRun)

	e.promoteGroup(ctx, req, result)

	e.persist(ctx, result, created, nil, &req)

	return result, nil
}

func (e *Engine) promoteGroup(ctx context.Context, req paktypes.GroupPromoteRequest, result *paktypes.PromoteResult) {
	member := req.Source.String()

	validationPaths := []string{}
	if !req.Source.IsGroup() {
		paths, err := e.content.ListAll(ctx, req.Source)
		if err != nil {
			e.logl.Error.Printf("promote %s -> %s: %v", member, req.TargetGroup.String(), err)
			result.Error = fmt.Sprintf("listing %s: %v", member, err)
			return
		}
		validationPaths = paths
	}

	result.Validations = e.validator.Validate(ctx, pakvalidation.Request{
		Source: req.Source,
		Target: req.TargetGroup,
		Paths:  validationPaths,
	})
	if !result.Validations.Valid && !req.DryRun {
		return
	}

	target, err := e.catalog.Get(ctx, req.TargetGroup)
	if err != nil {
		result.Error = err.Error()
		return
	}

	group, isGroup := target.(*paktypes.Group)
	if !isGroup {
		result.Error = fmt.Sprintf("%v: %s", paktypes.ErrNotAGroup, req.TargetGroup.String())
		return
	}

	// membership via a nested group doesn't count, the source lands in the target's own list
	switch {
	case group.HasConstituent(req.Source):
		result.SkippedPaths = append(result.SkippedPaths, member)
		return
	case req.DryRun:
		result.CompletedPaths = append(result.CompletedPaths, member)
		return
	}

	alreadyMember := false

	if _, err := e.catalog.Update(ctx, req.TargetGroup, func(store paktypes.ArtifactStore) (paktypes.ArtifactStore, error) {
		group, isGroup := store.(*paktypes.Group)
		if !isGroup {
			return nil, fmt.Errorf("%w: %s", paktypes.ErrNotAGroup, req.TargetGroup.String())
		}

		// added concurrently
		if alreadyMember = group.HasConstituent(req.Source); alreadyMember {
			return group, nil
		}

		return group.WithConstituents(append(append([]paktypes.StoreKey{}, group.Constituents...), req.Source)), nil
	}, paktypes.Changed("promotion", fmt.Sprintf("promoting %s into group", member))); err != nil {
		e.logl.Error.Printf("promote %s -> %s: %v", member, req.TargetGroup.String(), err)
		pend(result, member, fmt.Sprintf("updating group: %v", err))
		return
	}

	if alreadyMember {
		result.SkippedPaths = append(result.SkippedPaths, member)
		return
	}

	result.CompletedPaths = append(result.CompletedPaths, member)

	e.logl.Info.Printf("promoted %s into %s", member, req.TargetGroup.String())
}

func (e *Engine) checkGroupInput(ctx context.Context, req paktypes.GroupPromoteRequest) error {
	if req.Source == req.TargetGroup {
		return fmt.Errorf("%w: %s", ErrSameSourceAndTarget, req.Source.String())
	}

	if !req.TargetGroup.IsGroup() {
		return fmt.Errorf("%w: %s", paktypes.ErrNotAGroup, req.TargetGroup.String())
	}

	for _, key := range []paktypes.StoreKey{req.Source, req.TargetGroup} {
		if _, err := e.catalog.Get(ctx, key); err != nil {
			return err
		}
	}

	if req.Source.IsGroup() {
		reachable, err := e.resolver.ReachableKeys(ctx, req.Source)
		if err != nil {
			return err
		}

		if reachable[req.TargetGroup] {
			return fmt.Errorf("%w: %s already contains %s", ErrMembershipCycle, req.Source.String(), req.TargetGroup.String())
		}
	}

	return nil
}
