// Flattens (possibly nested, possibly cyclic) group graphs into ordered store lists
package pakgroups

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/samber/lo"
)

var ErrPathNotFound = errors.New("no member of the group has the path")

type Resolver struct {
	stores paktypes.StoreDataManager
	logl   *logex.Leveled
}

func NewResolver(stores paktypes.StoreDataManager, logger *log.Logger) *Resolver {
	return &Resolver{
		stores: stores,
		logl:   logex.Levels(logex.NonNil(logger)),
	}
}

// direct members, in configured order. dangling member keys are skipped
func (r *Resolver) ResolveOrdered(ctx context.Context, groupKey paktypes.StoreKey) ([]paktypes.ArtifactStore, error) {
	group, err := r.group(ctx, groupKey)
	if err != nil {
		return nil, err
	}

	members := []paktypes.ArtifactStore{}

	for _, memberKey := range group.Constituents {
		member, err := r.lookup(ctx, groupKey, memberKey)
		if err != nil {
			return nil, err
		}

		if member != nil {
			members = append(members, member)
		}
	}

	return members, nil
}

// depth-first, left-to-right flattening. nested groups are expanded in place and each
// store is returned at most once (first occurrence wins)
func (r *Resolver) ResolveOrderedConcrete(ctx context.Context, groupKey paktypes.StoreKey) ([]paktypes.ArtifactStore, error) {
	concrete := []paktypes.ArtifactStore{}

	if err := r.walk(ctx, groupKey, func(_ paktypes.StoreKey, store paktypes.ArtifactStore) {
		if store != nil && !store.StoreKey().IsGroup() {
			concrete = append(concrete, store)
		}
	}); err != nil {
		return nil, err
	}

	return concrete, nil
}

func (r *Resolver) ResolveOrderedConcreteKeys(ctx context.Context, groupKey paktypes.StoreKey) ([]paktypes.StoreKey, error) {
	concrete, err := r.ResolveOrderedConcrete(ctx, groupKey)
	if err != nil {
		return nil, err
	}

	return lo.Map(concrete, func(store paktypes.ArtifactStore, _ int) paktypes.StoreKey {
		return store.StoreKey()
	}), nil
}

// every key found anywhere in the group's transitive membership (nested group keys and
// dangling keys included), plus the group itself
func (r *Resolver) ReachableKeys(ctx context.Context, groupKey paktypes.StoreKey) (map[paktypes.StoreKey]bool, error) {
	group, err := r.group(ctx, groupKey)
	if err != nil {
		return nil, err
	}

	return r.ReachableFrom(ctx, group)
}

// same as ReachableKeys(), but for a (possibly not yet published) group image
func (r *Resolver) ReachableFrom(ctx context.Context, group *paktypes.Group) (map[paktypes.StoreKey]bool, error) {
	reachable := map[paktypes.StoreKey]bool{
		group.Key: true,
	}

	if err := r.walkFrom(ctx, group, func(key paktypes.StoreKey, _ paktypes.ArtifactStore) {
		reachable[key] = true
	}); err != nil {
		return nil, err
	}

	return reachable, nil
}

type existenceChecker interface {
	Exists(ctx context.Context, store paktypes.StoreKey, path string) (bool, error)
}

// the first enabled concrete member that has the path. remotes whose path masks exclude
// the path are not asked
func (r *Resolver) FirstMatch(
	ctx context.Context,
	groupKey paktypes.StoreKey,
	path string,
	content existenceChecker,
) (paktypes.ArtifactStore, error) {
	concrete, err := r.ResolveOrderedConcrete(ctx, groupKey)
	if err != nil {
		return nil, err
	}

	for _, store := range concrete {
		if store.IsDisabled() {
			continue
		}

		if remote, isRemote := store.(*paktypes.RemoteRepository); isRemote && !remote.AllowsPath(path) {
			continue
		}

		exists, err := content.Exists(ctx, store.StoreKey(), path)
		if err != nil { // one unreachable member must not hide the rest
			r.logl.Error.Printf("FirstMatch %s: %s/%s: %v", groupKey.String(), store.StoreKey().String(), path, err)
			continue
		}

		if exists {
			return store, nil
		}
	}

	return nil, fmt.Errorf("%w: %s in %s", ErrPathNotFound, path, groupKey.String())
}

// visits members depth-first. "store" is nil for dangling keys. every key is visited once
func (r *Resolver) walk(
	ctx context.Context,
	groupKey paktypes.StoreKey,
	visit func(key paktypes.StoreKey, store paktypes.ArtifactStore),
) error {
	root, err := r.group(ctx, groupKey)
	if err != nil {
		return err
	}

	return r.walkFrom(ctx, root, visit)
}

func (r *Resolver) walkFrom(
	ctx context.Context,
	root *paktypes.Group,
	visit func(key paktypes.StoreKey, store paktypes.ArtifactStore),
) error {
	visited := map[paktypes.StoreKey]bool{
		root.Key: true,
	}

	var walkGroup func(group *paktypes.Group) error
	walkGroup = func(group *paktypes.Group) error {
		for _, memberKey := range group.Constituents {
			if visited[memberKey] {
				continue
			}
			visited[memberKey] = true

			member, err := r.lookup(ctx, group.Key, memberKey)
			if err != nil {
				return err
			}

			visit(memberKey, member)

			if nested, isGroup := member.(*paktypes.Group); isGroup {
				if err := walkGroup(nested); err != nil {
					return err
				}
			}
		}

		return nil
	}

	return walkGroup(root)
}

func (r *Resolver) group(ctx context.Context, groupKey paktypes.StoreKey) (*paktypes.Group, error) {
	if !groupKey.IsGroup() {
		return nil, fmt.Errorf("%w: %s", paktypes.ErrNotAGroup, groupKey.String())
	}

	store, err := r.stores.Get(ctx, groupKey)
	if err != nil {
		return nil, asDataAccessError(err)
	}

	group, isGroup := store.(*paktypes.Group)
	if !isGroup {
		return nil, fmt.Errorf("%w: %s", paktypes.ErrNotAGroup, groupKey.String())
	}

	return group, nil
}

// returns nil store (and nil error) for dangling keys
func (r *Resolver) lookup(
	ctx context.Context,
	groupKey paktypes.StoreKey,
	memberKey paktypes.StoreKey,
) (paktypes.ArtifactStore, error) {
	member, err := r.stores.Get(ctx, memberKey)
	switch {
	case err == nil:
		return member, nil
	case errors.Is(err, paktypes.ErrStoreNotFound):
		r.logl.Info.Printf("group %s: skipping missing member %s", groupKey.String(), memberKey.String())
		return nil, nil
	default:
		return nil, asDataAccessError(err)
	}
}

func asDataAccessError(err error) error {
	if errors.Is(err, paktypes.ErrDataAccess) || errors.Is(err, paktypes.ErrStoreNotFound) {
		return err
	}

	return fmt.Errorf("%w: %w", paktypes.ErrDataAccess, err)
}
