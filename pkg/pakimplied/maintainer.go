// Keeps group membership in sync with repositories implied by descriptors (e.g. Maven POM
// <repository> declarations) found in the group's members
package pakimplied

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/mutexmap"
	"github.com/function61/pakka/pkg/pakgroups"
	"github.com/function61/pakka/pkg/pakretry"
	"github.com/function61/pakka/pkg/paktypes"
)

// what the maintainer and detector need from the catalog
type Catalog interface {
	paktypes.StoreDataManager
	Query(ctx context.Context, typ paktypes.StoreType) ([]paktypes.ArtifactStore, error)
	Update(
		ctx context.Context,
		key paktypes.StoreKey,
		mutate func(store paktypes.ArtifactStore) (paktypes.ArtifactStore, error),
		summary paktypes.ChangeSummary,
	) (bool, error)
}

// state of one maintenance run. never persisted
type ImpliedRepoMaintJob struct {
	Group   *paktypes.Group
	Members []paktypes.ArtifactStore
	// everything already in the group's transitive membership. implied keys found here
	// are not added again
	ReachableMembers map[paktypes.StoreKey]bool
	Added            []paktypes.StoreKey
	scanned          map[paktypes.StoreKey]bool
}

type Maintainer struct {
	catalog  Catalog
	resolver *pakgroups.Resolver
	scanner  paktypes.DescriptorScanner
	running  *mutexmap.M[paktypes.StoreKey]
	logl     *logex.Leveled
}

func NewMaintainer(
	catalog Catalog,
	resolver *pakgroups.Resolver,
	scanner paktypes.DescriptorScanner,
	logger *log.Logger,
) *Maintainer {
	return &Maintainer{
		catalog:  catalog,
		resolver: resolver,
		scanner:  scanner,
		running:  mutexmap.New[paktypes.StoreKey](),
		logl:     logex.Levels(logex.NonNil(logger)),
	}
}

// grows the group's membership until no member implies anything new. idempotent.
// returns paktypes.ErrBusy if a run for the same group is in progress
func (m *Maintainer) MaintainImpliedRepos(ctx context.Context, groupKey paktypes.StoreKey) ([]paktypes.StoreKey, error) {
	release, err := m.running.TryLockOrBusy(groupKey)
	if err != nil {
		return nil, err
	}
	defer release()

	var added []paktypes.StoreKey

	if err := pakretry.Do(ctx, func(ctx context.Context) error {
		added = nil

		store, err := m.catalog.Get(ctx, groupKey)
		if err != nil {
			return err
		}

		group, isGroup := store.(*paktypes.Group)
		if !isGroup {
			return fmt.Errorf("%w: %s", paktypes.ErrNotAGroup, groupKey.String())
		}

		job, err := m.processImpliedRepos(ctx, group)
		if err != nil {
			return err
		}

		if len(job.Added) == 0 {
			return nil
		}

		if _, err := m.catalog.Store(ctx, job.Group, paktypes.ChangeSummary{
			User:               paktypes.AddedByImpliedMaintenance,
			Summary:            fmt.Sprintf("adding implied stores: %s", paktypes.FormatStoreKeyList(job.Added)),
			ImpliedMaintenance: true,
		}); err != nil {
			return err
		}

		added = job.Added

		return nil
	}); err != nil {
		return nil, fmt.Errorf("MaintainImpliedRepos %s: %w", groupKey.String(), err)
	}

	if len(added) > 0 {
		m.logl.Info.Printf("%s: added implied %s", groupKey.String(), paktypes.FormatStoreKeyList(added))
	}

	return added, nil
}

// maintains every group once. one group failing doesn't stop the rest
func (m *Maintainer) RunAll(ctx context.Context) error {
	groups, err := m.catalog.Query(ctx, paktypes.StoreTypeGroup)
	if err != nil {
		return err
	}

	errs := []error{}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := m.MaintainImpliedRepos(ctx, group.StoreKey()); err != nil {
			m.logl.Error.Println(err.Error())
			errs = append(errs, err)
		}
	}

	m.logl.Info.Printf("RunAll: %d group(s), %d failure(s)", len(groups), len(errs))

	return errors.Join(errs...)
}

// catalog pre-update listener: a group whose membership is about to change gets the
// closure computed on its new image, so implied stores are published along with the change
func (m *Maintainer) OnGroupPreUpdate(
	ctx context.Context,
	old paktypes.ArtifactStore,
	updated paktypes.ArtifactStore,
	summary paktypes.ChangeSummary,
) (paktypes.ArtifactStore, error) {
	group, isGroup := updated.(*paktypes.Group)
	if !isGroup || summary.ImpliedMaintenance {
		return updated, nil
	}

	if oldGroup, wasGroup := old.(*paktypes.Group); wasGroup && sameMembership(oldGroup, group) {
		return updated, nil
	}

	job, err := m.processImpliedRepos(ctx, group)
	if err != nil {
		return nil, err
	}

	if len(job.Added) > 0 {
		m.logl.Info.Printf(
			"%s: implied %s along with membership change",
			group.Key.String(),
			paktypes.FormatStoreKeyList(job.Added))
	}

	return job.Group, nil
}

// the fixpoint closure. job.Group holds the grown image (a copy) when done
func (m *Maintainer) processImpliedRepos(ctx context.Context, group *paktypes.Group) (*ImpliedRepoMaintJob, error) {
	job, err := m.newJob(ctx, group)
	if err != nil {
		return nil, err
	}

	constituents := append([]paktypes.StoreKey{}, group.Constituents...)

	for {
		grew := false

		// later iterations see members appended by earlier ones
		for _, member := range append([]paktypes.ArtifactStore{}, job.Members...) {
			if job.scanned[member.StoreKey()] {
				continue
			}
			job.scanned[member.StoreKey()] = true

			implied, err := m.scanner.ImpliedStores(ctx, member)
			if err != nil {
				m.logl.Error.Printf("%s: scanning %s: %v", group.Key.String(), member.StoreKey().String(), err)
				continue
			}

			for _, impliedKey := range implied {
				if job.ReachableMembers[impliedKey] {
					continue
				}

				impliedStore, err := m.catalog.Get(ctx, impliedKey)
				if err != nil { // retried on next trigger
					m.logl.Error.Printf(
						"%s: implied by %s: %v",
						group.Key.String(),
						member.StoreKey().String(),
						err)
					continue
				}

				job.ReachableMembers[impliedKey] = true
				job.Members = append(job.Members, impliedStore)
				job.Added = append(job.Added, impliedKey)
				constituents = append(constituents, impliedKey)

				grew = true
			}
		}

		if !grew {
			break
		}
	}

	if len(job.Added) > 0 {
		grown := group.WithConstituents(constituents)
		for _, added := range job.Added {
			grown.Metadata[paktypes.AddedByKey(added)] = paktypes.AddedByImpliedMaintenance
		}

		job.Group = grown
	}

	return job, nil
}

func (m *Maintainer) newJob(ctx context.Context, group *paktypes.Group) (*ImpliedRepoMaintJob, error) {
	reachable, err := m.resolver.ReachableFrom(ctx, group)
	if err != nil {
		return nil, err
	}

	members := []paktypes.ArtifactStore{}
	for _, memberKey := range group.Constituents {
		member, err := m.catalog.Get(ctx, memberKey)
		if err != nil {
			if errors.Is(err, paktypes.ErrStoreNotFound) {
				continue
			}

			return nil, err
		}

		members = append(members, member)
	}

	return &ImpliedRepoMaintJob{
		Group:            group,
		Members:          members,
		ReachableMembers: reachable,
		scanned:          map[paktypes.StoreKey]bool{},
	}, nil
}

func sameMembership(a *paktypes.Group, b *paktypes.Group) bool {
	if len(a.Constituents) != len(b.Constituents) {
		return false
	}

	for i := range a.Constituents {
		if a.Constituents[i] != b.Constituents[i] {
			return false
		}
	}

	return true
}
