// The store/group catalog: the single shared mutable resource. Every mutation is a full
// read-modify-publish cycle guarded by an optimistic version check
package pakcatalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"

	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/blorm"
	"github.com/function61/pakka/pkg/pakdb"
	"github.com/function61/pakka/pkg/pakretry"
	"github.com/function61/pakka/pkg/paktypes"
	"go.etcd.io/bbolt"
)

// gets to inspect (and replace) a store image before it is published. "old" is nil for
// new stores. runs outside of the write transaction, so it may read the catalog
type PreUpdateListener func(
	ctx context.Context,
	old paktypes.ArtifactStore,
	updated paktypes.ArtifactStore,
	summary paktypes.ChangeSummary,
) (paktypes.ArtifactStore, error)

type Catalog struct {
	db          *bbolt.DB
	logl        *logex.Leveled
	listenersMu sync.Mutex
	listeners   []PreUpdateListener
}

var _ paktypes.StoreDataManager = (*Catalog)(nil)

func New(db *bbolt.DB, logger *log.Logger) *Catalog {
	return &Catalog{
		db:   db,
		logl: logex.Levels(logex.NonNil(logger)),
	}
}

func (c *Catalog) OnPreUpdate(listener PreUpdateListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.listeners = append(c.listeners, listener)
}

func (c *Catalog) Get(ctx context.Context, key paktypes.StoreKey) (paktypes.ArtifactStore, error) {
	var store paktypes.ArtifactStore

	if err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		store, err = pakdb.Read(tx).Store(key)
		return err
	}); err != nil {
		return nil, wrapReadError(key, err)
	}

	return store, nil
}

// convenience for callers that require a group
func (c *Catalog) GetGroup(ctx context.Context, key paktypes.StoreKey) (*paktypes.Group, error) {
	store, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	group, isGroup := store.(*paktypes.Group)
	if !isGroup {
		return nil, fmt.Errorf("%w: %s", paktypes.ErrNotAGroup, key.String())
	}

	return group, nil
}

// publishes the store. the store must carry the version it was read with (zero for new
// stores), otherwise paktypes.ErrVersionConflict is returned. returns false if the
// stored image was already identical
func (c *Catalog) Store(
	ctx context.Context,
	store paktypes.ArtifactStore,
	summary paktypes.ChangeSummary,
) (bool, error) {
	key := store.StoreKey()

	if !key.Type.Valid() || key.PackageType == "" || key.Name == "" {
		return false, fmt.Errorf("%w: %q", paktypes.ErrMalformedStoreKey, key.String())
	}

	old, err := c.Get(ctx, key)
	if err != nil && !errors.Is(err, paktypes.ErrStoreNotFound) {
		return false, err
	}

	if err := checkVersion(key, old, store.CatalogVersion()); err != nil {
		return false, err
	}

	toPublish := paktypes.CopyStore(store)

	for _, listener := range c.listenersSnapshot() {
		toPublish, err = listener(ctx, old, toPublish, summary)
		if err != nil {
			return false, fmt.Errorf("pre-update %s: %w", key.String(), err)
		}
	}

	changed := false

	if err := c.db.Update(func(tx *bbolt.Tx) error {
		current, err := pakdb.Read(tx).Store(key)
		if err != nil && err != blorm.ErrNotFound {
			return err
		}
		if err == blorm.ErrNotFound {
			current = nil
		}

		// someone published between our read and this write transaction
		if err := checkVersion(key, current, store.CatalogVersion()); err != nil {
			return err
		}

		if current != nil && sameContent(current, toPublish) {
			return nil
		}

		changed = true

		return pakdb.StoreRepository.Update(pakdb.StoreToRecord(paktypes.WithCatalogVersion(
			toPublish,
			store.CatalogVersion()+1)), tx)
	}); err != nil {
		if errors.Is(err, paktypes.ErrVersionConflict) {
			return false, err
		}

		return false, fmt.Errorf("%w: storing %s: %w", paktypes.ErrDataAccess, key.String(), err)
	}

	if changed {
		c.logl.Debug.Printf("stored %s (%s by %s)", key.String(), summary.Summary, summary.User)
	}

	return changed, nil
}

// read-modify-publish with retries on transient conflicts. "mutate" receives a fresh
// copy on each attempt
func (c *Catalog) Update(
	ctx context.Context,
	key paktypes.StoreKey,
	mutate func(store paktypes.ArtifactStore) (paktypes.ArtifactStore, error),
	summary paktypes.ChangeSummary,
) (bool, error) {
	changed := false

	err := pakretry.DoWithPolicy(ctx, pakretry.DefaultPolicy(), func(ctx context.Context) error {
		current, err := c.Get(ctx, key)
		if err != nil {
			return err
		}

		updated, err := mutate(paktypes.CopyStore(current))
		if err != nil {
			return err
		}

		changed, err = c.Store(ctx, updated, summary)
		return err
	}, func(attempt int, err error) {
		c.logl.Info.Printf("update %s attempt %d: %v", key.String(), attempt, err)
	})

	return changed, err
}

func (c *Catalog) Delete(ctx context.Context, key paktypes.StoreKey, summary paktypes.ChangeSummary) error {
	if err := c.db.Update(func(tx *bbolt.Tx) error {
		return pakdb.StoreRepository.Delete(&pakdb.StoreRecord{Key: key.String()}, tx)
	}); err != nil {
		return wrapReadError(key, err)
	}

	c.logl.Info.Printf("deleted %s (%s by %s)", key.String(), summary.Summary, summary.User)

	return nil
}

func (c *Catalog) GroupsContaining(ctx context.Context, key paktypes.StoreKey) ([]*paktypes.Group, error) {
	var groups []*paktypes.Group

	if err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		groups, err = pakdb.Read(tx).GroupsContaining(key)
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: groups containing %s: %w", paktypes.ErrDataAccess, key.String(), err)
	}

	return groups, nil
}

func (c *Catalog) All(ctx context.Context) ([]paktypes.ArtifactStore, error) {
	var stores []paktypes.ArtifactStore

	if err := c.db.View(func(tx *bbolt.Tx) error {
		var err error
		stores, err = pakdb.Read(tx).Stores()
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: listing stores: %w", paktypes.ErrDataAccess, err)
	}

	return stores, nil
}

func (c *Catalog) Query(ctx context.Context, typ paktypes.StoreType) ([]paktypes.ArtifactStore, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}

	matching := []paktypes.ArtifactStore{}
	for _, store := range all {
		if store.StoreKey().Type == typ {
			matching = append(matching, store)
		}
	}

	return matching, nil
}

func (c *Catalog) Groups(ctx context.Context) ([]*paktypes.Group, error) {
	stores, err := c.Query(ctx, paktypes.StoreTypeGroup)
	if err != nil {
		return nil, err
	}

	groups := make([]*paktypes.Group, 0, len(stores))
	for _, store := range stores {
		groups = append(groups, store.(*paktypes.Group))
	}

	return groups, nil
}

func (c *Catalog) listenersSnapshot() []PreUpdateListener {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	return append([]PreUpdateListener{}, c.listeners...)
}

func checkVersion(key paktypes.StoreKey, current paktypes.ArtifactStore, expectedVersion uint64) error {
	currentVersion := uint64(0)
	if current != nil {
		currentVersion = current.CatalogVersion()
	}

	if currentVersion != expectedVersion {
		return fmt.Errorf(
			"%w: %s is at version %d, update was based on %d",
			paktypes.ErrVersionConflict,
			key.String(),
			currentVersion,
			expectedVersion)
	}

	return nil
}

func sameContent(a paktypes.ArtifactStore, b paktypes.ArtifactStore) bool {
	recordA := pakdb.StoreToRecord(paktypes.WithCatalogVersion(a, 0))
	recordB := pakdb.StoreToRecord(paktypes.WithCatalogVersion(b, 0))

	return reflect.DeepEqual(normalize(recordA), normalize(recordB))
}

// nil and empty collections are the same thing once persisted
func normalize(record *pakdb.StoreRecord) *pakdb.StoreRecord {
	if len(record.Metadata) == 0 {
		record.Metadata = nil
	}
	if len(record.PathMaskPatterns) == 0 {
		record.PathMaskPatterns = nil
	}
	if len(record.Constituents) == 0 {
		record.Constituents = nil
	}
	return record
}

func wrapReadError(key paktypes.StoreKey, err error) error {
	if err == blorm.ErrNotFound {
		return fmt.Errorf("%w: %s", paktypes.ErrStoreNotFound, key.String())
	}

	return fmt.Errorf("%w: %s: %w", paktypes.ErrDataAccess, key.String(), err)
}
