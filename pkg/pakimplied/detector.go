package pakimplied

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/golang/groupcache/lru"
	"github.com/minio/sha256-simd"
	"github.com/samber/lo"
)

const (
	seenDescriptorsCacheSize = 4096
	maxDescriptorSize        = 4 * 1024 * 1024
)

type descriptorOpener interface {
	Open(ctx context.Context, store paktypes.StoreKey, path string) (io.ReadCloser, error)
}

// finds repository declarations in stored descriptors, creates the implied remote stores
// and records provenance for the Maintainer to act on
type Detector struct {
	catalog    Catalog
	content    descriptorOpener
	maintainer *Maintainer
	creators   map[string]ImpliedRepositoryCreator
	seen       *lru.Cache // "<store>/<path>@<content sha256>" of descriptors already processed
	seenMu     sync.Mutex
	logl       *logex.Leveled
}

func NewDetector(
	catalog Catalog,
	content descriptorOpener,
	maintainer *Maintainer,
	logger *log.Logger,
) *Detector {
	return &Detector{
		catalog:    catalog,
		content:    content,
		maintainer: maintainer,
		creators:   Creators,
		seen:       lru.New(seenDescriptorsCacheSize),
		logl:       logex.Levels(logex.NonNil(logger)),
	}
}

func IsDescriptor(path string) bool {
	return strings.HasSuffix(path, ".pom")
}

// to be called by whoever owns the storage event stream after a descriptor was written.
// returns the stores the descriptor implies
func (d *Detector) OnDescriptorStored(
	ctx context.Context,
	storeKey paktypes.StoreKey,
	path string,
) ([]paktypes.StoreKey, error) {
	if !IsDescriptor(path) || storeKey.IsGroup() {
		return nil, nil
	}

	creator, found := d.creators[storeKey.PackageType]
	if !found {
		return nil, nil
	}

	descriptor, err := d.readDescriptor(ctx, storeKey, path)
	if err != nil {
		return nil, err
	}

	// re-uploaded descriptor with different content is processed again
	seenKey := fmt.Sprintf("%s/%s@%x", storeKey.String(), path, sha256.Sum256(descriptor))
	if d.alreadySeen(seenKey) {
		return nil, nil
	}

	declarations, err := ParsePomRepositories(bytes.NewReader(descriptor))
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", storeKey.String(), path, err)
	}

	implied := []paktypes.StoreKey{}

	for _, declaration := range declarations {
		impliedKey, err := d.storeFor(ctx, storeKey, creator, declaration)
		if err != nil {
			d.logl.Error.Printf("%s/%s: repository %s: %v", storeKey.String(), path, declaration.URL, err)
			continue
		}

		if impliedKey.IsZero() || impliedKey == storeKey {
			continue
		}

		implied = append(implied, impliedKey)
	}

	if len(implied) > 0 {
		if err := d.recordProvenance(ctx, storeKey, implied); err != nil {
			return nil, err
		}

		d.maintainGroupsContaining(ctx, storeKey)
	}

	d.markSeen(seenKey)

	return implied, nil
}

func (d *Detector) readDescriptor(
	ctx context.Context,
	storeKey paktypes.StoreKey,
	path string,
) ([]byte, error) {
	descriptor, err := d.content.Open(ctx, storeKey, path)
	if err != nil {
		return nil, fmt.Errorf("opening %s/%s: %w", storeKey.String(), path, err)
	}
	defer descriptor.Close()

	content, err := io.ReadAll(io.LimitReader(descriptor, maxDescriptorSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", storeKey.String(), path, err)
	}

	if len(content) > maxDescriptorSize {
		return nil, fmt.Errorf("%s/%s: descriptor larger than %d bytes", storeKey.String(), path, maxDescriptorSize)
	}

	return content, nil
}

// an existing remote with the same URL wins over creating a new one
func (d *Detector) storeFor(
	ctx context.Context,
	origin paktypes.StoreKey,
	creator ImpliedRepositoryCreator,
	declaration RepositoryDeclaration,
) (paktypes.StoreKey, error) {
	existing, err := d.remoteByURL(ctx, origin.PackageType, declaration.URL)
	if err != nil {
		return paktypes.StoreKey{}, err
	}
	if existing != nil {
		return existing.Key, nil
	}

	remote, err := creator.Create(origin, declaration)
	if err != nil || remote == nil {
		return paktypes.StoreKey{}, err
	}

	baseName := remote.Key.Name

	// name taken by a remote pointing elsewhere => try a suffixed name
	for attempt := 1; attempt <= 10; attempt++ {
		if attempt > 1 {
			remote.Key.Name = fmt.Sprintf("%s-%d", baseName, attempt)
		}

		_, err := d.catalog.Store(ctx, remote, paktypes.ChangeSummary{
			User:    paktypes.AddedByImpliedMaintenance,
			Summary: fmt.Sprintf("implied by %s", origin.String()),
		})
		switch {
		case err == nil:
			d.logl.Info.Printf("created %s for %s (implied by %s)", remote.Key.String(), remote.URL, origin.String())
			return remote.Key, nil
		case errors.Is(err, paktypes.ErrVersionConflict):
			// someone might have created the same remote concurrently
			if existing, errLookup := d.remoteByURL(ctx, origin.PackageType, declaration.URL); errLookup != nil {
				return paktypes.StoreKey{}, errLookup
			} else if existing != nil {
				return existing.Key, nil
			}
		default:
			return paktypes.StoreKey{}, err
		}
	}

	return paktypes.StoreKey{}, fmt.Errorf("no free store name for %s", baseName)
}

func (d *Detector) remoteByURL(ctx context.Context, packageType string, url string) (*paktypes.RemoteRepository, error) {
	remotes, err := d.catalog.Query(ctx, paktypes.StoreTypeRemote)
	if err != nil {
		return nil, err
	}

	for _, store := range remotes {
		remote := store.(*paktypes.RemoteRepository)
		if remote.Key.PackageType == packageType && normalizeURL(remote.URL) == normalizeURL(url) {
			return remote, nil
		}
	}

	return nil, nil
}

// origin gets "implied-stores", each implied store gets "implied-by-stores"
func (d *Detector) recordProvenance(ctx context.Context, origin paktypes.StoreKey, implied []paktypes.StoreKey) error {
	summary := paktypes.ChangeSummary{
		User:    paktypes.AddedByImpliedMaintenance,
		Summary: "recording implied stores",
	}

	if _, err := d.catalog.Update(ctx, origin, func(store paktypes.ArtifactStore) (paktypes.ArtifactStore, error) {
		return appendToKeyList(store, paktypes.MetadataImpliedStores, implied...)
	}, summary); err != nil {
		return fmt.Errorf("recordProvenance %s: %w", origin.String(), err)
	}

	for _, impliedKey := range implied {
		if _, err := d.catalog.Update(ctx, impliedKey, func(store paktypes.ArtifactStore) (paktypes.ArtifactStore, error) {
			return appendToKeyList(store, paktypes.MetadataImpliedByStores, origin)
		}, summary); err != nil {
			// origin's side is what maintenance reads
			d.logl.Error.Printf("recordProvenance %s: %v", impliedKey.String(), err)
		}
	}

	return nil
}

func (d *Detector) maintainGroupsContaining(ctx context.Context, origin paktypes.StoreKey) {
	groups, err := d.catalog.GroupsContaining(ctx, origin)
	if err != nil {
		d.logl.Error.Printf("groups containing %s: %v", origin.String(), err)
		return
	}

	for _, group := range groups {
		if _, err := d.maintainer.MaintainImpliedRepos(ctx, group.Key); err != nil {
			if errors.Is(err, paktypes.ErrBusy) { // scheduled rescan picks it up
				d.logl.Info.Printf("skipping %s: %v", group.Key.String(), err)
			} else {
				d.logl.Error.Println(err.Error())
			}
		}
	}
}

func (d *Detector) alreadySeen(key string) bool {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()

	_, seen := d.seen.Get(key)
	return seen
}

func (d *Detector) markSeen(key string) {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()

	d.seen.Add(key, true)
}

func appendToKeyList(store paktypes.ArtifactStore, metadataKey string, keys ...paktypes.StoreKey) (paktypes.ArtifactStore, error) {
	existing, err := paktypes.ParseStoreKeyList(store.Meta()[metadataKey])
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		if !lo.Contains(existing, key) {
			existing = append(existing, key)
		}
	}

	return paktypes.WithMetadata(store, metadataKey, paktypes.FormatStoreKeyList(existing)), nil
}
