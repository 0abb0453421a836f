package pakadmin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/function61/pakka/pkg/pakretry"
	"github.com/function61/pakka/pkg/paktypes"
)

type storeFlags struct {
	url       string
	members   []string
	disabled  bool
	pathMasks []string
	metadata  []string // key=value
}

func (f storeFlags) build(key paktypes.StoreKey) (paktypes.ArtifactStore, error) {
	var store paktypes.ArtifactStore

	switch key.Type {
	case paktypes.StoreTypeHosted:
		store = paktypes.NewHostedRepository(key.PackageType, key.Name)
	case paktypes.StoreTypeRemote:
		if f.url == "" {
			return nil, fmt.Errorf("remote %s needs --url", key.String())
		}

		remote := paktypes.NewRemoteRepository(key.PackageType, key.Name, f.url)
		remote.PathMaskPatterns = f.pathMasks
		store = remote
	case paktypes.StoreTypeGroup:
		members := []paktypes.StoreKey{}
		for _, serialized := range f.members {
			member, err := paktypes.ParseStoreKey(serialized)
			if err != nil {
				return nil, err
			}

			if member.PackageType != key.PackageType {
				return nil, fmt.Errorf("member %s: package type differs from %s", member.String(), key.String())
			}

			members = append(members, member)
		}

		store = paktypes.NewGroup(key.PackageType, key.Name, members...)
	default:
		return nil, fmt.Errorf("%w: %s", paktypes.ErrMalformedStoreKey, key.String())
	}

	if f.url != "" && key.Type != paktypes.StoreTypeRemote {
		return nil, fmt.Errorf("--url only applies to remotes")
	}

	if len(f.members) > 0 && key.Type != paktypes.StoreTypeGroup {
		return nil, fmt.Errorf("--member only applies to groups")
	}

	for _, pair := range f.metadata {
		metaKey, value, found := strings.Cut(pair, "=")
		if !found || metaKey == "" {
			return nil, fmt.Errorf("metadata not in key=value form: %q", pair)
		}

		store.Meta()[metaKey] = value
	}

	if f.disabled {
		store = withDisabled(store)
	}

	return store, nil
}

func withDisabled(store paktypes.ArtifactStore) paktypes.ArtifactStore {
	switch s := store.(type) {
	case *paktypes.HostedRepository:
		s.Disabled = true
	case *paktypes.RemoteRepository:
		s.Disabled = true
	case *paktypes.Group:
		s.Disabled = true
	}
	return store
}

type storeCatalog interface {
	paktypes.StoreDataManager
}

// creates or replaces. replacing keeps metadata the catalog recorded (provenance etc.)
// unless the same key is given explicitly
func putStore(ctx context.Context, catalog storeCatalog, store paktypes.ArtifactStore, user string) (bool, error) {
	changed := false

	err := pakretry.Do(ctx, func(ctx context.Context) error {
		toStore := paktypes.CopyStore(store)

		existing, err := catalog.Get(ctx, store.StoreKey())
		switch {
		case errors.Is(err, paktypes.ErrStoreNotFound):
			toStore = paktypes.WithCatalogVersion(toStore, 0)
		case err != nil:
			return err
		default:
			for metaKey, value := range existing.Meta() {
				if _, set := toStore.Meta()[metaKey]; !set {
					toStore.Meta()[metaKey] = value
				}
			}

			toStore = paktypes.WithCatalogVersion(toStore, existing.CatalogVersion())
		}

		changed, err = catalog.Store(ctx, toStore, paktypes.Changed(user, "store put"))
		return err
	})

	return changed, err
}
