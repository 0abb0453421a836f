package paktypes

import (
	"regexp"
	"strings"
)

// metadata keys used for provenance
const (
	MetadataImpliedStores   = "implied-stores"    // on origin store: stores its descriptors declared
	MetadataImpliedByStores = "implied-by-stores" // on implied store: stores whose descriptors declared it
	MetadataOrigin          = "origin"
	MetadataFoundInRepo     = "found-in-repo"
	MetadataAddedBy         = "added-by"

	OriginImplied             = "implied"
	AddedByImpliedMaintenance = "implied-repo-maintainer"
)

// group metadata key recording who appended "member" to the group
func AddedByKey(member StoreKey) string {
	return MetadataAddedBy + ":" + member.String()
}

// polymorphic over *HostedRepository, *RemoteRepository and *Group
type ArtifactStore interface {
	StoreKey() StoreKey
	IsDisabled() bool
	Meta() map[string]string
	// catalog's optimistic concurrency counter. zero for never-stored
	CatalogVersion() uint64
	// returns deep copy with version set. stores are never mutated after being published
	withVersion(version uint64) ArtifactStore
}

type StoreBase struct {
	Key      StoreKey
	Disabled bool
	Metadata map[string]string
	Version  uint64
}

func (s *StoreBase) StoreKey() StoreKey {
	return s.Key
}

func (s *StoreBase) IsDisabled() bool {
	return s.Disabled
}

func (s *StoreBase) Meta() map[string]string {
	return s.Metadata
}

func (s *StoreBase) CatalogVersion() uint64 {
	return s.Version
}

func (s StoreBase) copyBase(version uint64) StoreBase {
	metadata := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		metadata[k] = v
	}

	return StoreBase{
		Key:      s.Key,
		Disabled: s.Disabled,
		Metadata: metadata,
		Version:  version,
	}
}

type HostedRepository struct {
	StoreBase
}

func NewHostedRepository(packageType string, name string) *HostedRepository {
	return &HostedRepository{StoreBase{
		Key:      NewStoreKey(packageType, StoreTypeHosted, name),
		Metadata: map[string]string{},
	}}
}

func (h *HostedRepository) withVersion(version uint64) ArtifactStore {
	return &HostedRepository{h.StoreBase.copyBase(version)}
}

type RemoteRepository struct {
	StoreBase
	URL                    string
	MetadataTimeoutSeconds int
	PathMaskPatterns       []string // empty = proxies everything
}

func NewRemoteRepository(packageType string, name string, url string) *RemoteRepository {
	return &RemoteRepository{
		StoreBase: StoreBase{
			Key:      NewStoreKey(packageType, StoreTypeRemote, name),
			Metadata: map[string]string{},
		},
		URL: url,
	}
}

func (r *RemoteRepository) withVersion(version uint64) ArtifactStore {
	return &RemoteRepository{
		StoreBase:              r.StoreBase.copyBase(version),
		URL:                    r.URL,
		MetadataTimeoutSeconds: r.MetadataTimeoutSeconds,
		PathMaskPatterns:       append([]string{}, r.PathMaskPatterns...),
	}
}

// masks are either path prefixes or regexes in form "r/<regex>/"
func (r *RemoteRepository) AllowsPath(path string) bool {
	if len(r.PathMaskPatterns) == 0 {
		return true
	}

	for _, mask := range r.PathMaskPatterns {
		if strings.HasPrefix(mask, "r/") && strings.HasSuffix(mask, "/") && len(mask) > 3 {
			re, err := regexp.Compile(mask[2 : len(mask)-1])
			if err != nil { // bad masks never match
				continue
			}

			if re.MatchString(path) {
				return true
			}

			continue
		}

		if strings.HasPrefix(path, mask) {
			return true
		}
	}

	return false
}

type Group struct {
	StoreBase
	Constituents []StoreKey // order determines priority
}

func NewGroup(packageType string, name string, constituents ...StoreKey) *Group {
	return &Group{
		StoreBase: StoreBase{
			Key:      NewStoreKey(packageType, StoreTypeGroup, name),
			Metadata: map[string]string{},
		},
		Constituents: append([]StoreKey{}, constituents...),
	}
}

func (g *Group) withVersion(version uint64) ArtifactStore {
	return &Group{
		StoreBase:    g.StoreBase.copyBase(version),
		Constituents: append([]StoreKey{}, g.Constituents...),
	}
}

// returns a copy having the given membership. readers holding the old *Group never
// see a half-updated list
func (g *Group) WithConstituents(constituents []StoreKey) *Group {
	cp := g.withVersion(g.Version).(*Group)
	cp.Constituents = append([]StoreKey{}, constituents...)
	return cp
}

func (g *Group) HasConstituent(key StoreKey) bool {
	for _, member := range g.Constituents {
		if member == key {
			return true
		}
	}

	return false
}

// deep copy, so callers can modify the result before storing it
func CopyStore(store ArtifactStore) ArtifactStore {
	return store.withVersion(store.CatalogVersion())
}

// used by the catalog when publishing a new image
func WithCatalogVersion(store ArtifactStore, version uint64) ArtifactStore {
	return store.withVersion(version)
}

// returns a copy with metadata key set
func WithMetadata(store ArtifactStore, key string, value string) ArtifactStore {
	cp := CopyStore(store)
	cp.Meta()[key] = value
	return cp
}
