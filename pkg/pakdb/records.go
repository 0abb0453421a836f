package pakdb

import (
	"fmt"
	"time"

	"github.com/function61/pakka/pkg/paktypes"
)

// flat persisted form of paktypes.ArtifactStore (the interface can't be msgpack'd)
type StoreRecord struct {
	Key                    string // primary key, StoreKey.String()
	PackageType            string
	Type                   string
	Name                   string
	Disabled               bool
	Metadata               map[string]string
	Version                uint64
	URL                    string   `msgpack:",omitempty"`
	MetadataTimeoutSeconds int      `msgpack:",omitempty"`
	PathMaskPatterns       []string `msgpack:",omitempty"`
	Constituents           []string `msgpack:",omitempty"`
}

type RuleSetRecord struct {
	Name    string
	RuleSet paktypes.RuleSet
}

type PromotionStatus string

const (
	PromotionStatusAccepted   PromotionStatus = "accepted"
	PromotionStatusCompleted  PromotionStatus = "completed"
	PromotionStatusFailed     PromotionStatus = "failed"
	PromotionStatusRolledBack PromotionStatus = "rolled-back"
)

type PromotionRecord struct {
	ID       string
	Created  time.Time
	Finished time.Time
	Status   PromotionStatus
	Result   paktypes.PromoteResult
	// exactly one is set. kept so the promotion can be resumed
	PathsRequest *paktypes.PathsPromoteRequest `msgpack:",omitempty"`
	GroupRequest *paktypes.GroupPromoteRequest `msgpack:",omitempty"`
}

type Config struct {
	Key   string
	Value string
}

func StoreToRecord(store paktypes.ArtifactStore) *StoreRecord {
	key := store.StoreKey()

	record := &StoreRecord{
		Key:         key.String(),
		PackageType: key.PackageType,
		Type:        string(key.Type),
		Name:        key.Name,
		Disabled:    store.IsDisabled(),
		Metadata:    store.Meta(),
		Version:     store.CatalogVersion(),
	}

	switch s := store.(type) {
	case *paktypes.RemoteRepository:
		record.URL = s.URL
		record.MetadataTimeoutSeconds = s.MetadataTimeoutSeconds
		record.PathMaskPatterns = s.PathMaskPatterns
	case *paktypes.Group:
		for _, member := range s.Constituents {
			record.Constituents = append(record.Constituents, member.String())
		}
	}

	return record
}

func RecordToStore(record *StoreRecord) (paktypes.ArtifactStore, error) {
	key := paktypes.NewStoreKey(record.PackageType, paktypes.StoreType(record.Type), record.Name)

	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	base := paktypes.StoreBase{
		Key:      key,
		Disabled: record.Disabled,
		Metadata: metadata,
		Version:  record.Version,
	}

	switch key.Type {
	case paktypes.StoreTypeHosted:
		return &paktypes.HostedRepository{StoreBase: base}, nil
	case paktypes.StoreTypeRemote:
		return &paktypes.RemoteRepository{
			StoreBase:              base,
			URL:                    record.URL,
			MetadataTimeoutSeconds: record.MetadataTimeoutSeconds,
			PathMaskPatterns:       record.PathMaskPatterns,
		}, nil
	case paktypes.StoreTypeGroup:
		constituents := make([]paktypes.StoreKey, 0, len(record.Constituents))
		for _, member := range record.Constituents {
			memberKey, err := paktypes.ParseStoreKey(member)
			if err != nil {
				return nil, fmt.Errorf("group %s: %w", record.Key, err)
			}

			constituents = append(constituents, memberKey)
		}

		return &paktypes.Group{StoreBase: base, Constituents: constituents}, nil
	default:
		return nil, fmt.Errorf("%w: record %s has unknown type %q", paktypes.ErrMalformedStoreKey, record.Key, record.Type)
	}
}
