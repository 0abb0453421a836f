package paktypes

import (
	"context"
	"io"
)

// describes a catalog mutation, for logging and for pre-update listeners
type ChangeSummary struct {
	User    string
	Summary string
	// set by the implied repository maintainer for its own writes, so its pre-update
	// listener doesn't re-enter
	ImpliedMaintenance bool
}

func Changed(user string, summary string) ChangeSummary {
	return ChangeSummary{User: user, Summary: summary}
}

// the store/group catalog
type StoreDataManager interface {
	// returns ErrStoreNotFound (wrapped) if missing
	Get(ctx context.Context, key StoreKey) (ArtifactStore, error)
	// publishes a new image of the store. returns false if nothing changed
	Store(ctx context.Context, store ArtifactStore, summary ChangeSummary) (bool, error)
	GroupsContaining(ctx context.Context, key StoreKey) ([]*Group, error)
}

// moves bytes around. paths are relative, slash-separated
type ContentTransport interface {
	Exists(ctx context.Context, store StoreKey, path string) (bool, error)
	Copy(ctx context.Context, from StoreKey, to StoreKey, path string) error
	Delete(ctx context.Context, store StoreKey, path string) error
	ListAll(ctx context.Context, store StoreKey) ([]string, error)
	// if not found, error must report os.IsNotExist(err) == true
	Open(ctx context.Context, store StoreKey, path string) (io.ReadCloser, error)
	Put(ctx context.Context, store StoreKey, path string, content io.Reader) error
}

// answers which stores a member implies, from previously recorded provenance
type DescriptorScanner interface {
	ImpliedStores(ctx context.Context, member ArtifactStore) ([]StoreKey, error)
}
