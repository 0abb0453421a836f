// Interface for writing content store backends, and the transport that maps stores'
// paths onto a backend
package contentstore

import (
	"context"
	"errors"
	"io"
)

var ErrInvalidPath = errors.New("invalid content path")

// objects are addressed by name ("<packageType>/<storeType>/<storeName>/<path>")
type Driver interface {
	// must be atomic: RawFetch() must not see a partially written object. overwrites
	RawStore(ctx context.Context, name string, content io.Reader) error

	// raw = driver doesn't do checksum verifications, they are done at a higher level.
	// if object is not found, error must report os.IsNotExist(err) == true
	RawFetch(ctx context.Context, name string) (io.ReadCloser, error)

	RawExists(ctx context.Context, name string) (bool, error)

	// deleting a non-existent object is not an error
	RawDelete(ctx context.Context, name string) error

	// names of all objects starting with prefix, in any order
	RawList(ctx context.Context, prefix string) ([]string, error)

	Mountable(ctx context.Context) error
}

// optional capability for backends that copy without streaming through us
type Copier interface {
	RawCopy(ctx context.Context, from string, to string) error
}
