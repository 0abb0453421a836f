package pakimplied

import (
	"context"

	"github.com/function61/pakka/pkg/paktypes"
)

// reads provenance recorded by the Detector. never re-parses descriptors
type MetadataScanner struct{}

var _ paktypes.DescriptorScanner = MetadataScanner{}

func (MetadataScanner) ImpliedStores(_ context.Context, member paktypes.ArtifactStore) ([]paktypes.StoreKey, error) {
	return paktypes.ParseStoreKeyList(member.Meta()[paktypes.MetadataImpliedStores])
}
