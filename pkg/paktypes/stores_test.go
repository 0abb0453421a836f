package paktypes

import (
	"testing"

	"github.com/function61/gokit/assert"
)

func TestRemotePathMasks(t *testing.T) {
	remote := NewRemoteRepository("maven", "central", "https://repo1.maven.org/maven2/")
	assert.Assert(t, remote.AllowsPath("org/foo/1.0/foo-1.0.jar"))

	remote.PathMaskPatterns = []string{"org/apache/", "r/^com/(acme|example)/.*\\.pom$/"}

	assert.Assert(t, remote.AllowsPath("org/apache/commons/1.0/commons-1.0.jar"))
	assert.Assert(t, remote.AllowsPath("com/acme/lib/1.0/lib-1.0.pom"))
	assert.Assert(t, !remote.AllowsPath("com/acme/lib/1.0/lib-1.0.jar"))
	assert.Assert(t, !remote.AllowsPath("org/foo/1.0/foo-1.0.jar"))
}

func TestGroupWithConstituentsDoesNotMutateOriginal(t *testing.T) {
	a := MustParseStoreKey("maven:hosted:a")
	b := MustParseStoreKey("maven:hosted:b")

	original := NewGroup("maven", "public", a)
	original.Metadata["foo"] = "bar"

	updated := original.WithConstituents([]StoreKey{a, b})
	updated.Metadata["foo"] = "baz"

	assert.Assert(t, len(original.Constituents) == 1)
	assert.Assert(t, len(updated.Constituents) == 2)
	assert.Assert(t, updated.HasConstituent(b))
	assert.Assert(t, !original.HasConstituent(b))
	assert.EqualString(t, original.Metadata["foo"], "bar")
}

func TestWithMetadataCopies(t *testing.T) {
	hosted := NewHostedRepository("maven", "build-1")

	tagged := WithMetadata(hosted, MetadataImpliedStores, "maven:remote:x")

	assert.EqualString(t, tagged.Meta()[MetadataImpliedStores], "maven:remote:x")
	assert.EqualString(t, hosted.Metadata[MetadataImpliedStores], "")
	assert.Assert(t, tagged.StoreKey() == hosted.Key)
}
