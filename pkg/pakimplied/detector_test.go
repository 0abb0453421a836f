package pakimplied

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/pakka/pkg/paktypes"
)

func TestDetectorCreatesImpliedStoresAndGrowsGroups(t *testing.T) {
	catalog := openTestCatalog(t,
		paktypes.NewHostedRepository("maven", "build-1"),
		paktypes.NewRemoteRepository("maven", "central", "https://repo.maven.apache.org/maven2/"),
		paktypes.NewGroup("maven", "public", key("maven:remote:central"), key("maven:hosted:build-1")))

	descriptors := &memoryDescriptors{
		"maven:hosted:build-1/org/example/app/1.0/app-1.0.pom": jbossPom,
	}

	detector := NewDetector(catalog, descriptors, newTestMaintainer(catalog), nil)

	implied, err := detector.OnDescriptorStored(ctx, key("maven:hosted:build-1"), "org/example/app/1.0/app-1.0.pom")
	assert.Assert(t, err == nil)
	assert.EqualString(
		t,
		paktypes.FormatStoreKeyList(implied),
		"maven:remote:i-jboss,maven:remote:i-nightlies")

	build1, err := catalog.Get(ctx, key("maven:hosted:build-1"))
	assert.Assert(t, err == nil)
	assert.EqualString(t, build1.Meta()[paktypes.MetadataImpliedStores], "maven:remote:i-jboss,maven:remote:i-nightlies")

	jboss, err := catalog.Get(ctx, key("maven:remote:i-jboss"))
	assert.Assert(t, err == nil)
	assert.EqualString(t, jboss.Meta()[paktypes.MetadataImpliedByStores], "maven:hosted:build-1")
	assert.EqualString(t, jboss.Meta()[paktypes.MetadataOrigin], "implied")

	public, err := catalog.GetGroup(ctx, key("maven:group:public"))
	assert.Assert(t, err == nil)
	assert.EqualString(
		t,
		paktypes.FormatStoreKeyList(public.Constituents),
		"maven:remote:central,maven:hosted:build-1,maven:remote:i-jboss,maven:remote:i-nightlies")

	// same descriptor again is deduplicated
	implied, err = detector.OnDescriptorStored(ctx, key("maven:hosted:build-1"), "org/example/app/1.0/app-1.0.pom")
	assert.Assert(t, err == nil)
	assert.Assert(t, len(implied) == 0)
}

func TestDetectorReusesRemoteWithSameURL(t *testing.T) {
	catalog := openTestCatalog(t,
		paktypes.NewHostedRepository("maven", "build-1"),
		paktypes.NewRemoteRepository("maven", "jboss-by-hand", "https://REPOSITORY.jboss.org/maven2"))

	descriptors := &memoryDescriptors{
		"maven:hosted:build-1/app.pom": `<project>
	<repositories>
		<repository><id>jboss</id><url>https://repository.jboss.org/maven2/</url></repository>
	</repositories>
</project>`,
	}

	detector := NewDetector(catalog, descriptors, newTestMaintainer(catalog), nil)

	implied, err := detector.OnDescriptorStored(ctx, key("maven:hosted:build-1"), "app.pom")
	assert.Assert(t, err == nil)
	assert.EqualString(t, paktypes.FormatStoreKeyList(implied), "maven:remote:jboss-by-hand")

	_, err = catalog.Get(ctx, key("maven:remote:i-jboss"))
	assert.Assert(t, err != nil)
}

func TestDetectorReprocessesChangedDescriptor(t *testing.T) {
	catalog := openTestCatalog(t, paktypes.NewHostedRepository("maven", "build-1"))

	descriptors := &memoryDescriptors{
		"maven:hosted:build-1/app.pom": `<project>
	<repositories>
		<repository><id>jboss</id><url>https://repository.jboss.org/maven2/</url></repository>
	</repositories>
</project>`,
	}

	detector := NewDetector(catalog, descriptors, newTestMaintainer(catalog), nil)

	implied, err := detector.OnDescriptorStored(ctx, key("maven:hosted:build-1"), "app.pom")
	assert.Assert(t, err == nil)
	assert.EqualString(t, paktypes.FormatStoreKeyList(implied), "maven:remote:i-jboss")

	// re-uploaded with another repository
	(*descriptors)["maven:hosted:build-1/app.pom"] = `<project>
	<repositories>
		<repository><id>jboss</id><url>https://repository.jboss.org/maven2/</url></repository>
		<repository><id>spring</id><url>https://repo.spring.io/release/</url></repository>
	</repositories>
</project>`

	implied, err = detector.OnDescriptorStored(ctx, key("maven:hosted:build-1"), "app.pom")
	assert.Assert(t, err == nil)
	assert.EqualString(t, paktypes.FormatStoreKeyList(implied), "maven:remote:i-jboss,maven:remote:i-spring")

	build1, err := catalog.Get(ctx, key("maven:hosted:build-1"))
	assert.Assert(t, err == nil)
	assert.EqualString(t, build1.Meta()[paktypes.MetadataImpliedStores], "maven:remote:i-jboss,maven:remote:i-spring")

	// unchanged content is deduplicated
	implied, err = detector.OnDescriptorStored(ctx, key("maven:hosted:build-1"), "app.pom")
	assert.Assert(t, err == nil)
	assert.Assert(t, len(implied) == 0)
}

func TestDetectorIgnoresNonDescriptors(t *testing.T) {
	catalog := openTestCatalog(t, paktypes.NewHostedRepository("maven", "build-1"))

	detector := NewDetector(catalog, &memoryDescriptors{}, newTestMaintainer(catalog), nil)

	implied, err := detector.OnDescriptorStored(ctx, key("maven:hosted:build-1"), "org/example/app/1.0/app-1.0.jar")
	assert.Assert(t, err == nil)
	assert.Assert(t, len(implied) == 0)

	// a descriptor that isn't there is an error
	_, err = detector.OnDescriptorStored(ctx, key("maven:hosted:build-1"), "missing.pom")
	assert.Assert(t, errors.Is(err, os.ErrNotExist))
}

// "<store key>/<path>" => content
type memoryDescriptors map[string]string

func (m *memoryDescriptors) Open(_ context.Context, store paktypes.StoreKey, path string) (io.ReadCloser, error) {
	content, found := (*m)[store.String()+"/"+path]
	if !found {
		return nil, os.ErrNotExist
	}

	return io.NopCloser(strings.NewReader(content)), nil
}
