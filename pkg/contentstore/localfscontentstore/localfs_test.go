package localfscontentstore

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
)

var ctx = context.Background()

func TestStoreFetchCopyList(t *testing.T) {
	root := t.TempDir()

	driver := New(root, nil)

	assert.Assert(t, driver.Mountable(ctx) != nil)
	assert.Assert(t, Initialize(root) == nil)
	assert.Assert(t, driver.Mountable(ctx) == nil)

	assert.Assert(t, driver.RawStore(ctx, "maven/hosted/build-1/a/1.jar", strings.NewReader("jar")) == nil)

	exists, err := driver.RawExists(ctx, "maven/hosted/build-1/a/1.jar")
	assert.Assert(t, err == nil)
	assert.Assert(t, exists)

	assert.Assert(t, driver.RawCopy(ctx, "maven/hosted/build-1/a/1.jar", "maven/hosted/shared/a/1.jar") == nil)

	content, err := driver.RawFetch(ctx, "maven/hosted/shared/a/1.jar")
	assert.Assert(t, err == nil)
	copied, _ := io.ReadAll(content)
	content.Close()
	assert.EqualString(t, string(copied), "jar")

	names, err := driver.RawList(ctx, "maven/hosted/shared/")
	assert.Assert(t, err == nil)
	sort.Strings(names)
	assert.EqualString(t, strings.Join(names, ","), "maven/hosted/shared/a/1.jar")

	names, err = driver.RawList(ctx, "maven/hosted/no-content-yet/")
	assert.Assert(t, err == nil)
	assert.Assert(t, len(names) == 0)

	assert.Assert(t, driver.RawDelete(ctx, "maven/hosted/shared/a/1.jar") == nil)
	assert.Assert(t, driver.RawDelete(ctx, "maven/hosted/shared/a/1.jar") == nil)

	_, err = driver.RawFetch(ctx, "maven/hosted/shared/a/1.jar")
	assert.Assert(t, os.IsNotExist(err))

	err = driver.RawCopy(ctx, "maven/hosted/shared/a/1.jar", "maven/hosted/x/a/1.jar")
	assert.Assert(t, os.IsNotExist(err))
}

func TestFileSha256(t *testing.T) {
	root := t.TempDir()

	driver := New(root, nil)
	assert.Assert(t, driver.RawStore(ctx, "x", strings.NewReader("hello")) == nil)

	sum, err := fileSha256(driver.getPath("x"))
	assert.Assert(t, err == nil)
	assert.EqualString(t, sum, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
}
