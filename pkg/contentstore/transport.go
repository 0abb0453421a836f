package contentstore

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/pakka/pkg/paktypes"
)

type Transport struct {
	driver Driver
	logl   *logex.Leveled
}

var _ paktypes.ContentTransport = (*Transport)(nil)

func New(driver Driver, logger *log.Logger) *Transport {
	return &Transport{
		driver: driver,
		logl:   logex.Levels(logex.NonNil(logger)),
	}
}

func (t *Transport) Exists(ctx context.Context, store paktypes.StoreKey, p string) (bool, error) {
	name, err := ObjectName(store, p)
	if err != nil {
		return false, err
	}

	return t.driver.RawExists(ctx, name)
}

func (t *Transport) Copy(ctx context.Context, from paktypes.StoreKey, to paktypes.StoreKey, p string) error {
	fromName, err := ObjectName(from, p)
	if err != nil {
		return err
	}
	toName, err := ObjectName(to, p)
	if err != nil {
		return err
	}

	if copier, canCopy := t.driver.(Copier); canCopy {
		return copier.RawCopy(ctx, fromName, toName)
	}

	content, err := t.driver.RawFetch(ctx, fromName)
	if err != nil {
		return err
	}
	defer content.Close()

	if err := t.driver.RawStore(ctx, toName, content); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", fromName, toName, err)
	}

	t.logl.Debug.Printf("copied %s -> %s", fromName, toName)

	return nil
}

func (t *Transport) Delete(ctx context.Context, store paktypes.StoreKey, p string) error {
	name, err := ObjectName(store, p)
	if err != nil {
		return err
	}

	return t.driver.RawDelete(ctx, name)
}

// sorted
func (t *Transport) ListAll(ctx context.Context, store paktypes.StoreKey) ([]string, error) {
	prefix := storePrefix(store)

	names, err := t.driver.RawList(ctx, prefix)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, strings.TrimPrefix(name, prefix))
	}

	sort.Strings(paths)

	return paths, nil
}

func (t *Transport) Open(ctx context.Context, store paktypes.StoreKey, p string) (io.ReadCloser, error) {
	name, err := ObjectName(store, p)
	if err != nil {
		return nil, err
	}

	return t.driver.RawFetch(ctx, name)
}

func (t *Transport) Put(ctx context.Context, store paktypes.StoreKey, p string, content io.Reader) error {
	if store.IsGroup() {
		return fmt.Errorf("cannot store content directly into group %s", store.String())
	}

	name, err := ObjectName(store, p)
	if err != nil {
		return err
	}

	return t.driver.RawStore(ctx, name, content)
}

func (t *Transport) Mountable(ctx context.Context) error {
	return t.driver.Mountable(ctx)
}

// "maven:hosted:build-1" + "a/1.jar" => "maven/hosted/build-1/a/1.jar"
func ObjectName(store paktypes.StoreKey, p string) (string, error) {
	cleaned := path.Clean("/" + p)[1:]

	if cleaned == "" || cleaned != strings.TrimPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}

	if strings.ContainsAny(store.Name, "/\\") || store.Name == ".." || store.Name == "." {
		return "", fmt.Errorf("%w: store name %q", ErrInvalidPath, store.Name)
	}

	return storePrefix(store) + cleaned, nil
}

func storePrefix(store paktypes.StoreKey) string {
	return store.PackageType + "/" + string(store.Type) + "/" + store.Name + "/"
}
