// Keeps content in RAM. For development & tests
package memcontentstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
)

type memory struct {
	objects   map[string][]byte
	objectsMu sync.RWMutex
}

func New() *memory {
	return &memory{
		objects: map[string][]byte{},
	}
}

func (m *memory) RawStore(_ context.Context, name string, content io.Reader) error {
	buf, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	m.objectsMu.Lock()
	defer m.objectsMu.Unlock()

	m.objects[name] = buf

	return nil
}

func (m *memory) RawFetch(_ context.Context, name string) (io.ReadCloser, error) {
	m.objectsMu.RLock()
	defer m.objectsMu.RUnlock()

	buf, found := m.objects[name]
	if !found {
		return nil, &os.PathError{Op: "fetch", Path: name, Err: os.ErrNotExist}
	}

	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *memory) RawExists(_ context.Context, name string) (bool, error) {
	m.objectsMu.RLock()
	defer m.objectsMu.RUnlock()

	_, found := m.objects[name]
	return found, nil
}

func (m *memory) RawDelete(_ context.Context, name string) error {
	m.objectsMu.Lock()
	defer m.objectsMu.Unlock()

	delete(m.objects, name)
	return nil
}

func (m *memory) RawList(_ context.Context, prefix string) ([]string, error) {
	m.objectsMu.RLock()
	defer m.objectsMu.RUnlock()

	names := []string{}
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}

	return names, nil
}

func (m *memory) Mountable(_ context.Context) error {
	return nil
}
