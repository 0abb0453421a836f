// Named advisory locks, e.g. one per group key. Holders of different keys never block
// each other
package mutexmap

import (
	"context"
	"fmt"
	"sync"

	"github.com/function61/pakka/pkg/paktypes"
)

// value of "locks" is closed when the holder releases the key
type M[K comparable] struct {
	locks    map[K]chan struct{}
	masterMu sync.Mutex
}

func New[K comparable]() *M[K] {
	return &M[K]{
		locks: map[K]chan struct{}{},
	}
}

// waits until the key is free or ctx is done
func (m *M[K]) Lock(ctx context.Context, key K) (func(), error) {
	for {
		unlock, released := m.tryLockInternal(key)
		if released == nil {
			return unlock, nil
		}

		// not guaranteed to get it after release: another waiter might win
		select {
		case <-released:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// returns false if the key is already held. on success call the returned func to release
func (m *M[K]) TryLock(key K) (func(), bool) {
	unlock, released := m.tryLockInternal(key)
	return unlock, released == nil
}

// like TryLock(), but expresses contention as paktypes.ErrBusy
func (m *M[K]) TryLockOrBusy(key K) (func(), error) {
	unlock, ok := m.TryLock(key)
	if !ok {
		return nil, fmt.Errorf("%w: %v", paktypes.ErrBusy, key)
	}

	return unlock, nil
}

func (m *M[K]) Held(key K) bool {
	m.masterMu.Lock()
	defer m.masterMu.Unlock()

	_, held := m.locks[key]
	return held
}

// "unlock" is nil if "released" is non-nil
func (m *M[K]) tryLockInternal(key K) (func(), chan struct{}) {
	m.masterMu.Lock()
	defer m.masterMu.Unlock()

	if released, held := m.locks[key]; held {
		return nil, released
	}

	released := make(chan struct{})
	m.locks[key] = released

	once := sync.Once{}

	return func() {
		once.Do(func() {
			m.masterMu.Lock()
			defer m.masterMu.Unlock()

			delete(m.locks, key)
			close(released)
		})
	}, nil
}
