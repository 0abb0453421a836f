package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
)

func TestConcurrencyIsBounded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	pool := New(2, 10, nil)

	runDone := make(chan error)
	go func() { runDone <- pool.Run(ctx) }()

	running := int32(0)
	maxRunning := int32(0)
	finished := make(chan struct{}, 6)

	for i := 0; i < 6; i++ {
		assert.Assert(t, pool.Submit(ctx, "job", func(ctx context.Context) error {
			now := atomic.AddInt32(&running, 1)
			for {
				seen := atomic.LoadInt32(&maxRunning)
				if now <= seen || atomic.CompareAndSwapInt32(&maxRunning, seen, now) {
					break
				}
			}

			time.Sleep(5 * time.Millisecond)

			atomic.AddInt32(&running, -1)
			finished <- struct{}{}
			return nil
		}) == nil)
	}

	for i := 0; i < 6; i++ {
		<-finished
	}

	assert.Assert(t, atomic.LoadInt32(&maxRunning) <= 2)

	cancel()
	assert.Assert(t, <-runDone == nil)

	assert.Assert(t, errors.Is(pool.Submit(context.Background(), "late", nil), ErrStopped))
}

func TestFailuresAreCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := New(1, 1, nil)
	go func() { _ = pool.Run(ctx) }()

	done := make(chan struct{})

	assert.Assert(t, pool.Submit(ctx, "fails", func(ctx context.Context) error {
		return errors.New("nope")
	}) == nil)
	assert.Assert(t, pool.Submit(ctx, "succeeds", func(ctx context.Context) error {
		close(done)
		return nil
	}) == nil)

	<-done

	// stats are updated right after the job returns
	deadline := time.Now().Add(time.Second)
	for {
		completed, failed := pool.Stats()
		if completed == 1 && failed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("completed=%d failed=%d", completed, failed)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubmitHonorsContextWhenQueueFull(t *testing.T) {
	pool := New(1, 1, nil) // not running => nothing consumes the queue

	assert.Assert(t, pool.Submit(context.Background(), "fills queue", func(context.Context) error { return nil }) == nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := pool.Submit(ctx, "blocks", func(context.Context) error { return nil })
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded))
}
