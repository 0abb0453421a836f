package scheduler

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
)

func TestTriggerRunsJob(t *testing.T) {
	ran := make(chan struct{}, 1)
	finished := make(chan JobSpec, 1)

	job, err := NewJob("implied-repo-rescan", "re-run implied repos closure", "@every 1h", func(ctx context.Context, logger *log.Logger) error {
		ran <- struct{}{}
		return errors.New("one group failed")
	}, time.Now())
	assert.Assert(t, err == nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller := New([]*Job{job}, nil, func(spec JobSpec) { finished <- spec }, func(run func(context.Context) error) {
		go func() { _ = run(ctx) }()
	})

	assert.Assert(t, controller.Trigger(ctx, "implied-repo-rescan") == nil)

	<-ran
	spec := <-finished
	assert.Assert(t, !spec.Running)
	assert.EqualString(t, spec.LastRun.Error, "one group failed")

	snapshot, err := controller.Snapshot(ctx)
	assert.Assert(t, err == nil)
	assert.Assert(t, len(snapshot) == 1)
	assert.EqualString(t, snapshot[0].LastRun.Error, "one group failed")
	assert.Assert(t, snapshot[0].NextRun.After(time.Now()))

	err = controller.Trigger(ctx, "nonexistent")
	assert.Assert(t, errors.Is(err, ErrUnknownJob))
}

func TestInvalidSchedule(t *testing.T) {
	_, err := NewJob("x", "", "every now and then", nil, time.Now())
	assert.Assert(t, err != nil)

	_, err = ValidateSchedule("*/5 * * * *")
	assert.Assert(t, err == nil)
}
