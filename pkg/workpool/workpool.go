// Bounded worker pool for background work (async promotions, maintenance runs)
package workpool

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/function61/gokit/logex"
)

var ErrStopped = errors.New("worker pool stopped")

type Job = func(ctx context.Context) error

type namedJob struct {
	name string
	run  Job
}

type Pool struct {
	work      chan namedJob
	workers   int
	stopped   chan struct{}
	completed uint64
	failed    uint64
	logl      *logex.Leveled
}

// at most "workers" jobs run concurrently, at most "queueSize" wait
func New(workers int, queueSize int, logger *log.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}

	return &Pool{
		work:    make(chan namedJob, queueSize),
		workers: workers,
		stopped: make(chan struct{}),
		logl:    logex.Levels(logex.NonNil(logger)),
	}
}

// blocks while the queue is full
func (p *Pool) Submit(ctx context.Context, name string, job Job) error {
	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}

	select {
	case p.work <- namedJob{name, job}:
		return nil
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runs workers until ctx is cancelled. jobs get this ctx, so they're cancelled along with
// the pool. still-queued jobs are dropped
func (p *Pool) Run(ctx context.Context) error {
	workersDone := sync.WaitGroup{}

	for i := 0; i < p.workers; i++ {
		workersDone.Add(1)

		go func() {
			defer workersDone.Done()

			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.work:
					p.runJob(ctx, job)
				}
			}
		}()
	}

	<-ctx.Done()

	close(p.stopped)

	workersDone.Wait()

	if dropped := len(p.work); dropped > 0 {
		p.logl.Info.Printf("stopped with %d queued job(s) dropped", dropped)
	}

	return nil
}

func (p *Pool) Stats() (completed uint64, failed uint64) {
	return atomic.LoadUint64(&p.completed), atomic.LoadUint64(&p.failed)
}

func (p *Pool) runJob(ctx context.Context, job namedJob) {
	started := time.Now()

	if err := job.run(ctx); err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logl.Error.Printf("%s: %v", job.name, err)
		return
	}

	atomic.AddUint64(&p.completed, 1)
	p.logl.Debug.Printf("%s completed in %s", job.name, time.Since(started))
}
