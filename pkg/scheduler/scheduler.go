// Runs periodic maintenance jobs (like re-running the implied repository closure) on cron
// schedules
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/robfig/cron/v3"
)

var ErrUnknownJob = errors.New("unknown job")

type JobFn func(ctx context.Context, logger *log.Logger) error

type LastRun struct {
	Started  time.Time
	Finished time.Time
	Error    string
}

func (l LastRun) Duration() time.Duration {
	return l.Finished.Sub(l.Started)
}

type JobSpec struct {
	ID          string
	Description string
	Schedule    string // cron expression or descriptor like "@every 1h"
	NextRun     time.Time
	Running     bool
	LastRun     *LastRun
}

type Job struct {
	Spec     JobSpec
	Run      JobFn
	schedule cron.Schedule
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func ValidateSchedule(schedule string) (cron.Schedule, error) {
	parsed, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}

	return parsed, nil
}

func NewJob(id string, description string, schedule string, run JobFn, now time.Time) (*Job, error) {
	parsed, err := ValidateSchedule(schedule)
	if err != nil {
		return nil, err
	}

	return &Job{
		Spec: JobSpec{
			ID:          id,
			Description: description,
			Schedule:    schedule,
			NextRun:     parsed.Next(now),
		},
		Run:      run,
		schedule: parsed,
	}, nil
}

type jobResult struct {
	job *Job
	run *LastRun
}

type triggerRequest struct {
	jobID string
	found chan bool
}

type Controller struct {
	snapshotRequest chan chan []JobSpec
	triggerRequest  chan triggerRequest
	jobFinished     chan *jobResult
	onFinished      func(JobSpec)
	logger          *log.Logger
}

// onFinished (optional) is called from the scheduler goroutine after each run, so it must
// not block
func New(
	jobs []*Job,
	logger *log.Logger,
	onFinished func(JobSpec),
	start func(func(context.Context) error),
) *Controller {
	if onFinished == nil {
		onFinished = func(JobSpec) {}
	}

	c := &Controller{
		snapshotRequest: make(chan chan []JobSpec),
		triggerRequest:  make(chan triggerRequest),
		jobFinished:     make(chan *jobResult, 1),
		onFinished:      onFinished,
		logger:          logex.NonNil(logger),
	}

	start(func(ctx context.Context) error {
		return c.run(ctx, jobs)
	})

	return c
}

// runs the job now, unless it's already running
func (c *Controller) Trigger(ctx context.Context, jobID string) error {
	req := triggerRequest{jobID: jobID, found: make(chan bool, 1)}

	select {
	case c.triggerRequest <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	if !<-req.found {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	return nil
}

// atomic view of the scheduler's state
func (c *Controller) Snapshot(ctx context.Context) ([]JobSpec, error) {
	result := make(chan []JobSpec, 1)

	select {
	case c.snapshotRequest <- result:
		return <-result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// single-threaded core. job runs, snapshots and triggers talk to it via channels
func (c *Controller) run(ctx context.Context, jobs []*Job) error {
	earliestCh := func() <-chan time.Time {
		if len(jobs) == 0 {
			return nil // blocks forever
		}

		earliest := jobs[0].Spec.NextRun
		for _, job := range jobs {
			if job.Spec.NextRun.Before(earliest) {
				earliest = job.Spec.NextRun
			}
		}

		return time.After(time.Until(earliest))
	}

	snapshot := func() []JobSpec {
		specs := []JobSpec{}
		for _, job := range jobs {
			specs = append(specs, copyJobSpec(job.Spec))
		}
		return specs
	}

	finished := func(res *jobResult) {
		res.job.Spec.LastRun = res.run
		res.job.Spec.Running = false

		c.onFinished(copyJobSpec(res.job.Spec))
	}

	runnable := earliestCh()

	for {
		select {
		case now := <-runnable:
			for _, job := range jobs {
				if !job.Spec.NextRun.After(now) {
					job.Spec.NextRun = job.schedule.Next(now)
					c.startJob(ctx, job)
				}
			}

			runnable = earliestCh()
		case result := <-c.snapshotRequest:
			result <- snapshot()
		case res := <-c.jobFinished:
			finished(res)
		case req := <-c.triggerRequest:
			found := false
			for _, job := range jobs {
				if job.Spec.ID == req.jobID {
					found = true
					c.startJob(ctx, job)
					break
				}
			}
			req.found <- found
		case <-ctx.Done():
			// drain: each running job sends exactly one result
			for _, job := range jobs {
				if job.Spec.Running {
					finished(<-c.jobFinished)
				}
			}

			return nil
		}
	}
}

func (c *Controller) startJob(ctx context.Context, job *Job) {
	jlog := logex.Prefix("scheduler/"+job.Spec.ID, c.logger)
	jlogl := logex.Levels(jlog)

	if job.Spec.Running {
		jlogl.Error.Println("previous run still in progress, skipping")
		return
	}

	job.Spec.Running = true

	jlogl.Info.Printf("starting: %s", job.Spec.Description)

	go func() {
		run := &LastRun{Started: time.Now()}

		if err := job.Run(ctx, jlog); err != nil {
			run.Error = err.Error()
		}

		run.Finished = time.Now()

		if run.Error != "" {
			jlogl.Error.Printf("in %s: %s", run.Duration(), run.Error)
		} else {
			jlogl.Info.Printf("completed in %s", run.Duration())
		}

		c.jobFinished <- &jobResult{job: job, run: run}
	}()
}

func copyJobSpec(spec JobSpec) JobSpec {
	if spec.LastRun != nil {
		lastRun := *spec.LastRun
		spec.LastRun = &lastRun
	}

	return spec
}
