// Package jobs runs the worker process's recurring background jobs on a fixed
// one second tick.
package jobs

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mkcommunity/registry/internal/metrics"
	"github.com/mkcommunity/registry/pkg/log"
)

// Job is a single recurring unit of background work. Run is invoked as its
// own goroutine once Delay has elapsed since the previous start.
type Job interface {
	Name() string
	Delay() time.Duration
	Run(ctx context.Context) error
}

type runner struct {
	job           Job
	mu            sync.Mutex
	lastRun       time.Time
	running       bool
	startedAt     time.Time
	overrunLogged bool
}

// Scheduler holds an ordered list of jobs and starts any that are due on each
// tick. A job error or panic is logged and never stops the scheduler.
type Scheduler struct {
	runners []*runner
}

func NewScheduler(jobs ...Job) *Scheduler {
	scheduler := &Scheduler{}
	for _, job := range jobs {
		scheduler.runners = append(scheduler.runners, &runner{job: job})
	}

	return scheduler
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, run := range s.runners {
				s.maybeStart(ctx, run, now)
			}
		}
	}
}

func (s *Scheduler) maybeStart(ctx context.Context, run *runner, now time.Time) {
	run.mu.Lock()
	defer run.mu.Unlock()

	delay := run.job.Delay()

	if run.running {
		// Log the overrun once per invocation.
		if !run.overrunLogged && now.Sub(run.startedAt) > delay {
			run.overrunLogged = true

			slog.Warn("Job is overrunning its delay",
				slog.String("job", run.job.Name()),
				slog.Duration("delay", delay),
				slog.Duration("elapsed", now.Sub(run.startedAt)))
		}

		return
	}

	if !run.lastRun.IsZero() && now.Sub(run.lastRun) < delay {
		return
	}

	run.running = true
	run.startedAt = now
	run.overrunLogged = false
	run.lastRun = now

	go s.invoke(ctx, run)
}

func (s *Scheduler) invoke(ctx context.Context, run *runner) {
	started := time.Now()

	defer func() {
		if recovered := recover(); recovered != nil {
			slog.Error("Job panicked",
				slog.String("job", run.job.Name()),
				slog.Any("value", recovered),
				slog.String("stack", string(debug.Stack())))
		}

		duration := time.Since(started)

		run.mu.Lock()
		run.running = false
		overran := duration > run.job.Delay()
		run.mu.Unlock()

		if overran {
			slog.Warn("Job took longer than its delay",
				slog.String("job", run.job.Name()),
				slog.Duration("duration", duration))
		}
	}()

	err := run.job.Run(ctx)

	metrics.Job(run.job.Name(), time.Since(started).Seconds(), err)

	if err != nil {
		slog.Error("Job returned error", slog.String("job", run.job.Name()), log.ErrAttr(err))
	}
}
