package sla

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JaimeStill/steward/pkg/clock"
	"github.com/JaimeStill/steward/pkg/lifecycle"
)

// JobScheduler runs one-shot jobs at a wall-clock time.
type JobScheduler interface {
	// ScheduleAt arranges fn to run no earlier than at. Scheduling an
	// existing key replaces the previous job.
	ScheduleAt(at time.Time, key string, fn func(context.Context))
	// Cancel drops a pending job and reports whether one existed.
	Cancel(key string) bool
}

// Timers is an in-process JobScheduler built on time.AfterFunc.
type Timers struct {
	mu      sync.Mutex
	ctx     context.Context
	now     clock.Func
	jobs    map[string]*time.Timer
	running sync.WaitGroup
	stopped bool
	logger  *slog.Logger
}

// NewTimers creates an idle timer set. now may be nil for the wall clock.
func NewTimers(now clock.Func, logger *slog.Logger) *Timers {
	return &Timers{
		ctx:    context.Background(),
		now:    clock.Or(now),
		jobs:   make(map[string]*time.Timer),
		logger: logger.With("system", "timers"),
	}
}

// Start binds jobs to the coordinator's context and stops them on shutdown.
func (t *Timers) Start(lc *lifecycle.Coordinator) {
	t.mu.Lock()
	t.ctx = lc.Context()
	t.mu.Unlock()

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		n := t.Stop()
		t.logger.Info("timers stopped", "dropped", n)
	})
}

func (t *Timers) ScheduleAt(at time.Time, key string, fn func(context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if prev, ok := t.jobs[key]; ok {
		prev.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(max(at.Sub(t.now()), 0), func() {
		t.mu.Lock()
		if t.jobs[key] != timer {
			t.mu.Unlock()
			return
		}
		if early := at.Sub(t.now()); early > 0 {
			timer.Reset(early)
			t.mu.Unlock()
			return
		}
		delete(t.jobs, key)
		ctx := t.ctx
		t.running.Add(1)
		t.mu.Unlock()

		defer t.running.Done()
		fn(ctx)
	})
	t.jobs[key] = timer
}

func (t *Timers) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.jobs[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.jobs, key)
	return true
}

// Pending returns the number of scheduled jobs.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Stop cancels every pending job, waits for running jobs and returns the
// number of jobs dropped. Later ScheduleAt calls are ignored.
func (t *Timers) Stop() int {
	t.mu.Lock()
	t.stopped = true
	n := len(t.jobs)
	for key, timer := range t.jobs {
		timer.Stop()
		delete(t.jobs, key)
	}
	t.mu.Unlock()

	t.running.Wait()
	return n
}

var _ JobScheduler = (*Timers)(nil)
