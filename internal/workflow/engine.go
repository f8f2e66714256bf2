// Package workflow is the control surface of the orchestration engine. Each
// operation runs as one store unit: it reads the instance and its tasks,
// applies the state machine and writes everything back with version checks.
// Timers, notifications, audit and archiving follow the commit and never undo it.
package workflow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/JaimeStill/steward/internal/archive"
	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/identity"
	"github.com/JaimeStill/steward/internal/notifications"
	"github.com/JaimeStill/steward/internal/sla"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/pkg/clock"
)

// Document is the opaque subject of a workflow.
type Document struct {
	ID           string `json:"id"`
	Organization string `json:"organization"`
	Title        string `json:"title,omitempty"`
}

// Engine runs workflow operations.
type Engine struct {
	store      store.Store
	directory  identity.Directory
	scheduler  *sla.Scheduler
	notifier   notifications.Dispatcher
	audit      audit.Recorder
	archiver   archive.Archiver
	now        clock.Func
	maxRetries int
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheduler arms SLA checks for created tasks and disarms them when
// tasks terminate.
func WithScheduler(s *sla.Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithNotifier sets the notification dispatcher.
func WithNotifier(d notifications.Dispatcher) Option {
	return func(e *Engine) { e.notifier = d }
}

// WithAudit sets the audit recorder.
func WithAudit(r audit.Recorder) Option {
	return func(e *Engine) { e.audit = r }
}

// WithArchiver stores a snapshot of each instance when it terminates.
func WithArchiver(a archive.Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithClock sets the time source.
func WithClock(now clock.Func) Option {
	return func(e *Engine) { e.now = clock.Or(now) }
}

// WithMaxRetries bounds the attempts made for a unit that lost a version race.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l.With("system", "workflow") }
}

// New creates an Engine over st, resolving roles through dir.
func New(st store.Store, dir identity.Directory, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		directory:  dir,
		notifier:   notifications.Discard,
		audit:      audit.Discard,
		now:        clock.Now,
		maxRetries: 3,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// atomic runs fn in a unit, retrying while it loses version races.
func (e *Engine) atomic(ctx context.Context, op string, fn func(store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		err = e.store.Atomic(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		e.logger.Debug("unit conflicted, retrying", "op", op, "attempt", attempt)
	}
	return err
}

func (e *Engine) principal(ctx context.Context, user string) (identity.User, error) {
	if user == "" {
		return identity.User{}, ErrMissingUser
	}
	return identity.Resolve(ctx, e.directory, user), nil
}
