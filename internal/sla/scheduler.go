// Package sla enforces task deadlines. It arms a one-shot overdue check at
// each task's due time and warning checks at configured fractions of the SLA
// window. Checks read persisted state when they fire, so a task that reached
// a terminal state in the meantime makes them silent no-ops.
package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/notifications"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/clock"
	"github.com/JaimeStill/steward/pkg/tracing"
)

// BreachReason is the escalation reason recorded for a missed deadline.
const BreachReason = "SLA deadline breached"

// Outcome reports what a check did.
type Outcome int

const (
	Noop Outcome = iota
	Breached
	Warned
	Rescheduled
)

func (o Outcome) String() string {
	switch o {
	case Breached:
		return "breached"
	case Warned:
		return "warned"
	case Rescheduled:
		return "rescheduled"
	default:
		return "noop"
	}
}

// Scheduler arms and runs SLA checks.
type Scheduler struct {
	store    store.Store
	jobs     JobScheduler
	cfg      Config
	notifier notifications.Dispatcher
	audit    audit.Recorder
	now      clock.Func
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNotifier sets the notification dispatcher.
func WithNotifier(d notifications.Dispatcher) Option {
	return func(s *Scheduler) { s.notifier = d }
}

// WithAudit sets the audit recorder.
func WithAudit(r audit.Recorder) Option {
	return func(s *Scheduler) { s.audit = r }
}

// WithClock sets the time source.
func WithClock(now clock.Func) Option {
	return func(s *Scheduler) { s.now = clock.Or(now) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l.With("system", "sla") }
}

// New creates a Scheduler. Zero retry and rearm limits fall back to defaults.
func New(st store.Store, jobs JobScheduler, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		jobs:     jobs,
		cfg:      cfg,
		notifier: notifications.Discard,
		audit:    audit.Discard,
		now:      clock.Now,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxRetries <= 0 {
		s.cfg.MaxRetries = 3
	}
	if s.cfg.RearmWorkers <= 0 {
		s.cfg.RearmWorkers = 4
	}
	return s
}

// OverdueKey is the job key of a task's overdue check.
func OverdueKey(id uuid.UUID) string {
	return "overdue:" + id.String()
}

// WarningKey is the job key of a task's warning check at pct.
func WarningKey(id uuid.UUID, pct int) string {
	return fmt.Sprintf("warning:%d:%s", pct, id)
}

// Arm schedules the overdue check at the task's deadline and every warning
// threshold that has not yet passed. Tasks without a deadline, or that are
// no longer active, are ignored.
func (s *Scheduler) Arm(t tasks.Task) {
	if t.DueAt == nil || !t.IsActive() {
		return
	}
	id := t.ID
	s.jobs.ScheduleAt(*t.DueAt, OverdueKey(id), func(ctx context.Context) {
		if _, err := s.CheckOverdue(ctx, id); err != nil {
			s.logger.Error("overdue check failed", "task_id", id, "error", err)
		}
	})

	now := s.now()
	window := t.DueAt.Sub(t.CreatedAt)
	for _, pct := range s.cfg.WarningThresholds {
		at := t.CreatedAt.Add(window * time.Duration(pct) / 100)
		if !at.After(now) {
			continue
		}
		s.jobs.ScheduleAt(at, WarningKey(id, pct), func(ctx context.Context) {
			if _, err := s.CheckWarning(ctx, id, pct); err != nil {
				s.logger.Error("warning check failed", "task_id", id, "threshold", pct, "error", err)
			}
		})
	}
}

// Disarm cancels every pending check of a task.
func (s *Scheduler) Disarm(id uuid.UUID) {
	s.jobs.Cancel(OverdueKey(id))
	for _, pct := range s.cfg.WarningThresholds {
		s.jobs.Cancel(WarningKey(id, pct))
	}
}

// CheckOverdue marks an active task overdue and escalates it once its
// deadline has passed. It is a no-op for terminal, already overdue or
// deadline-less tasks, and reschedules itself when fired early.
func (s *Scheduler) CheckOverdue(ctx context.Context, id uuid.UUID) (outcome Outcome, err error) {
	ctx, span := tracing.StartSpan(ctx, "sla.check_overdue", "task_id", id.String())
	defer func() {
		span.Set("outcome", outcome.String())
		span.End(err)
	}()

	var task tasks.Task
	for attempt := 1; ; attempt++ {
		outcome, task, err = s.breach(ctx, id)
		if !errors.Is(err, store.ErrConflict) || attempt >= s.cfg.MaxRetries {
			break
		}
		s.logger.Debug("overdue check conflict, retrying", "task_id", id, "attempt", attempt)
	}
	if err != nil {
		return Noop, err
	}

	switch outcome {
	case Rescheduled:
		s.Arm(task)
	case Breached:
		s.Disarm(id)
		s.afterBreach(ctx, task)
	}
	return outcome, nil
}

func (s *Scheduler) breach(ctx context.Context, id uuid.UUID) (Outcome, tasks.Task, error) {
	var (
		outcome Outcome
		task    tasks.Task
	)
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		outcome = Noop
		task, err = tx.FindTask(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if !task.IsActive() || task.DueAt == nil {
			return nil
		}

		now := s.now()
		if !task.MarkOverdue(now) {
			outcome = Rescheduled
			return nil
		}
		task.Escalate(BreachReason, now)
		if err := tx.UpdateTask(ctx, &task); err != nil {
			return err
		}
		outcome = Breached
		return nil
	})
	return outcome, task, err
}

func (s *Scheduler) afterBreach(ctx context.Context, t tasks.Task) {
	now := s.now()
	payload := map[string]any{
		"task_id":          t.ID.String(),
		"instance_id":      t.InstanceID.String(),
		"state":            t.State,
		"due_at":           t.DueAt,
		"assigned_role":    t.AssignedRole,
		"escalation_level": t.EscalationLevel,
	}

	breached := notifications.Roles(s.cfg.EscalationRoles...)
	if t.Assignee != nil {
		breached.Users = []string{*t.Assignee}
	}
	s.notify(ctx, notifications.New(notifications.KindSLABreached, breached,
		fmt.Sprintf("SLA breached: %s", t.State), payload, now))

	escalated := notifications.Target{}
	if t.AssignedRole != "" {
		escalated.Roles = []string{t.AssignedRole}
	}
	if t.Assignee != nil {
		escalated.Users = []string{*t.Assignee}
	}
	s.notify(ctx, notifications.New(notifications.KindTaskEscalated, escalated,
		fmt.Sprintf("Task escalated to level %d: %s", t.EscalationLevel, t.State), payload, now))

	meta := map[string]any{
		"state":         t.State,
		"due_at":        t.DueAt,
		"assigned_role": t.AssignedRole,
		"assignee":      t.Assignee,
		"level":         t.EscalationLevel,
	}
	if err := s.audit.Record(ctx, audit.Event{
		EventType:  audit.TypeSLA,
		Action:     audit.ActionSLABreached,
		TargetType: audit.TypeTask,
		TargetID:   t.ID.String(),
		Actor:      "system",
		Metadata:   meta,
		At:         now,
	}); err != nil {
		s.logger.Warn("audit record failed", "task_id", t.ID, "error", err)
	}

	s.logger.Info("task overdue", "task_id", t.ID, "instance_id", t.InstanceID, "state", t.State, "level", t.EscalationLevel)
}

// CheckWarning notifies the assignee, or the assigned role when unclaimed,
// that pct of the SLA window has elapsed. It is a no-op for terminal,
// overdue or deadline-less tasks.
func (s *Scheduler) CheckWarning(ctx context.Context, id uuid.UUID, pct int) (outcome Outcome, err error) {
	ctx, span := tracing.StartSpan(ctx, "sla.check_warning", "task_id", id.String())
	defer func() {
		span.Set("outcome", outcome.String())
		span.End(err)
	}()

	var task tasks.Task
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		task, err = tx.FindTask(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Noop, nil
		}
		return Noop, err
	}
	if !task.IsActive() || task.DueAt == nil {
		return Noop, nil
	}

	target := notifications.Roles(task.AssignedRole)
	if task.Assignee != nil {
		target = notifications.Users(*task.Assignee)
	} else if task.AssignedRole == "" {
		target = notifications.Target{}
	}

	now := s.now()
	s.notify(ctx, notifications.New(notifications.KindSLAWarning, target,
		fmt.Sprintf("SLA warning: %s due in %s", task.State, task.TimeRemainingText(now)),
		map[string]any{
			"task_id":              task.ID.String(),
			"instance_id":          task.InstanceID.String(),
			"state":                task.State,
			"due_at":               task.DueAt,
			"percentage_remaining": 100 - pct,
		}, now))
	return Warned, nil
}

// Rearm re-establishes checks for every open task after a restart. Tasks
// already past their deadline are checked immediately.
func (s *Scheduler) Rearm(ctx context.Context) (int, error) {
	var open []tasks.Task
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		open, err = tx.OpenTasks(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("load open tasks: %w", err)
	}

	now := s.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RearmWorkers)
	for _, t := range open {
		if t.DueAt.After(now) {
			s.Arm(t)
			continue
		}
		g.Go(func() error {
			_, err := s.CheckOverdue(gctx, t.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return len(open), err
	}

	s.logger.Info("sla checks re-armed", "tasks", len(open))
	return len(open), nil
}

func (s *Scheduler) notify(ctx context.Context, n notifications.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification failed", "kind", n.Kind, "error", err)
	}
}
