// Package tasks models the unit of assignable work for one state occupancy
// of a workflow instance.
package tasks

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/identity"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusOverdue    Status = "overdue"
)

// Escalation records one SLA escalation step.
type Escalation struct {
	Level  int       `json:"level"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Task is one state occupancy of one instance.
type Task struct {
	ID                uuid.UUID    `json:"id"`
	InstanceID        uuid.UUID    `json:"instance_id"`
	Organization      string       `json:"organization"`
	State             string       `json:"state"`
	Status            Status       `json:"status"`
	AssignedRole      string       `json:"assigned_role,omitempty"`
	Assignee          *string      `json:"assignee,omitempty"`
	DueAt             *time.Time   `json:"due_at,omitempty"`
	SLAHours          int          `json:"sla_hours"`
	Priority          Priority     `json:"priority"`
	EscalationLevel   int          `json:"escalation_level"`
	EscalationHistory []Escalation `json:"escalation_history"`
	LastEscalatedAt   *time.Time   `json:"last_escalated_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	CompletedBy       *string      `json:"completed_by,omitempty"`
	CompletionComment string       `json:"completion_comment,omitempty"`
	CancelledAt       *time.Time   `json:"cancelled_at,omitempty"`
	Version           int          `json:"version"`
}

// New creates a pending task for state. DueAt is now+slaHours, or nil when
// slaHours is zero.
func New(instanceID uuid.UUID, org, state, role string, slaHours int, now time.Time) Task {
	t := Task{
		ID:                uuid.New(),
		InstanceID:        instanceID,
		Organization:      org,
		State:             state,
		Status:            StatusPending,
		AssignedRole:      role,
		SLAHours:          slaHours,
		Priority:          PriorityNormal,
		EscalationHistory: []Escalation{},
		CreatedAt:         now,
	}
	if slaHours > 0 {
		due := now.Add(time.Duration(slaHours) * time.Hour)
		t.DueAt = &due
	}
	return t
}

// IsActive reports whether the task is pending or in progress.
func (t *Task) IsActive() bool {
	return t.Status == StatusPending || t.Status == StatusInProgress
}

// IsTerminal reports whether the task is completed or cancelled.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

// IsOpen reports whether the task still occupies its state (active or overdue).
func (t *Task) IsOpen() bool {
	return !t.IsTerminal()
}

// AssignedTo reports whether user is the current assignee.
func (t *Task) AssignedTo(user string) bool {
	return t.Assignee != nil && *t.Assignee == user
}

// RoleAllows reports whether p may act in the task's role. An empty role
// admits anyone.
func (t *Task) RoleAllows(p identity.Principal) bool {
	return t.AssignedRole == "" || p.HasRole(t.AssignedRole)
}

// UserCanWork reports whether p holds the assigned role or is the assignee,
// and the task is not terminal.
func (t *Task) UserCanWork(p identity.Principal) bool {
	if t.IsTerminal() {
		return false
	}
	return t.RoleAllows(p) || t.AssignedTo(p.ID())
}

// Claim assigns a pending task to p.
func (t *Task) Claim(p identity.Principal, now time.Time) error {
	if t.Status != StatusPending {
		return fmt.Errorf("%w: %s", ErrNotPending, t.Status)
	}
	if !t.RoleAllows(p) {
		return fmt.Errorf("%w: %s requires %q", ErrRoleMismatch, p.ID(), t.AssignedRole)
	}
	user := p.ID()
	t.Assignee = &user
	t.Status = StatusInProgress
	t.StartedAt = &now
	return nil
}

// Release returns an in-progress task to the pool.
func (t *Task) Release(user string) error {
	if t.Status != StatusInProgress {
		return fmt.Errorf("%w: %s", ErrNotInProgress, t.Status)
	}
	if !t.AssignedTo(user) {
		return ErrNotAssignee
	}
	t.Assignee = nil
	t.Status = StatusPending
	t.StartedAt = nil
	return nil
}

// Complete closes the task. Overdue tasks can still be completed.
func (t *Task) Complete(actor, comment string, now time.Time) error {
	if t.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrNotCompletable, t.Status)
	}
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.CompletedBy = &actor
	t.CompletionComment = comment
	return nil
}

// Cancel closes any non-terminal task.
func (t *Task) Cancel(now time.Time) error {
	if t.IsTerminal() {
		return ErrAlreadyTerminal
	}
	t.Status = StatusCancelled
	t.CancelledAt = &now
	return nil
}

// Escalate raises the escalation level and priority and records reason.
// Every call escalates; callers guard against duplicate triggers.
func (t *Task) Escalate(reason string, now time.Time) Escalation {
	t.EscalationLevel++
	t.Priority = t.Priority.Bump()
	t.LastEscalatedAt = &now
	e := Escalation{Level: t.EscalationLevel, Reason: reason, At: now}
	t.EscalationHistory = append(t.EscalationHistory, e)
	return e
}

// MarkOverdue flags an active task whose deadline has passed. It reports
// false when the task is not active or not yet due.
func (t *Task) MarkOverdue(now time.Time) bool {
	if !t.IsActive() || t.DueAt == nil || now.Before(*t.DueAt) {
		return false
	}
	t.Status = StatusOverdue
	return true
}

// SLACompliant reports whether the task met, or is still within, its deadline.
func (t *Task) SLACompliant(now time.Time) bool {
	if t.DueAt == nil {
		return true
	}
	if t.Status == StatusCompleted && t.CompletedAt != nil {
		return !t.CompletedAt.After(*t.DueAt)
	}
	if t.Status == StatusOverdue {
		return false
	}
	return now.Before(*t.DueAt)
}

// ElapsedFraction returns the share of the SLA window consumed at now,
// or 0 without a deadline.
func (t *Task) ElapsedFraction(now time.Time) float64 {
	if t.DueAt == nil {
		return 0
	}
	window := t.DueAt.Sub(t.CreatedAt)
	if window <= 0 {
		return 1
	}
	return float64(now.Sub(t.CreatedAt)) / float64(window)
}

// TimeRemainingText is a display bucket for the time left before DueAt.
func (t *Task) TimeRemainingText(now time.Time) string {
	if t.DueAt == nil {
		return "No deadline"
	}
	left := t.DueAt.Sub(now)
	if left <= 0 || t.Status == StatusOverdue {
		return "Overdue"
	}
	switch {
	case left >= 24*time.Hour:
		return plural(int(left/(24*time.Hour)), "day")
	case left >= time.Hour:
		return plural(int(left/time.Hour), "hour")
	default:
		return plural(max(int(left/time.Minute), 1), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Clone returns a deep copy.
func (t Task) Clone() Task {
	c := t
	c.Assignee = clonePtr(t.Assignee)
	c.DueAt = clonePtr(t.DueAt)
	c.LastEscalatedAt = clonePtr(t.LastEscalatedAt)
	c.StartedAt = clonePtr(t.StartedAt)
	c.CompletedAt = clonePtr(t.CompletedAt)
	c.CompletedBy = clonePtr(t.CompletedBy)
	c.CancelledAt = clonePtr(t.CancelledAt)
	c.EscalationHistory = slices.Clone(t.EscalationHistory)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
