// Package audit records an append-only trail of workflow actions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types and actions recorded by the engine and scheduler.
const (
	TypeWorkflow = "workflow"
	TypeTask     = "task"
	TypeSLA      = "sla"

	ActionStarted     = "workflow_started"
	ActionTransition  = "workflow_transition"
	ActionCancelled   = "workflow_cancelled"
	ActionSuspended   = "workflow_suspended"
	ActionResumed     = "workflow_resumed"
	ActionClaimed     = "task_claimed"
	ActionReleased    = "task_released"
	ActionCompleted   = "task_completed"
	ActionTaskCancel  = "task_cancelled"
	ActionSLABreached = "sla_breached"
)

// Event is one audit record.
type Event struct {
	EventType  string         `json:"event_type"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	At         time.Time      `json:"at"`
}

// Recorder appends events to an external sink.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

type discard struct{}

// Discard drops every event.
var Discard Recorder = discard{}

func (discard) Record(context.Context, Event) error { return nil }

// Log writes events to a logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging recorder.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("system", "audit")}
}

func (l *Log) Record(ctx context.Context, e Event) error {
	l.logger.InfoContext(ctx, "audit",
		"event_type", e.EventType,
		"action", e.Action,
		"target_type", e.TargetType,
		"target_id", e.TargetID,
		"actor", e.Actor,
		"metadata", e.Metadata,
	)
	return nil
}

// Postgres appends events to the audit_events table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres recorder.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Record(ctx context.Context, e Event) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO audit_events(id, event_type, action, target_type, target_id, actor, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), e.EventType, e.Action, e.TargetType, e.TargetID, e.Actor, raw, e.At,
	)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// Multi fans an event out to several recorders, returning the first error.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Event) error {
	var first error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
