package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/archive"
	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/notifications"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/internal/tasks"
)

func (e *Engine) arm(t tasks.Task) {
	if e.scheduler != nil {
		e.scheduler.Arm(t)
	}
}

func (e *Engine) disarm(id uuid.UUID) {
	if e.scheduler != nil {
		e.scheduler.Disarm(id)
	}
}

func (e *Engine) notify(ctx context.Context, n notifications.Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notification failed", "kind", n.Kind, "error", err)
	}
}

func (e *Engine) record(ctx context.Context, ev audit.Event) {
	if err := e.audit.Record(ctx, ev); err != nil {
		e.logger.Warn("audit record failed", "action", ev.Action, "target_id", ev.TargetID, "error", err)
	}
}

func (e *Engine) transitioned(ctx context.Context, inst instances.Instance, entry instances.HistoryEntry) {
	e.notify(ctx, notifications.New(
		notifications.KindTransition,
		notifications.Users(inst.Stakeholders()...),
		fmt.Sprintf("Workflow moved from %s to %s", entry.From, entry.To),
		map[string]any{
			"instance_id": inst.ID.String(),
			"document_id": inst.DocumentID,
			"from":        entry.From,
			"to":          entry.To,
			"action":      entry.Action,
			"actor":       entry.Actor,
			"status":      string(inst.Status),
		},
		entry.Timestamp,
	))
}

func (e *Engine) taskCreated(ctx context.Context, t tasks.Task) {
	if t.AssignedRole == "" {
		return
	}
	e.notify(ctx, notifications.New(
		notifications.KindTaskCreated,
		notifications.Roles(t.AssignedRole),
		fmt.Sprintf("New task available: %s", t.State),
		map[string]any{
			"task_id":     t.ID.String(),
			"instance_id": t.InstanceID.String(),
			"state":       t.State,
			"due_at":      t.DueAt,
		},
		t.CreatedAt,
	))
}

func (e *Engine) cancelled(ctx context.Context, inst instances.Instance, entry instances.HistoryEntry) {
	e.notify(ctx, notifications.New(
		notifications.KindCancelled,
		notifications.Users(inst.Stakeholders()...),
		"Workflow cancelled",
		map[string]any{
			"instance_id": inst.ID.String(),
			"document_id": inst.DocumentID,
			"state":       inst.CurrentState,
			"reason":      entry.Comment,
			"actor":       entry.Actor,
		},
		entry.Timestamp,
	))
}

func (e *Engine) taskEvent(ctx context.Context, t tasks.Task, action, actor string) {
	e.record(ctx, audit.Event{
		EventType:  audit.TypeTask,
		Action:     action,
		TargetType: audit.TypeTask,
		TargetID:   t.ID.String(),
		Actor:      actor,
		Metadata: map[string]any{
			"instance_id": t.InstanceID.String(),
			"state":       t.State,
			"status":      string(t.Status),
		},
		At: e.now(),
	})
}

// archive stores a snapshot of a terminated instance. Failures are logged.
func (e *Engine) archive(ctx context.Context, inst instances.Instance) {
	if e.archiver == nil {
		return
	}

	snap := archive.Snapshot{Instance: inst, ArchivedAt: e.now()}
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if snap.Definition, err = tx.FindDefinition(ctx, inst.DefinitionID); err != nil {
			return err
		}
		snap.Tasks, err = tx.TasksForInstance(ctx, inst.ID)
		return err
	})
	if err != nil {
		e.logger.Warn("archive snapshot failed", "instance_id", inst.ID, "error", err)
		return
	}

	key, err := e.archiver.Archive(ctx, snap)
	if err != nil {
		e.logger.Warn("archive upload failed", "instance_id", inst.ID, "error", err)
		return
	}
	e.logger.Info("instance archived", "instance_id", inst.ID, "key", key)
}
