package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/tracing"
)

// StartWorkflow creates an instance of the active version of definitionName
// for doc, positioned at the initial state with one pending task.
func (e *Engine) StartWorkflow(ctx context.Context, definitionName string, doc Document, initiator string) (inst instances.Instance, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.start", "definition", definitionName, "document_id", doc.ID)
	defer func() { span.End(err) }()

	if initiator == "" {
		return inst, ErrMissingUser
	}
	if doc.ID == "" {
		return inst, fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}

	var task tasks.Task
	err = e.atomic(ctx, "start", func(tx store.Tx) error {
		def, err := tx.ActiveDefinition(ctx, definitionName)
		if err != nil {
			return notFound(err, definitions.ErrNotFound)
		}

		now := e.now()
		inst = instances.New(&def, doc.ID, doc.Organization, initiator, now)
		if err := tx.InsertInstance(ctx, &inst); err != nil {
			return err
		}

		task = newTask(&def, &inst, now)
		return tx.InsertTask(ctx, &task)
	})
	if err != nil {
		return instances.Instance{}, err
	}

	span.Set("instance_id", inst.ID.String())
	e.logger.Info("workflow started",
		"instance_id", inst.ID, "definition", definitionName, "document_id", doc.ID, "initiator", initiator)

	e.arm(task)
	e.taskCreated(ctx, task)
	e.record(ctx, audit.Event{
		EventType:  audit.TypeWorkflow,
		Action:     audit.ActionStarted,
		TargetType: audit.TypeWorkflow,
		TargetID:   inst.ID.String(),
		Actor:      initiator,
		Metadata:   map[string]any{"definition": definitionName, "document_id": doc.ID, "state": inst.CurrentState},
		At:         inst.StartedAt,
	})
	return inst, nil
}

func newTask(def *definitions.Definition, inst *instances.Instance, now time.Time) tasks.Task {
	state := inst.CurrentState
	return tasks.New(inst.ID, inst.Organization, state, def.RoleFor(state), def.SLAHoursFor(state), now)
}

// target resolves the destination state and action of a transition request.
type target func(tx store.Tx, inst *instances.Instance, def *definitions.Definition, current *tasks.Task) (to, action string, err error)

// transitionResult carries what a committed transition changed.
type transitionResult struct {
	instance  instances.Instance
	entry     instances.HistoryEntry
	completed *tasks.Task
	created   *tasks.Task
}

// PerformAction follows the transition labelled action out of the instance's
// current state.
func (e *Engine) PerformAction(ctx context.Context, instanceID uuid.UUID, actor, action, comment string) (instances.Instance, error) {
	return e.transition(ctx, "perform_action", instanceID, actor, comment,
		func(_ store.Tx, inst *instances.Instance, def *definitions.Definition, _ *tasks.Task) (string, string, error) {
			if inst.Status != instances.StatusActive {
				return "", "", fmt.Errorf("%w: %s", instances.ErrInvalidState, inst.Status)
			}
			to, ok := def.TargetFor(inst.CurrentState, action)
			if !ok {
				return "", "", fmt.Errorf("%w: no action %q from %s", instances.ErrTransitionNotAllowed, action, inst.CurrentState)
			}
			return to, action, nil
		})
}

// Transition moves the instance to state to. The action recorded is taken
// from the definition's transition table.
func (e *Engine) Transition(ctx context.Context, instanceID uuid.UUID, actor, to, comment string) (instances.Instance, error) {
	return e.transition(ctx, "transition", instanceID, actor, comment,
		func(store.Tx, *instances.Instance, *definitions.Definition, *tasks.Task) (string, string, error) {
			return to, "", nil
		})
}

// CompleteTask completes taskID and advances its instance. An empty action
// follows the state's only outgoing transition; with several, the action
// must be named.
func (e *Engine) CompleteTask(ctx context.Context, taskID uuid.UUID, actor, action, comment string) (instances.Instance, error) {
	var instanceID uuid.UUID
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		t, err := tx.FindTask(ctx, taskID)
		if err != nil {
			return notFound(err, tasks.ErrNotFound)
		}
		instanceID = t.InstanceID
		return nil
	})
	if err != nil {
		return instances.Instance{}, err
	}

	return e.transition(ctx, "complete_task", instanceID, actor, comment,
		func(tx store.Tx, inst *instances.Instance, def *definitions.Definition, current *tasks.Task) (string, string, error) {
			if current == nil || current.ID != taskID {
				t, err := tx.FindTask(ctx, taskID)
				if err == nil && t.IsTerminal() {
					return "", "", fmt.Errorf("%w: %s", tasks.ErrNotCompletable, t.Status)
				}
				return "", "", ErrTaskNotCurrent
			}
			if action != "" {
				to, ok := def.TargetFor(inst.CurrentState, action)
				if !ok {
					return "", "", fmt.Errorf("%w: no action %q from %s", instances.ErrTransitionNotAllowed, action, inst.CurrentState)
				}
				return to, action, nil
			}
			edges := def.ActionsFrom(inst.CurrentState)
			if len(edges) != 1 {
				return "", "", ErrActionRequired
			}
			return edges[0].To, edges[0].Action, nil
		})
}

// transition runs the transition protocol in one unit: the current task is
// completed before the history entry is appended, then the next task is
// created unless the target state is final.
func (e *Engine) transition(ctx context.Context, op string, instanceID uuid.UUID, actor, comment string, resolve target) (_ instances.Instance, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow."+op, "instance_id", instanceID.String(), "actor", actor)
	defer func() { span.End(err) }()

	p, err := e.principal(ctx, actor)
	if err != nil {
		return instances.Instance{}, err
	}

	var res transitionResult
	err = e.atomic(ctx, op, func(tx store.Tx) error {
		res = transitionResult{}

		inst, def, err := e.load(ctx, tx, instanceID)
		if err != nil {
			return err
		}

		var current *tasks.Task
		if t, err := tx.ActiveTask(ctx, inst.ID, inst.CurrentState); err == nil {
			current = &t
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		to, action, err := resolve(tx, &inst, &def, current)
		if err != nil {
			return err
		}
		if err := inst.CanTransition(&def, to); err != nil {
			return err
		}

		now := e.now()
		if current != nil {
			if !current.UserCanWork(p) {
				return fmt.Errorf("%w: %s cannot act on %s", tasks.ErrRoleMismatch, actor, current.State)
			}
			if err := current.Complete(actor, comment, now); err != nil {
				return err
			}
			if err := tx.UpdateTask(ctx, current); err != nil {
				return err
			}
			res.completed = current
		}

		res.entry, err = inst.Transition(&def, to, actor, action, comment, now)
		if err != nil {
			return err
		}

		if !def.IsFinal(to) {
			next := newTask(&def, &inst, now)
			if err := tx.InsertTask(ctx, &next); err != nil {
				return err
			}
			res.created = &next
		}

		if err := tx.UpdateInstance(ctx, &inst); err != nil {
			return err
		}
		res.instance = inst
		return nil
	})
	if err != nil {
		return instances.Instance{}, err
	}

	e.afterTransition(ctx, res)
	return res.instance, nil
}

func (e *Engine) load(ctx context.Context, tx store.Tx, id uuid.UUID) (instances.Instance, definitions.Definition, error) {
	inst, err := tx.FindInstance(ctx, id)
	if err != nil {
		return inst, definitions.Definition{}, notFound(err, instances.ErrNotFound)
	}
	def, err := tx.FindDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return inst, def, notFound(err, definitions.ErrNotFound)
	}
	return inst, def, nil
}

func (e *Engine) afterTransition(ctx context.Context, res transitionResult) {
	inst := res.instance
	e.logger.Info("workflow transitioned",
		"instance_id", inst.ID,
		"from", res.entry.From,
		"to", res.entry.To,
		"action", res.entry.Action,
		"actor", res.entry.Actor,
		"status", inst.Status,
	)

	if res.completed != nil {
		e.disarm(res.completed.ID)
		e.taskEvent(ctx, *res.completed, audit.ActionCompleted, res.entry.Actor)
	}
	if res.created != nil {
		e.arm(*res.created)
	}

	e.transitioned(ctx, inst, res.entry)
	if res.created != nil {
		e.taskCreated(ctx, *res.created)
	}

	e.record(ctx, audit.Event{
		EventType:  audit.TypeWorkflow,
		Action:     audit.ActionTransition,
		TargetType: audit.TypeWorkflow,
		TargetID:   inst.ID.String(),
		Actor:      res.entry.Actor,
		Metadata: map[string]any{
			"from":    res.entry.From,
			"to":      res.entry.To,
			"action":  res.entry.Action,
			"comment": res.entry.Comment,
			"status":  string(inst.Status),
		},
		At: res.entry.Timestamp,
	})

	if inst.Status == instances.StatusCompleted {
		e.archive(ctx, inst)
	}
}

// CancelWorkflow cancels the instance and every task still open on it in one
// unit.
func (e *Engine) CancelWorkflow(ctx context.Context, instanceID uuid.UUID, actor, reason string) (inst instances.Instance, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.cancel", "instance_id", instanceID.String(), "actor", actor)
	defer func() { span.End(err) }()

	if actor == "" {
		return inst, ErrMissingUser
	}

	var (
		entry     instances.HistoryEntry
		cancelled []tasks.Task
	)
	err = e.atomic(ctx, "cancel", func(tx store.Tx) error {
		cancelled = nil

		var err error
		inst, err = tx.FindInstance(ctx, instanceID)
		if err != nil {
			return notFound(err, instances.ErrNotFound)
		}

		now := e.now()
		if entry, err = inst.Cancel(actor, reason, now); err != nil {
			return err
		}

		owned, err := tx.TasksForInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		for _, t := range owned {
			if t.IsTerminal() {
				continue
			}
			if err := t.Cancel(now); err != nil {
				return err
			}
			if err := tx.UpdateTask(ctx, &t); err != nil {
				return err
			}
			cancelled = append(cancelled, t)
		}

		return tx.UpdateInstance(ctx, &inst)
	})
	if err != nil {
		return instances.Instance{}, err
	}

	e.logger.Info("workflow cancelled", "instance_id", inst.ID, "actor", actor, "tasks", len(cancelled))
	for _, t := range cancelled {
		e.disarm(t.ID)
		e.taskEvent(ctx, t, audit.ActionTaskCancel, actor)
	}
	e.cancelled(ctx, inst, entry)
	e.record(ctx, audit.Event{
		EventType:  audit.TypeWorkflow,
		Action:     audit.ActionCancelled,
		TargetType: audit.TypeWorkflow,
		TargetID:   inst.ID.String(),
		Actor:      actor,
		Metadata:   map[string]any{"reason": reason, "state": inst.CurrentState, "tasks_cancelled": len(cancelled)},
		At:         entry.Timestamp,
	})
	e.archive(ctx, inst)
	return inst, nil
}

// SuspendWorkflow pauses an active instance. Its state and tasks are kept.
func (e *Engine) SuspendWorkflow(ctx context.Context, instanceID uuid.UUID, actor, comment string) (instances.Instance, error) {
	return e.toggle(ctx, "suspend", audit.ActionSuspended, instanceID, actor, comment,
		func(inst *instances.Instance, now time.Time) (instances.HistoryEntry, error) {
			return inst.Suspend(actor, comment, now)
		})
}

// ResumeWorkflow reactivates a suspended instance.
func (e *Engine) ResumeWorkflow(ctx context.Context, instanceID uuid.UUID, actor, comment string) (instances.Instance, error) {
	return e.toggle(ctx, "resume", audit.ActionResumed, instanceID, actor, comment,
		func(inst *instances.Instance, now time.Time) (instances.HistoryEntry, error) {
			return inst.Resume(actor, comment, now)
		})
}

func (e *Engine) toggle(
	ctx context.Context,
	op, action string,
	instanceID uuid.UUID,
	actor, comment string,
	apply func(*instances.Instance, time.Time) (instances.HistoryEntry, error),
) (inst instances.Instance, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow."+op, "instance_id", instanceID.String(), "actor", actor)
	defer func() { span.End(err) }()

	if actor == "" {
		return inst, ErrMissingUser
	}

	var entry instances.HistoryEntry
	err = e.atomic(ctx, op, func(tx store.Tx) error {
		var err error
		inst, err = tx.FindInstance(ctx, instanceID)
		if err != nil {
			return notFound(err, instances.ErrNotFound)
		}
		if entry, err = apply(&inst, e.now()); err != nil {
			return err
		}
		return tx.UpdateInstance(ctx, &inst)
	})
	if err != nil {
		return instances.Instance{}, err
	}

	e.logger.Info("workflow status changed", "op", op, "instance_id", inst.ID, "status", inst.Status, "actor", actor)
	e.record(ctx, audit.Event{
		EventType:  audit.TypeWorkflow,
		Action:     action,
		TargetType: audit.TypeWorkflow,
		TargetID:   inst.ID.String(),
		Actor:      actor,
		Metadata:   map[string]any{"state": inst.CurrentState, "comment": comment},
		At:         entry.Timestamp,
	})
	return inst, nil
}
