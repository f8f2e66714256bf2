package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/pagination"
)

// Instance returns an instance with its full history.
func (e *Engine) Instance(ctx context.Context, id uuid.UUID) (inst instances.Instance, err error) {
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		inst, err = tx.FindInstance(ctx, id)
		return notFound(err, instances.ErrNotFound)
	})
	return inst, err
}

// Instances lists instances matching filter, newest first by default.
func (e *Engine) Instances(ctx context.Context, page pagination.PageRequest, filter store.InstanceFilter) (result pagination.PageResult[instances.Instance], err error) {
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		result, err = tx.ListInstances(ctx, page, filter)
		return err
	})
	return result, err
}

// Tasks returns every task of an instance in creation order.
func (e *Engine) Tasks(ctx context.Context, instanceID uuid.UUID) (found []tasks.Task, err error) {
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.FindInstance(ctx, instanceID); err != nil {
			return notFound(err, instances.ErrNotFound)
		}
		found, err = tx.TasksForInstance(ctx, instanceID)
		return err
	})
	return found, err
}

// Task returns a task by id.
func (e *Engine) Task(ctx context.Context, id uuid.UUID) (task tasks.Task, err error) {
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		task, err = tx.FindTask(ctx, id)
		return notFound(err, tasks.ErrNotFound)
	})
	return task, err
}

// CurrentTask returns the open task occupying the instance's current state.
func (e *Engine) CurrentTask(ctx context.Context, instanceID uuid.UUID) (task tasks.Task, err error) {
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		inst, err := tx.FindInstance(ctx, instanceID)
		if err != nil {
			return notFound(err, instances.ErrNotFound)
		}
		task, err = tx.ActiveTask(ctx, inst.ID, inst.CurrentState)
		return notFound(err, tasks.ErrNotFound)
	})
	return task, err
}

// StateDurations reports the time the instance has spent in each state it
// has visited.
func (e *Engine) StateDurations(ctx context.Context, instanceID uuid.UUID) (map[string]time.Duration, error) {
	var out map[string]time.Duration
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		inst, def, err := e.load(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		now := e.now()
		out = make(map[string]time.Duration)
		out[def.InitialState] = inst.DurationInState(&def, def.InitialState, now)
		for _, entry := range inst.History.All() {
			if def.HasState(entry.To) {
				if _, seen := out[entry.To]; !seen {
					out[entry.To] = inst.DurationInState(&def, entry.To, now)
				}
			}
		}
		return nil
	})
	return out, err
}
