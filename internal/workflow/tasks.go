package workflow

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/identity"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/tracing"
)

// ClaimTask assigns a pending task to user. The write is conditional on the
// version read, so of several concurrent claims exactly one succeeds and the
// rest observe the task in progress.
func (e *Engine) ClaimTask(ctx context.Context, taskID uuid.UUID, user string) (tasks.Task, error) {
	return e.mutateTask(ctx, "claim_task", audit.ActionClaimed, taskID, user,
		func(t *tasks.Task, p identity.Principal) error {
			return t.Claim(p, e.now())
		})
}

// ReleaseTask returns an in-progress task to the pool. Only the assignee may release it.
func (e *Engine) ReleaseTask(ctx context.Context, taskID uuid.UUID, user string) (tasks.Task, error) {
	return e.mutateTask(ctx, "release_task", audit.ActionReleased, taskID, user,
		func(t *tasks.Task, p identity.Principal) error {
			return t.Release(p.ID())
		})
}

// CancelTask cancels a single non-terminal task without moving its instance.
// The actor must be able to work the task.
func (e *Engine) CancelTask(ctx context.Context, taskID uuid.UUID, actor string) (tasks.Task, error) {
	t, err := e.mutateTask(ctx, "cancel_task", audit.ActionTaskCancel, taskID, actor,
		func(t *tasks.Task, p identity.Principal) error {
			if !t.IsTerminal() && !t.UserCanWork(p) {
				return tasks.ErrRoleMismatch
			}
			return t.Cancel(e.now())
		})
	if err == nil {
		e.disarm(t.ID)
	}
	return t, err
}

func (e *Engine) mutateTask(
	ctx context.Context,
	op, action string,
	taskID uuid.UUID,
	user string,
	apply func(*tasks.Task, identity.Principal) error,
) (task tasks.Task, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow."+op, "task_id", taskID.String(), "user", user)
	defer func() { span.End(err) }()

	p, err := e.principal(ctx, user)
	if err != nil {
		return task, err
	}

	err = e.atomic(ctx, op, func(tx store.Tx) error {
		var err error
		task, err = tx.FindTask(ctx, taskID)
		if err != nil {
			return notFound(err, tasks.ErrNotFound)
		}
		if err := apply(&task, p); err != nil {
			return err
		}
		return tx.UpdateTask(ctx, &task)
	})
	if err != nil {
		return tasks.Task{}, err
	}

	e.logger.Info("task updated", "op", op, "task_id", task.ID, "status", task.Status, "user", user)
	e.taskEvent(ctx, task, action, user)
	return task, nil
}

// MyTasks lists open tasks assigned to user or offered to one of user's
// roles, most urgent first. A non-empty org restricts the result to that
// organization.
func (e *Engine) MyTasks(ctx context.Context, user, org string) (found []tasks.Task, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.my_tasks", "user", user)
	defer func() { span.End(err) }()

	if user == "" {
		return nil, ErrMissingUser
	}
	roles := e.directory.Roles(ctx, user)

	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		found, err = tx.TasksForUser(ctx, user, roles, org)
		return err
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(found, byUrgency)
	return found, nil
}

func byUrgency(a, b tasks.Task) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	switch {
	case a.DueAt != nil && b.DueAt != nil:
		if c := a.DueAt.Compare(*b.DueAt); c != 0 {
			return c
		}
	case a.DueAt != nil:
		return -1
	case b.DueAt != nil:
		return 1
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}
