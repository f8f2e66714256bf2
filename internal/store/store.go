// Package store persists definitions, instances and tasks. Every engine
// operation runs inside one Atomic unit; instances and tasks carry a version
// and updates are compare-and-swap on it.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/repository"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a uniqueness rule,
	// including a second active task for one (instance, state).
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict is returned when a versioned update lost a race.
	ErrConflict = repository.ErrConflict
)

// Store runs units of work.
type Store interface {
	// Atomic runs fn in a single unit; any error rolls back every write.
	Atomic(ctx context.Context, fn func(Tx) error) error
}

// InstanceFilter narrows ListInstances. Empty fields are ignored.
type InstanceFilter struct {
	Organization string
	Status       instances.Status
	DefinitionID *uuid.UUID
	DocumentID   string
	Initiator    string
}

// Tx is the set of reads and writes available inside a unit.
type Tx interface {
	InsertDefinition(ctx context.Context, def *definitions.Definition) error
	// DeactivateDefinitions clears the active flag on every version of name.
	DeactivateDefinitions(ctx context.Context, name string) error
	// LatestVersion returns the highest stored version of name, or 0.
	LatestVersion(ctx context.Context, name string) (int, error)
	FindDefinition(ctx context.Context, id uuid.UUID) (definitions.Definition, error)
	ActiveDefinition(ctx context.Context, name string) (definitions.Definition, error)
	ListDefinitions(ctx context.Context, activeOnly bool) ([]definitions.Definition, error)

	// InsertInstance stores a new instance and sets its Version to 1.
	InsertInstance(ctx context.Context, inst *instances.Instance) error
	FindInstance(ctx context.Context, id uuid.UUID) (instances.Instance, error)
	// UpdateInstance writes inst if the stored version equals inst.Version,
	// appends history entries not yet stored and increments inst.Version.
	UpdateInstance(ctx context.Context, inst *instances.Instance) error
	ListInstances(ctx context.Context, page pagination.PageRequest, filter InstanceFilter) (pagination.PageResult[instances.Instance], error)

	// InsertTask stores a new task and sets its Version to 1.
	InsertTask(ctx context.Context, task *tasks.Task) error
	FindTask(ctx context.Context, id uuid.UUID) (tasks.Task, error)
	// UpdateTask writes task if the stored version equals task.Version and
	// increments task.Version.
	UpdateTask(ctx context.Context, task *tasks.Task) error
	TasksForInstance(ctx context.Context, instanceID uuid.UUID) ([]tasks.Task, error)
	// ActiveTask returns the non-terminal task occupying state.
	ActiveTask(ctx context.Context, instanceID uuid.UUID, state string) (tasks.Task, error)
	// OpenTasks returns every pending or in-progress task with a deadline.
	OpenTasks(ctx context.Context) ([]tasks.Task, error)
	// TasksForUser returns non-terminal tasks assigned to user or open to one
	// of roles, scoped to org when org is not empty.
	TasksForUser(ctx context.Context, user string, roles []string, org string) ([]tasks.Task, error)
}
