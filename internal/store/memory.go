package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/pagination"
)

// Memory is an in-process Store. Units are serialized by a single mutex and
// write to a copy of the maps that replaces the live maps only on success.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	definitions map[uuid.UUID]definitions.Definition
	instances   map[uuid.UUID]instances.Instance
	tasks       map[uuid.UUID]tasks.Task
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		state: memState{
			definitions: make(map[uuid.UUID]definitions.Definition),
			instances:   make(map[uuid.UUID]instances.Instance),
			tasks:       make(map[uuid.UUID]tasks.Task),
		},
	}
}

func (m *Memory) Atomic(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{state: memState{
		definitions: maps.Clone(m.state.definitions),
		instances:   maps.Clone(m.state.instances),
		tasks:       maps.Clone(m.state.tasks),
	}}

	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

type memTx struct {
	state memState
}

func (t *memTx) InsertDefinition(_ context.Context, def *definitions.Definition) error {
	if _, ok := t.state.definitions[def.ID]; ok {
		return ErrDuplicate
	}
	for _, d := range t.state.definitions {
		if d.Name == def.Name && d.Version == def.Version {
			return fmt.Errorf("%w: %s v%d", ErrDuplicate, def.Name, def.Version)
		}
		if def.Active && d.Active && d.Name == def.Name {
			return fmt.Errorf("%w: active %s", ErrDuplicate, def.Name)
		}
	}
	t.state.definitions[def.ID] = def.Clone()
	return nil
}

func (t *memTx) DeactivateDefinitions(_ context.Context, name string) error {
	for id, d := range t.state.definitions {
		if d.Name == name && d.Active {
			d = d.Clone()
			d.Active = false
			t.state.definitions[id] = d
		}
	}
	return nil
}

func (t *memTx) LatestVersion(_ context.Context, name string) (int, error) {
	latest := 0
	for _, d := range t.state.definitions {
		if d.Name == name && d.Version > latest {
			latest = d.Version
		}
	}
	return latest, nil
}

func (t *memTx) FindDefinition(_ context.Context, id uuid.UUID) (definitions.Definition, error) {
	d, ok := t.state.definitions[id]
	if !ok {
		return definitions.Definition{}, ErrNotFound
	}
	return d.Clone(), nil
}

func (t *memTx) ActiveDefinition(_ context.Context, name string) (definitions.Definition, error) {
	for _, d := range t.state.definitions {
		if d.Name == name && d.Active {
			return d.Clone(), nil
		}
	}
	return definitions.Definition{}, ErrNotFound
}

func (t *memTx) ListDefinitions(_ context.Context, activeOnly bool) ([]definitions.Definition, error) {
	out := make([]definitions.Definition, 0, len(t.state.definitions))
	for _, d := range t.state.definitions {
		if activeOnly && !d.Active {
			continue
		}
		out = append(out, d.Clone())
	}
	slices.SortFunc(out, func(a, b definitions.Definition) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Version, b.Version))
	})
	return out, nil
}

func (t *memTx) InsertInstance(_ context.Context, inst *instances.Instance) error {
	if _, ok := t.state.instances[inst.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := t.state.definitions[inst.DefinitionID]; !ok {
		return fmt.Errorf("%w: definition %s", ErrNotFound, inst.DefinitionID)
	}
	inst.Version = 1
	t.state.instances[inst.ID] = inst.Clone()
	return nil
}

func (t *memTx) FindInstance(_ context.Context, id uuid.UUID) (instances.Instance, error) {
	inst, ok := t.state.instances[id]
	if !ok {
		return instances.Instance{}, ErrNotFound
	}
	return inst.Clone(), nil
}

func (t *memTx) UpdateInstance(_ context.Context, inst *instances.Instance) error {
	stored, ok := t.state.instances[inst.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != inst.Version {
		return ErrConflict
	}
	inst.Version++
	t.state.instances[inst.ID] = inst.Clone()
	return nil
}

func (t *memTx) ListInstances(_ context.Context, page pagination.PageRequest, f InstanceFilter) (pagination.PageResult[instances.Instance], error) {
	out := make([]instances.Instance, 0)
	for _, inst := range t.state.instances {
		if f.Organization != "" && inst.Organization != f.Organization {
			continue
		}
		if f.Status != "" && inst.Status != f.Status {
			continue
		}
		if f.DefinitionID != nil && inst.DefinitionID != *f.DefinitionID {
			continue
		}
		if f.DocumentID != "" && inst.DocumentID != f.DocumentID {
			continue
		}
		if f.Initiator != "" && inst.Initiator != f.Initiator {
			continue
		}
		out = append(out, inst.Clone())
	}
	slices.SortFunc(out, func(a, b instances.Instance) int {
		return cmp.Or(b.StartedAt.Compare(a.StartedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return pagination.Slice(out, page), nil
}

func (t *memTx) InsertTask(_ context.Context, task *tasks.Task) error {
	if _, ok := t.state.tasks[task.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := t.state.instances[task.InstanceID]; !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, task.InstanceID)
	}
	if task.IsOpen() {
		for _, other := range t.state.tasks {
			if other.InstanceID == task.InstanceID && other.State == task.State && other.IsOpen() {
				return fmt.Errorf("%w: open task for state %q", ErrDuplicate, task.State)
			}
		}
	}
	task.Version = 1
	t.state.tasks[task.ID] = task.Clone()
	return nil
}

func (t *memTx) FindTask(_ context.Context, id uuid.UUID) (tasks.Task, error) {
	task, ok := t.state.tasks[id]
	if !ok {
		return tasks.Task{}, ErrNotFound
	}
	return task.Clone(), nil
}

func (t *memTx) UpdateTask(_ context.Context, task *tasks.Task) error {
	stored, ok := t.state.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != task.Version {
		return ErrConflict
	}
	task.Version++
	t.state.tasks[task.ID] = task.Clone()
	return nil
}

func (t *memTx) TasksForInstance(_ context.Context, instanceID uuid.UUID) ([]tasks.Task, error) {
	return t.collect(func(task *tasks.Task) bool {
		return task.InstanceID == instanceID
	}), nil
}

func (t *memTx) ActiveTask(_ context.Context, instanceID uuid.UUID, state string) (tasks.Task, error) {
	found := t.collect(func(task *tasks.Task) bool {
		return task.InstanceID == instanceID && task.State == state && task.IsOpen()
	})
	if len(found) == 0 {
		return tasks.Task{}, ErrNotFound
	}
	return found[0], nil
}

func (t *memTx) OpenTasks(_ context.Context) ([]tasks.Task, error) {
	return t.collect(func(task *tasks.Task) bool {
		return task.IsActive() && task.DueAt != nil
	}), nil
}

func (t *memTx) TasksForUser(_ context.Context, user string, roles []string, org string) ([]tasks.Task, error) {
	return t.collect(func(task *tasks.Task) bool {
		if task.IsTerminal() {
			return false
		}
		if org != "" && task.Organization != org {
			return false
		}
		if task.AssignedTo(user) {
			return true
		}
		return task.AssignedRole == "" || slices.Contains(roles, task.AssignedRole)
	}), nil
}

func (t *memTx) collect(match func(*tasks.Task) bool) []tasks.Task {
	out := make([]tasks.Task, 0)
	for _, task := range t.state.tasks {
		if match(&task) {
			out = append(out, task.Clone())
		}
	}
	slices.SortFunc(out, func(a, b tasks.Task) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out
}

var _ Store = (*Memory)(nil)
