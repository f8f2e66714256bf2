package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/identity"
	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/pagination"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var errBoom = errors.New("boom")

func definition(name string, version int, active bool) definitions.Definition {
	return definitions.Definition{
		ID:           uuid.New(),
		Name:         name,
		Version:      version,
		InitialState: "draft",
		States:       []string{"draft", "legal_review", "approved"},
		FinalStates:  []string{"approved"},
		Transitions: []definitions.Transition{
			{From: "draft", To: "legal_review", Action: "submit_for_review"},
			{From: "legal_review", To: "approved", Action: "approve"},
		},
		Steps: map[string]definitions.Step{
			"legal_review": {AssignedRole: "legal", SLAHours: 48},
		},
		DefaultSLAHours: 72,
		Active:          active,
		CreatedAt:       t0,
	}
}

// storeSuite runs the behaviors every Store implementation must share.
// newStore returns an empty store.
func storeSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	seed := func(t *testing.T, st store.Store) (definitions.Definition, instances.Instance) {
		t.Helper()
		def := definition("contract_approval", 1, true)
		inst := instances.New(&def, "doc-1", "acme", "alice", t0)
		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			if err := tx.InsertDefinition(ctx, &def); err != nil {
				return err
			}
			return tx.InsertInstance(ctx, &inst)
		}))
		return def, inst
	}

	t.Run("DefinitionVersions", func(t *testing.T) {
		st := newStore(t)
		v1 := definition("contract_approval", 1, true)
		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			return tx.InsertDefinition(ctx, &v1)
		}))

		second := definition("contract_approval", 2, true)
		err := st.Atomic(ctx, func(tx store.Tx) error {
			return tx.InsertDefinition(ctx, &second)
		})
		assert.ErrorIs(t, err, store.ErrDuplicate)

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			if err := tx.DeactivateDefinitions(ctx, "contract_approval"); err != nil {
				return err
			}
			return tx.InsertDefinition(ctx, &second)
		}))

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			latest, err := tx.LatestVersion(ctx, "contract_approval")
			require.NoError(t, err)
			assert.Equal(t, 2, latest)

			none, err := tx.LatestVersion(ctx, "nda")
			require.NoError(t, err)
			assert.Zero(t, none)

			active, err := tx.ActiveDefinition(ctx, "contract_approval")
			require.NoError(t, err)
			assert.Equal(t, second.ID, active.ID)
			assert.Equal(t, second.Steps, active.Steps)
			assert.Equal(t, second.Transitions, active.Transitions)

			old, err := tx.FindDefinition(ctx, v1.ID)
			require.NoError(t, err)
			assert.False(t, old.Active)

			all, err := tx.ListDefinitions(ctx, false)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, 1, all[0].Version)
			assert.Equal(t, 2, all[1].Version)

			onlyActive, err := tx.ListDefinitions(ctx, true)
			require.NoError(t, err)
			require.Len(t, onlyActive, 1)
			assert.Equal(t, 2, onlyActive[0].Version)

			_, err = tx.FindDefinition(ctx, uuid.New())
			assert.ErrorIs(t, err, store.ErrNotFound)
			_, err = tx.ActiveDefinition(ctx, "nda")
			assert.ErrorIs(t, err, store.ErrNotFound)
			return nil
		}))
	})

	t.Run("DuplicateNameVersion", func(t *testing.T) {
		st := newStore(t)
		a := definition("nda", 1, false)
		b := definition("nda", 1, false)
		err := st.Atomic(ctx, func(tx store.Tx) error {
			if err := tx.InsertDefinition(ctx, &a); err != nil {
				return err
			}
			return tx.InsertDefinition(ctx, &b)
		})
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("InstanceVersionAndHistory", func(t *testing.T) {
		st := newStore(t)
		def, inst := seed(t, st)
		assert.Equal(t, 1, inst.Version)

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			found, err := tx.FindInstance(ctx, inst.ID)
			if err != nil {
				return err
			}
			if _, err := found.Transition(&def, "legal_review", "alice", "submit_for_review", "ready", t0.Add(time.Hour)); err != nil {
				return err
			}
			if err := tx.UpdateInstance(ctx, &found); err != nil {
				return err
			}
			assert.Equal(t, 2, found.Version)
			return nil
		}))

		stale := inst
		stale.CurrentState = "approved"
		err := st.Atomic(ctx, func(tx store.Tx) error {
			return tx.UpdateInstance(ctx, &stale)
		})
		assert.ErrorIs(t, err, store.ErrConflict)

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			found, err := tx.FindInstance(ctx, inst.ID)
			require.NoError(t, err)
			assert.Equal(t, "legal_review", found.CurrentState)
			assert.Equal(t, 2, found.Version)
			require.Equal(t, 1, found.History.Len())

			last, _ := found.History.Last()
			assert.Equal(t, "draft", last.From)
			assert.Equal(t, "legal_review", last.To)
			assert.Equal(t, "submit_for_review", last.Action)
			assert.Equal(t, "alice", last.Actor)
			assert.Equal(t, "ready", last.Comment)
			assert.WithinDuration(t, t0.Add(time.Hour), last.Timestamp, time.Microsecond)

			if _, err := found.Transition(&def, "approved", "bob", "approve", "", t0.Add(2*time.Hour)); err != nil {
				return err
			}
			return tx.UpdateInstance(ctx, &found)
		}))

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			found, err := tx.FindInstance(ctx, inst.ID)
			require.NoError(t, err)
			assert.Equal(t, instances.StatusCompleted, found.Status)
			require.NotNil(t, found.CompletedAt)
			entries := found.History.Entries()
			require.Len(t, entries, 2)
			assert.Equal(t, "submit_for_review", entries[0].Action)
			assert.Equal(t, "approve", entries[1].Action)

			_, err = tx.FindInstance(ctx, uuid.New())
			assert.ErrorIs(t, err, store.ErrNotFound)
			return nil
		}))
	})

	t.Run("InstanceRequiresDefinition", func(t *testing.T) {
		st := newStore(t)
		def := definition("orphan", 1, true)
		inst := instances.New(&def, "doc-1", "", "alice", t0)
		err := st.Atomic(ctx, func(tx store.Tx) error {
			return tx.InsertInstance(ctx, &inst)
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		st := newStore(t)
		def := definition("contract_approval", 1, true)
		err := st.Atomic(ctx, func(tx store.Tx) error {
			if err := tx.InsertDefinition(ctx, &def); err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			_, err := tx.FindDefinition(ctx, def.ID)
			assert.ErrorIs(t, err, store.ErrNotFound)
			return nil
		}))
	})

	t.Run("ListInstances", func(t *testing.T) {
		st := newStore(t)
		def, first := seed(t, st)

		second := instances.New(&def, "doc-2", "acme", "carol", t0.Add(time.Hour))
		third := instances.New(&def, "doc-3", "globex", "alice", t0.Add(2*time.Hour))
		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			if err := tx.InsertInstance(ctx, &second); err != nil {
				return err
			}
			return tx.InsertInstance(ctx, &third)
		}))

		list := func(page pagination.PageRequest, f store.InstanceFilter) pagination.PageResult[instances.Instance] {
			t.Helper()
			var out pagination.PageResult[instances.Instance]
			require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
				var err error
				out, err = tx.ListInstances(ctx, page, f)
				return err
			}))
			return out
		}
		ids := func(r pagination.PageResult[instances.Instance]) []uuid.UUID {
			out := make([]uuid.UUID, len(r.Data))
			for i, inst := range r.Data {
				out[i] = inst.ID
			}
			return out
		}

		all := list(pagination.PageRequest{Page: 1, PageSize: 10}, store.InstanceFilter{})
		assert.Equal(t, 3, all.Total)
		assert.Equal(t, []uuid.UUID{third.ID, second.ID, first.ID}, ids(all))

		acme := list(pagination.PageRequest{Page: 1, PageSize: 10}, store.InstanceFilter{Organization: "acme"})
		assert.Equal(t, []uuid.UUID{second.ID, first.ID}, ids(acme))

		byInitiator := list(pagination.PageRequest{Page: 1, PageSize: 10}, store.InstanceFilter{Initiator: "alice"})
		assert.Equal(t, []uuid.UUID{third.ID, first.ID}, ids(byInitiator))

		byDoc := list(pagination.PageRequest{Page: 1, PageSize: 10}, store.InstanceFilter{DocumentID: "doc-2"})
		assert.Equal(t, []uuid.UUID{second.ID}, ids(byDoc))

		byDef := list(pagination.PageRequest{Page: 1, PageSize: 10}, store.InstanceFilter{DefinitionID: &def.ID})
		assert.Equal(t, 3, byDef.Total)

		other := uuid.New()
		none := list(pagination.PageRequest{Page: 1, PageSize: 10}, store.InstanceFilter{DefinitionID: &other})
		assert.Zero(t, none.Total)
		assert.Empty(t, none.Data)

		completed := list(pagination.PageRequest{Page: 1, PageSize: 10}, store.InstanceFilter{Status: instances.StatusCompleted})
		assert.Zero(t, completed.Total)

		paged := list(pagination.PageRequest{Page: 2, PageSize: 2}, store.InstanceFilter{})
		assert.Equal(t, 3, paged.Total)
		assert.Equal(t, 2, paged.TotalPages)
		assert.Equal(t, []uuid.UUID{first.ID}, ids(paged))
	})

	t.Run("OneOpenTaskPerState", func(t *testing.T) {
		st := newStore(t)
		_, inst := seed(t, st)

		task := tasks.New(inst.ID, "acme", "legal_review", "legal", 48, t0)
		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			return tx.InsertTask(ctx, &task)
		}))
		assert.Equal(t, 1, task.Version)

		again := tasks.New(inst.ID, "acme", "legal_review", "legal", 48, t0)
		err := st.Atomic(ctx, func(tx store.Tx) error {
			return tx.InsertTask(ctx, &again)
		})
		assert.ErrorIs(t, err, store.ErrDuplicate)

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			found, err := tx.ActiveTask(ctx, inst.ID, "legal_review")
			require.NoError(t, err)
			assert.Equal(t, task.ID, found.ID)

			if err := found.Cancel(t0.Add(time.Hour)); err != nil {
				return err
			}
			if err := tx.UpdateTask(ctx, &found); err != nil {
				return err
			}
			_, err = tx.ActiveTask(ctx, inst.ID, "legal_review")
			assert.ErrorIs(t, err, store.ErrNotFound)
			return tx.InsertTask(ctx, &again)
		}))

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			all, err := tx.TasksForInstance(ctx, inst.ID)
			require.NoError(t, err)
			assert.Len(t, all, 2)
			return nil
		}))
	})

	t.Run("TaskCompareAndSwap", func(t *testing.T) {
		st := newStore(t)
		_, inst := seed(t, st)

		task := tasks.New(inst.ID, "acme", "legal_review", "legal", 48, t0)
		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			return tx.InsertTask(ctx, &task)
		}))

		bob := identity.NewUser("bob", "legal")
		claimed := task
		require.NoError(t, claimed.Claim(bob, t0.Add(time.Hour)))
		claimed.Escalate("overdue", t0.Add(2*time.Hour))
		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			return tx.UpdateTask(ctx, &claimed)
		}))
		assert.Equal(t, 2, claimed.Version)

		stale := task
		require.NoError(t, stale.Cancel(t0.Add(time.Hour)))
		err := st.Atomic(ctx, func(tx store.Tx) error {
			return tx.UpdateTask(ctx, &stale)
		})
		assert.ErrorIs(t, err, store.ErrConflict)

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			found, err := tx.FindTask(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, tasks.StatusInProgress, found.Status)
			require.NotNil(t, found.Assignee)
			assert.Equal(t, "bob", *found.Assignee)
			assert.Equal(t, 1, found.EscalationLevel)
			require.Len(t, found.EscalationHistory, 1)
			assert.Equal(t, "overdue", found.EscalationHistory[0].Reason)
			require.NotNil(t, found.DueAt)
			assert.WithinDuration(t, t0.Add(48*time.Hour), *found.DueAt, time.Microsecond)

			_, err = tx.FindTask(ctx, uuid.New())
			assert.ErrorIs(t, err, store.ErrNotFound)
			return nil
		}))
	})

	t.Run("TaskQueries", func(t *testing.T) {
		st := newStore(t)
		def, acme := seed(t, st)
		globex := instances.New(&def, "doc-2", "globex", "alice", t0)

		legal := tasks.New(acme.ID, "acme", "legal_review", "legal", 48, t0)
		open := tasks.New(acme.ID, "acme", "draft", "", 0, t0.Add(time.Minute))
		manager := tasks.New(globex.ID, "globex", "legal_review", "manager", 24, t0.Add(2*time.Minute))
		done := tasks.New(globex.ID, "globex", "draft", "legal", 12, t0.Add(3*time.Minute))
		require.NoError(t, done.Complete("bob", "", t0.Add(time.Hour)))

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			if err := tx.InsertInstance(ctx, &globex); err != nil {
				return err
			}
			for _, task := range []*tasks.Task{&legal, &open, &manager, &done} {
				if err := tx.InsertTask(ctx, task); err != nil {
					return err
				}
			}
			return nil
		}))

		taskIDs := func(found []tasks.Task) []uuid.UUID {
			out := make([]uuid.UUID, len(found))
			for i, task := range found {
				out[i] = task.ID
			}
			return out
		}

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			due, err := tx.OpenTasks(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []uuid.UUID{legal.ID, manager.ID}, taskIDs(due))

			forBob, err := tx.TasksForUser(ctx, "bob", []string{"legal"}, "")
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{legal.ID, open.ID}, taskIDs(forBob))

			carolAcme, err := tx.TasksForUser(ctx, "carol", []string{"manager"}, "acme")
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{open.ID}, taskIDs(carolAcme))

			carolAll, err := tx.TasksForUser(ctx, "carol", []string{"manager"}, "")
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{open.ID, manager.ID}, taskIDs(carolAll))

			nobody, err := tx.TasksForUser(ctx, "eve", nil, "globex")
			require.NoError(t, err)
			assert.Empty(t, nobody)
			return nil
		}))

		dana := identity.NewUser("dana", "manager")
		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			found, err := tx.FindTask(ctx, manager.ID)
			if err != nil {
				return err
			}
			if err := found.Claim(dana, t0.Add(time.Hour)); err != nil {
				return err
			}
			return tx.UpdateTask(ctx, &found)
		}))

		require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
			mine, err := tx.TasksForUser(ctx, "dana", nil, "")
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{open.ID, manager.ID}, taskIDs(mine))
			return nil
		}))
	})
}
