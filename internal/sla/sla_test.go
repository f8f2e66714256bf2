package sla_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/identity"
	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/notifications"
	"github.com/JaimeStill/steward/internal/sla"
	"github.com/JaimeStill/steward/internal/store"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/clock"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type job struct {
	at time.Time
	fn func(context.Context)
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]job
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]job)}
}

func (f *fakeJobs) ScheduleAt(at time.Time, key string, fn func(context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[key] = job{at: at, fn: fn}
}

func (f *fakeJobs) Cancel(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[key]
	delete(f.jobs, key)
	return ok
}

func (f *fakeJobs) get(key string) (job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[key]
	return j, ok
}

func (f *fakeJobs) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type outbox struct {
	mu   sync.Mutex
	sent []notifications.Notification
}

func (o *outbox) Notify(_ context.Context, n notifications.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, n)
	return nil
}

func (o *outbox) kinds() []notifications.Kind {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]notifications.Kind, len(o.sent))
	for i, n := range o.sent {
		out[i] = n.Kind
	}
	return out
}

type trail struct {
	mu     sync.Mutex
	events []audit.Event
}

func (t *trail) Record(_ context.Context, e audit.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	return nil
}

type fixture struct {
	store *store.Memory
	jobs  *fakeJobs
	out   *outbox
	trail *trail
	clock *clock.Manual
	sched *sla.Scheduler
	inst  instances.Instance
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := sla.Config{}
	require.NoError(t, cfg.Finalize())

	f := &fixture{
		store: store.NewMemory(),
		jobs:  newFakeJobs(),
		out:   &outbox{},
		trail: &trail{},
		clock: clock.NewManual(t0),
	}
	f.sched = sla.New(f.store, f.jobs, cfg,
		sla.WithNotifier(f.out),
		sla.WithAudit(f.trail),
		sla.WithClock(f.clock.Now),
		sla.WithLogger(slog.New(slog.DiscardHandler)),
	)

	def := definitions.Definition{
		ID:           uuid.New(),
		Name:         "contract_approval",
		Version:      1,
		InitialState: "legal_review",
		States:       []string{"legal_review", "approved"},
		FinalStates:  []string{"approved"},
		Transitions:  []definitions.Transition{{From: "legal_review", To: "approved", Action: "approve"}},
		Active:       true,
	}
	f.inst = instances.New(&def, "DOC-1", "acme", "alice", t0)

	require.NoError(t, f.store.Atomic(context.Background(), func(tx store.Tx) error {
		if err := tx.InsertDefinition(context.Background(), &def); err != nil {
			return err
		}
		return tx.InsertInstance(context.Background(), &f.inst)
	}))
	return f
}

func (f *fixture) addTask(t *testing.T, state string, slaHours int, created time.Time) tasks.Task {
	t.Helper()
	task := tasks.New(f.inst.ID, "acme", state, "legal", slaHours, created)
	require.NoError(t, f.store.Atomic(context.Background(), func(tx store.Tx) error {
		return tx.InsertTask(context.Background(), &task)
	}))
	return task
}

func (f *fixture) task(t *testing.T, id uuid.UUID) tasks.Task {
	t.Helper()
	var task tasks.Task
	require.NoError(t, f.store.Atomic(context.Background(), func(tx store.Tx) error {
		var err error
		task, err = tx.FindTask(context.Background(), id)
		return err
	}))
	return task
}

func (f *fixture) update(t *testing.T, task *tasks.Task) {
	t.Helper()
	require.NoError(t, f.store.Atomic(context.Background(), func(tx store.Tx) error {
		return tx.UpdateTask(context.Background(), task)
	}))
}

func TestConfigFinalize(t *testing.T) {
	cfg := sla.Config{WarningThresholds: []int{75, 50, 75}}
	require.NoError(t, cfg.Finalize())
	assert.Equal(t, []int{50, 75}, cfg.WarningThresholds)
	assert.Equal(t, []string{"manager", "admin"}, cfg.EscalationRoles)
	assert.Equal(t, 3, cfg.MaxRetries)

	bad := sla.Config{WarningThresholds: []int{100}}
	assert.Error(t, bad.Finalize())

	none := sla.Config{WarningThresholds: []int{}}
	require.NoError(t, none.Finalize())
	assert.Empty(t, none.WarningThresholds)
}

func TestArm(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, "legal_review", 48, t0)

	f.sched.Arm(task)

	overdue, ok := f.jobs.get(sla.OverdueKey(task.ID))
	require.True(t, ok)
	assert.Equal(t, t0.Add(48*time.Hour), overdue.at)

	half, ok := f.jobs.get(sla.WarningKey(task.ID, 50))
	require.True(t, ok)
	assert.Equal(t, t0.Add(24*time.Hour), half.at)

	late, ok := f.jobs.get(sla.WarningKey(task.ID, 75))
	require.True(t, ok)
	assert.Equal(t, t0.Add(36*time.Hour), late.at)

	f.sched.Disarm(task.ID)
	assert.Zero(t, f.jobs.len())
}

func TestArmSkipsPassedThresholds(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, "legal_review", 48, t0)
	f.clock.Advance(30 * time.Hour)

	f.sched.Arm(task)

	_, ok := f.jobs.get(sla.WarningKey(task.ID, 50))
	assert.False(t, ok)
	_, ok = f.jobs.get(sla.WarningKey(task.ID, 75))
	assert.True(t, ok)
	assert.Equal(t, 2, f.jobs.len())
}

func TestArmIgnoresTasksWithoutDeadline(t *testing.T) {
	f := newFixture(t)
	task := tasks.New(f.inst.ID, "acme", "legal_review", "legal", 0, t0)

	f.sched.Arm(task)
	assert.Zero(t, f.jobs.len())
}

func TestCheckOverdueBreaches(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, "legal_review", 48, t0)
	f.sched.Arm(task)

	f.clock.Set(t0.Add(49 * time.Hour))
	outcome, err := f.sched.CheckOverdue(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.Breached, outcome)

	stored := f.task(t, task.ID)
	assert.Equal(t, tasks.StatusOverdue, stored.Status)
	assert.Equal(t, 1, stored.EscalationLevel)
	assert.Equal(t, tasks.PriorityHigh, stored.Priority)
	require.Len(t, stored.EscalationHistory, 1)
	assert.Equal(t, sla.BreachReason, stored.EscalationHistory[0].Reason)

	assert.Equal(t, []notifications.Kind{notifications.KindSLABreached, notifications.KindTaskEscalated}, f.out.kinds())
	assert.Equal(t, []string{"manager", "admin"}, f.out.sent[0].Target.Roles)
	assert.Equal(t, []string{"legal"}, f.out.sent[1].Target.Roles)

	require.Len(t, f.trail.events, 1)
	assert.Equal(t, audit.ActionSLABreached, f.trail.events[0].Action)
	assert.Equal(t, task.ID.String(), f.trail.events[0].TargetID)

	assert.Zero(t, f.jobs.len())

	again, err := f.sched.CheckOverdue(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.Noop, again)
	assert.Equal(t, 1, f.task(t, task.ID).EscalationLevel)
}

func TestCheckOverdueNotifiesAssignee(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, "legal_review", 48, t0)
	require.NoError(t, task.Claim(identity.NewUser("bob", "legal"), t0))
	f.update(t, &task)

	f.clock.Set(t0.Add(48 * time.Hour))
	outcome, err := f.sched.CheckOverdue(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.Breached, outcome)

	assert.Equal(t, []string{"bob"}, f.out.sent[0].Target.Users)
	assert.Equal(t, []string{"bob"}, f.out.sent[1].Target.Users)
}

func TestCheckOverdueFiredEarlyReschedules(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, "legal_review", 48, t0)

	f.clock.Set(t0.Add(47 * time.Hour))
	outcome, err := f.sched.CheckOverdue(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.Rescheduled, outcome)
	assert.Equal(t, tasks.StatusPending, f.task(t, task.ID).Status)

	j, ok := f.jobs.get(sla.OverdueKey(task.ID))
	require.True(t, ok)
	assert.Equal(t, t0.Add(48*time.Hour), j.at)

	f.clock.Set(t0.Add(48 * time.Hour))
	j.fn(context.Background())
	assert.Equal(t, tasks.StatusOverdue, f.task(t, task.ID).Status)
}

func TestCheckOverdueNoops(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, "legal_review", 48, t0)
	require.NoError(t, task.Complete("bob", "", t0.Add(time.Hour)))
	f.update(t, &task)

	f.clock.Set(t0.Add(72 * time.Hour))
	outcome, err := f.sched.CheckOverdue(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.Noop, outcome)
	assert.Equal(t, tasks.StatusCompleted, f.task(t, task.ID).Status)

	outcome, err = f.sched.CheckOverdue(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, sla.Noop, outcome)

	assert.Empty(t, f.out.kinds())
	assert.Empty(t, f.trail.events)
}

func TestCheckWarning(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, "legal_review", 48, t0)

	f.clock.Set(t0.Add(24 * time.Hour))
	outcome, err := f.sched.CheckWarning(context.Background(), task.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, sla.Warned, outcome)

	require.Len(t, f.out.sent, 1)
	warning := f.out.sent[0]
	assert.Equal(t, notifications.KindSLAWarning, warning.Kind)
	assert.Equal(t, []string{"legal"}, warning.Target.Roles)
	assert.Equal(t, 50, warning.Payload["percentage_remaining"])
	assert.Contains(t, warning.Subject, "1 day")

	require.NoError(t, task.Claim(identity.NewUser("bob", "legal"), t0))
	f.update(t, &task)

	_, err = f.sched.CheckWarning(context.Background(), task.ID, 75)
	require.NoError(t, err)
	require.Len(t, f.out.sent, 2)
	assert.Equal(t, []string{"bob"}, f.out.sent[1].Target.Users)
	assert.Equal(t, 25, f.out.sent[1].Payload["percentage_remaining"])

	task = f.task(t, task.ID)
	require.NoError(t, task.Complete("bob", "", t0.Add(25*time.Hour)))
	f.update(t, &task)

	outcome, err = f.sched.CheckWarning(context.Background(), task.ID, 75)
	require.NoError(t, err)
	assert.Equal(t, sla.Noop, outcome)
	assert.Len(t, f.out.sent, 2)
}

func TestRearm(t *testing.T) {
	f := newFixture(t)
	late := f.addTask(t, "legal_review", 2, t0)

	f.clock.Set(t0.Add(3 * time.Hour))
	other := instances.New(&definitions.Definition{ID: f.inst.DefinitionID, InitialState: "legal_review"}, "DOC-2", "acme", "alice", f.clock.Now())
	require.NoError(t, f.store.Atomic(context.Background(), func(tx store.Tx) error {
		return tx.InsertInstance(context.Background(), &other)
	}))
	fresh := tasks.New(other.ID, "acme", "legal_review", "legal", 48, f.clock.Now())
	require.NoError(t, f.store.Atomic(context.Background(), func(tx store.Tx) error {
		return tx.InsertTask(context.Background(), &fresh)
	}))

	n, err := f.sched.Rearm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, tasks.StatusOverdue, f.task(t, late.ID).Status)
	_, ok := f.jobs.get(sla.OverdueKey(fresh.ID))
	assert.True(t, ok)
	_, ok = f.jobs.get(sla.OverdueKey(late.ID))
	assert.False(t, ok)
}

func TestRearmWithZeroConfig(t *testing.T) {
	f := newFixture(t)
	f.sched = sla.New(f.store, f.jobs, sla.Config{}, sla.WithClock(f.clock.Now))
	late := f.addTask(t, "legal_review", 2, t0)
	f.clock.Set(t0.Add(3 * time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	var (
		n   int
		err error
	)
	go func() {
		defer close(done)
		n, err = f.sched.Rearm(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rearm did not return")
	}
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, tasks.StatusOverdue, f.task(t, late.ID).Status)
}
