package instances_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/instances"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func contract() *definitions.Definition {
	return &definitions.Definition{
		ID:           uuid.New(),
		Name:         "contract_approval",
		InitialState: "draft",
		States:       []string{"draft", "legal_review", "approved", "rejected"},
		FinalStates:  []string{"approved", "rejected"},
		Transitions: []definitions.Transition{
			{From: "draft", To: "legal_review", Action: "submit_for_review"},
			{From: "legal_review", To: "approved", Action: "approve"},
			{From: "legal_review", To: "rejected", Action: "reject"},
			{From: "legal_review", To: "draft", Action: "request_changes"},
		},
	}
}

func TestNew(t *testing.T) {
	def := contract()
	inst := instances.New(def, "DOC-1", "acme", "alice", t0)

	assert.Equal(t, def.ID, inst.DefinitionID)
	assert.Equal(t, "draft", inst.CurrentState)
	assert.Equal(t, instances.StatusActive, inst.Status)
	assert.Zero(t, inst.History.Len())
}

func TestTransition(t *testing.T) {
	def := contract()
	inst := instances.New(def, "DOC-1", "acme", "alice", t0)

	entry, err := inst.Transition(def, "legal_review", "alice", "", "ready", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "submit_for_review", entry.Action)
	assert.Equal(t, "legal_review", inst.CurrentState)

	_, err = inst.Transition(def, "draft", "bob", "request_changes", "", t0.Add(2*time.Hour))
	require.NoError(t, err)

	_, err = inst.Transition(def, "approved", "bob", "", "", t0.Add(3*time.Hour))
	assert.ErrorIs(t, err, instances.ErrTransitionNotAllowed)
	assert.Equal(t, http.StatusUnprocessableEntity, instances.MapHTTPStatus(err))

	_, err = inst.Transition(def, "archived", "bob", "", "", t0.Add(3*time.Hour))
	assert.ErrorIs(t, err, instances.ErrUnknownState)

	_, err = inst.Transition(def, "legal_review", "alice", "", "", t0.Add(4*time.Hour))
	require.NoError(t, err)
	_, err = inst.Transition(def, "approved", "bob", "", "", t0.Add(5*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, instances.StatusCompleted, inst.Status)
	require.NotNil(t, inst.CompletedAt)
	assert.Equal(t, t0.Add(5*time.Hour), *inst.CompletedAt)
	assert.Equal(t, 4, inst.History.Len())

	_, err = inst.Transition(def, "draft", "bob", "", "", t0.Add(6*time.Hour))
	assert.ErrorIs(t, err, instances.ErrInvalidState)
	assert.Equal(t, 4, inst.History.Len())
}

func TestHistoryMonotonic(t *testing.T) {
	def := contract()
	inst := instances.New(def, "DOC-1", "acme", "alice", t0)

	_, err := inst.Transition(def, "legal_review", "alice", "", "", t0.Add(time.Hour))
	require.NoError(t, err)
	entry, err := inst.Transition(def, "draft", "bob", "", "", t0.Add(30*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, t0.Add(time.Hour), entry.Timestamp)

	restored := instances.NewHistory([]instances.HistoryEntry{
		{From: "draft", To: "legal_review", Timestamp: t0.Add(2 * time.Hour)},
		{From: "legal_review", To: "draft", Timestamp: t0},
	})
	last, ok := restored.Last()
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Hour), last.Timestamp)
}

func TestHistoryCopies(t *testing.T) {
	h := instances.NewHistory([]instances.HistoryEntry{
		{From: "draft", To: "legal_review", Actor: "alice", Timestamp: t0},
		{From: "legal_review", To: "approved", Actor: "bob", Timestamp: t0},
	})

	entries := h.Entries()
	entries[0].Actor = "mallory"
	assert.Equal(t, "alice", h.Entries()[0].Actor)

	since := h.Since(1)
	require.Len(t, since, 1)
	assert.Equal(t, "bob", since[0].Actor)
	assert.Nil(t, h.Since(5))

	_, ok := instances.History{}.Last()
	assert.False(t, ok)
}

func TestHistoryJSON(t *testing.T) {
	b, err := json.Marshal(instances.History{})
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(b))

	var h instances.History
	require.NoError(t, json.Unmarshal([]byte(`[
		{"from":"draft","to":"legal_review","action":"submit_for_review","actor":"alice","timestamp":"2026-03-02T10:00:00Z"},
		{"from":"legal_review","to":"draft","action":"request_changes","actor":"bob","timestamp":"2026-03-02T09:00:00Z"}
	]`), &h))

	require.Equal(t, 2, h.Len())
	last, _ := h.Last()
	assert.Equal(t, t0.Add(time.Hour), last.Timestamp)
}

func TestCancel(t *testing.T) {
	def := contract()
	inst := instances.New(def, "DOC-1", "acme", "alice", t0)

	entry, err := inst.Cancel("carol", "withdrawn", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, instances.StatusCancelled, inst.Status)
	assert.Equal(t, instances.CancelledState, entry.To)
	assert.Equal(t, "draft", inst.CurrentState)
	assert.Equal(t, "withdrawn", entry.Comment)

	_, err = inst.Cancel("carol", "", t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, instances.ErrInvalidState)
	assert.Equal(t, http.StatusConflict, instances.MapHTTPStatus(err))
}

func TestSuspendResume(t *testing.T) {
	def := contract()
	inst := instances.New(def, "DOC-1", "acme", "alice", t0)

	_, err := inst.Resume("carol", "", t0)
	assert.ErrorIs(t, err, instances.ErrNotSuspended)

	_, err = inst.Suspend("carol", "audit hold", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, instances.StatusSuspended, inst.Status)

	_, err = inst.Transition(def, "legal_review", "alice", "", "", t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, instances.ErrInvalidState)

	_, err = inst.Suspend("carol", "", t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, instances.ErrInvalidState)

	_, err = inst.Resume("carol", "", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, instances.StatusActive, inst.Status)
	assert.Equal(t, "draft", inst.CurrentState)

	state, err := inst.Replay(def)
	require.NoError(t, err)
	assert.Equal(t, "draft", state)

	_, err = inst.Suspend("carol", "", t0.Add(4*time.Hour))
	require.NoError(t, err)
	entries := inst.History.Len()
	_, err = inst.Cancel("carol", "", t0.Add(5*time.Hour))
	assert.ErrorIs(t, err, instances.ErrInvalidState)
	assert.Equal(t, instances.StatusSuspended, inst.Status)
	assert.Nil(t, inst.CancelledAt)
	assert.Equal(t, entries, inst.History.Len())
}

func TestStakeholders(t *testing.T) {
	def := contract()
	inst := instances.New(def, "DOC-1", "acme", "alice", t0)
	_, _ = inst.Transition(def, "legal_review", "alice", "", "", t0)
	_, _ = inst.Transition(def, "draft", "bob", "", "", t0)
	_, _ = inst.Transition(def, "legal_review", "alice", "", "", t0)
	_, _ = inst.Transition(def, "approved", "dana", "", "", t0)

	assert.Equal(t, []string{"alice", "bob", "dana"}, inst.Stakeholders())
}

func TestDurationInState(t *testing.T) {
	def := contract()
	inst := instances.New(def, "DOC-1", "acme", "alice", t0)

	_, _ = inst.Transition(def, "legal_review", "alice", "", "", t0.Add(2*time.Hour))
	_, _ = inst.Suspend("carol", "", t0.Add(3*time.Hour))
	_, _ = inst.Resume("carol", "", t0.Add(4*time.Hour))
	_, _ = inst.Transition(def, "draft", "bob", "", "", t0.Add(5*time.Hour))

	now := t0.Add(6 * time.Hour)
	assert.Equal(t, 3*time.Hour, inst.DurationInState(def, "draft", now))
	assert.Equal(t, 3*time.Hour, inst.DurationInState(def, "legal_review", now))
	assert.Zero(t, inst.DurationInState(def, "approved", now))

	_, _ = inst.Transition(def, "legal_review", "alice", "", "", t0.Add(7*time.Hour))
	_, _ = inst.Transition(def, "rejected", "bob", "", "", t0.Add(9*time.Hour))

	later := t0.Add(100 * time.Hour)
	assert.Equal(t, 5*time.Hour, inst.DurationInState(def, "legal_review", later))
	assert.Equal(t, 4*time.Hour, inst.DurationInState(def, "draft", later))
	assert.Zero(t, inst.DurationInState(def, "rejected", later))
}

func TestReplay(t *testing.T) {
	def := contract()
	inst := instances.New(def, "DOC-1", "acme", "alice", t0)
	_, _ = inst.Transition(def, "legal_review", "alice", "", "", t0)
	_, _ = inst.Transition(def, "rejected", "bob", "", "", t0)

	state, err := inst.Replay(def)
	require.NoError(t, err)
	assert.Equal(t, inst.CurrentState, state)

	broken := instances.New(def, "DOC-2", "acme", "alice", t0)
	broken.History = instances.NewHistory([]instances.HistoryEntry{
		{From: "draft", To: "approved", Action: "approve", Timestamp: t0},
	})
	_, err = broken.Replay(def)
	assert.ErrorIs(t, err, instances.ErrTransitionNotAllowed)

	gap := instances.New(def, "DOC-3", "acme", "alice", t0)
	gap.History = instances.NewHistory([]instances.HistoryEntry{
		{From: "legal_review", To: "approved", Action: "approve", Timestamp: t0},
	})
	_, err = gap.Replay(def)
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	def := contract()
	inst := instances.New(def, "DOC-1", "acme", "alice", t0)
	_, _ = inst.Transition(def, "legal_review", "alice", "", "", t0)

	c := inst.Clone()
	_, _ = c.Transition(def, "approved", "bob", "", "", t0.Add(time.Hour))

	assert.Equal(t, 1, inst.History.Len())
	assert.Equal(t, "legal_review", inst.CurrentState)
	assert.Nil(t, inst.CompletedAt)
}
