// Package instances implements the workflow instance state machine: the
// transition protocol over a definition, the append-only history and the
// cancel, suspend and resume controls.
package instances

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/definitions"
)

// Status is the instance lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusSuspended Status = "suspended"
)

const (
	// CancelledState is the pseudo-state recorded by cancellation entries.
	CancelledState = "cancelled"

	ActionCancel  = "cancel"
	ActionSuspend = "suspend"
	ActionResume  = "resume"
)

// Instance is one execution of a definition bound to a document.
type Instance struct {
	ID           uuid.UUID  `json:"id"`
	DefinitionID uuid.UUID  `json:"definition_id"`
	DocumentID   string     `json:"document_id"`
	Organization string     `json:"organization"`
	Initiator    string     `json:"initiator"`
	CurrentState string     `json:"current_state"`
	Status       Status     `json:"status"`
	History      History    `json:"history"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	Version      int        `json:"version"`
}

// New starts an active instance at the definition's initial state.
// No history entry is written for the start.
func New(def *definitions.Definition, documentID, org, initiator string, now time.Time) Instance {
	return Instance{
		ID:           uuid.New(),
		DefinitionID: def.ID,
		DocumentID:   documentID,
		Organization: org,
		Initiator:    initiator,
		CurrentState: def.InitialState,
		Status:       StatusActive,
		StartedAt:    now,
	}
}

// IsTerminal reports whether the instance is completed or cancelled.
func (i *Instance) IsTerminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusCancelled
}

// CanTransition reports whether Transition to would succeed.
func (i *Instance) CanTransition(def *definitions.Definition, to string) error {
	if i.Status != StatusActive {
		return fmt.Errorf("%w: %s", ErrInvalidState, i.Status)
	}
	if !def.HasState(to) {
		return fmt.Errorf("%w: %q", ErrUnknownState, to)
	}
	if !def.TransitionAllowed(i.CurrentState, to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, i.CurrentState, to)
	}
	return nil
}

// Transition moves the instance to state to, appending a history entry.
// When action is empty it is taken from the definition's transition table.
// Reaching a final state completes the instance. The caller completes the
// outgoing task before calling and creates the incoming task afterward.
func (i *Instance) Transition(def *definitions.Definition, to, actor, action, comment string, now time.Time) (HistoryEntry, error) {
	if err := i.CanTransition(def, to); err != nil {
		return HistoryEntry{}, err
	}
	if action == "" {
		action = def.ActionFor(i.CurrentState, to)
	}

	entry := i.History.Append(HistoryEntry{
		From:      i.CurrentState,
		To:        to,
		Action:    action,
		Actor:     actor,
		Timestamp: now,
		Comment:   comment,
	})
	i.CurrentState = to

	if def.IsFinal(to) {
		i.Status = StatusCompleted
		i.CompletedAt = &entry.Timestamp
	}
	return entry, nil
}

// Cancel terminates an active instance. A suspended instance must be resumed
// first. Task cancellation is the caller's responsibility within the same
// unit of work.
func (i *Instance) Cancel(actor, reason string, now time.Time) (HistoryEntry, error) {
	if i.Status != StatusActive {
		return HistoryEntry{}, fmt.Errorf("%w: %s", ErrInvalidState, i.Status)
	}
	entry := i.History.Append(HistoryEntry{
		From:      i.CurrentState,
		To:        CancelledState,
		Action:    ActionCancel,
		Actor:     actor,
		Timestamp: now,
		Comment:   reason,
	})
	i.Status = StatusCancelled
	i.CancelledAt = &entry.Timestamp
	return entry, nil
}

// Suspend pauses an active instance without touching its state or tasks.
func (i *Instance) Suspend(actor, comment string, now time.Time) (HistoryEntry, error) {
	if i.Status != StatusActive {
		return HistoryEntry{}, fmt.Errorf("%w: %s", ErrInvalidState, i.Status)
	}
	i.Status = StatusSuspended
	return i.selfLoop(ActionSuspend, actor, comment, now), nil
}

// Resume reactivates a suspended instance.
func (i *Instance) Resume(actor, comment string, now time.Time) (HistoryEntry, error) {
	if i.Status != StatusSuspended {
		return HistoryEntry{}, fmt.Errorf("%w: %s", ErrNotSuspended, i.Status)
	}
	i.Status = StatusActive
	return i.selfLoop(ActionResume, actor, comment, now), nil
}

func (i *Instance) selfLoop(action, actor, comment string, now time.Time) HistoryEntry {
	return i.History.Append(HistoryEntry{
		From:      i.CurrentState,
		To:        i.CurrentState,
		Action:    action,
		Actor:     actor,
		Timestamp: now,
		Comment:   comment,
	})
}

// Stakeholders returns the initiator followed by every history actor, in
// order of first appearance without duplicates.
func (i *Instance) Stakeholders() []string {
	out := make([]string, 0, i.History.Len()+1)
	if i.Initiator != "" {
		out = append(out, i.Initiator)
	}
	for _, e := range i.History.All() {
		if e.Actor != "" && !slices.Contains(out, e.Actor) {
			out = append(out, e.Actor)
		}
	}
	return out
}

// DurationInState sums the time spent in state across every visit. The
// initial state is entered at StartedAt; an unmatched final visit runs until
// the instance terminated, or now while it is still running. Suspend and
// resume self-loops do not split a visit.
func (i *Instance) DurationInState(def *definitions.Definition, state string, now time.Time) time.Duration {
	var (
		total   time.Duration
		entered *time.Time
	)
	if def.InitialState == state {
		start := i.StartedAt
		entered = &start
	}

	for _, e := range i.History.All() {
		if e.From == e.To {
			continue
		}
		if e.From == state && entered != nil {
			total += e.Timestamp.Sub(*entered)
			entered = nil
		}
		if e.To == state {
			at := e.Timestamp
			entered = &at
		}
	}

	if entered != nil {
		end := now
		switch {
		case i.CompletedAt != nil:
			end = *i.CompletedAt
		case i.CancelledAt != nil:
			end = *i.CancelledAt
		}
		if end.After(*entered) {
			total += end.Sub(*entered)
		}
	}
	return total
}

// Replay recomputes the current state by walking history from the initial
// state, failing if any entry does not follow from its predecessor.
func (i *Instance) Replay(def *definitions.Definition) (string, error) {
	state := def.InitialState
	for n, e := range i.History.All() {
		if e.From != state {
			return "", fmt.Errorf("entry %d starts at %q, expected %q", n, e.From, state)
		}
		switch {
		case e.Action == ActionCancel && e.To == CancelledState:
			continue
		case e.From == e.To:
			continue
		case !def.TransitionAllowed(e.From, e.To):
			return "", fmt.Errorf("entry %d: %w: %s -> %s", n, ErrTransitionNotAllowed, e.From, e.To)
		}
		state = e.To
	}
	return state, nil
}

// Clone returns a deep copy.
func (i Instance) Clone() Instance {
	c := i
	c.History = NewHistory(i.History.entries)
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	if i.CancelledAt != nil {
		t := *i.CancelledAt
		c.CancelledAt = &t
	}
	return c
}
