// Package definitions holds versioned workflow templates: the states an
// instance may occupy, the action-labelled edges between them and the role and
// SLA configuration of each state.
package definitions

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Transition is a directed edge between two states labelled with the action
// that triggers it.
type Transition struct {
	From   string `json:"from" yaml:"from"`
	To     string `json:"to" yaml:"to"`
	Action string `json:"action" yaml:"action"`
}

// Step configures the task created when an instance enters a state.
type Step struct {
	AssignedRole string `json:"assigned_role,omitempty" yaml:"assigned_role"`
	SLAHours     int    `json:"sla_hours,omitempty" yaml:"sla_hours"`
	Description  string `json:"description,omitempty" yaml:"description"`
}

// Definition is an immutable (per version) workflow template.
type Definition struct {
	ID              uuid.UUID       `json:"id" yaml:"-"`
	Name            string          `json:"name" yaml:"name"`
	Version         int             `json:"version" yaml:"-"`
	Description     string          `json:"description,omitempty" yaml:"description"`
	InitialState    string          `json:"initial_state" yaml:"initial_state"`
	States          []string        `json:"states" yaml:"states"`
	FinalStates     []string        `json:"final_states" yaml:"final_states"`
	Transitions     []Transition    `json:"transitions" yaml:"transitions"`
	Steps           map[string]Step `json:"steps" yaml:"steps"`
	DefaultSLAHours int             `json:"default_sla_hours" yaml:"default_sla_hours"`
	Active          bool            `json:"active" yaml:"-"`
	CreatedAt       time.Time       `json:"created_at" yaml:"-"`
}

// HasState reports whether state belongs to the definition.
func (d *Definition) HasState(state string) bool {
	return slices.Contains(d.States, state)
}

// IsFinal reports whether state is terminal.
func (d *Definition) IsFinal(state string) bool {
	return slices.Contains(d.FinalStates, state)
}

// TransitionAllowed reports whether an edge from -> to exists.
func (d *Definition) TransitionAllowed(from, to string) bool {
	for _, t := range d.Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// AvailableTransitions lists the distinct target states reachable from from,
// in declaration order.
func (d *Definition) AvailableTransitions(from string) []string {
	targets := make([]string, 0)
	for _, t := range d.Transitions {
		if t.From == from && !slices.Contains(targets, t.To) {
			targets = append(targets, t.To)
		}
	}
	return targets
}

// ActionsFrom lists the edges leaving from, in declaration order.
func (d *Definition) ActionsFrom(from string) []Transition {
	out := make([]Transition, 0)
	for _, t := range d.Transitions {
		if t.From == from {
			out = append(out, t)
		}
	}
	return out
}

// ActionFor returns the action of the first edge from -> to, or "" when none exists.
func (d *Definition) ActionFor(from, to string) string {
	for _, t := range d.Transitions {
		if t.From == from && t.To == to {
			return t.Action
		}
	}
	return ""
}

// TargetFor resolves the state reached by performing action in from.
func (d *Definition) TargetFor(from, action string) (string, bool) {
	for _, t := range d.Transitions {
		if t.From == from && t.Action == action {
			return t.To, true
		}
	}
	return "", false
}

// StepFor returns the step configuration for state.
func (d *Definition) StepFor(state string) (Step, bool) {
	step, ok := d.Steps[state]
	return step, ok
}

// SLAHoursFor returns the state's SLA, falling back to DefaultSLAHours when
// the step has none.
func (d *Definition) SLAHoursFor(state string) int {
	if step, ok := d.Steps[state]; ok && step.SLAHours > 0 {
		return step.SLAHours
	}
	return d.DefaultSLAHours
}

// RoleFor returns the role assigned to state's task, "" meaning anyone.
func (d *Definition) RoleFor(state string) string {
	return d.Steps[state].AssignedRole
}

// Clone returns a deep copy.
func (d Definition) Clone() Definition {
	c := d
	c.States = slices.Clone(d.States)
	c.FinalStates = slices.Clone(d.FinalStates)
	c.Transitions = slices.Clone(d.Transitions)
	c.Steps = maps.Clone(d.Steps)
	return c
}

// NewVersion copies the definition under a new id with the version
// incremented. The copy is inactive until stored; the store deactivates the
// predecessor in the same unit.
func (d Definition) NewVersion() Definition {
	next := d.Clone()
	next.ID = uuid.New()
	next.Version = d.Version + 1
	next.Active = false
	next.CreatedAt = time.Time{}
	return next
}
