package definitions

import (
	"fmt"
	"slices"
)

// Validate checks the structural invariants of the definition and returns a
// *ValidationError describing every violation, or nil.
func (d *Definition) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if d.Name == "" {
		add("name is required")
	}
	if len(d.States) == 0 {
		add("at least one state is required")
	}

	seen := make(map[string]bool, len(d.States))
	for _, s := range d.States {
		switch {
		case s == "":
			add("state names must not be empty")
		case seen[s]:
			add("duplicate state %q", s)
		}
		seen[s] = true
	}

	switch {
	case d.InitialState == "":
		add("initial_state is required")
	case !seen[d.InitialState]:
		add("initial_state %q is not a declared state", d.InitialState)
	case slices.Contains(d.FinalStates, d.InitialState):
		add("initial_state %q must not be final", d.InitialState)
	}

	if len(d.FinalStates) == 0 {
		add("at least one final state is required")
	}
	for _, f := range d.FinalStates {
		if !seen[f] {
			add("final state %q is not a declared state", f)
		}
	}

	edges := make(map[[2]string]bool, len(d.Transitions))
	outgoing := make(map[string]bool)
	for i, t := range d.Transitions {
		if !seen[t.From] {
			add("transition %d: from state %q is not a declared state", i, t.From)
		}
		if !seen[t.To] {
			add("transition %d: to state %q is not a declared state", i, t.To)
		}
		if t.Action == "" {
			add("transition %d: action is required", i)
		}
		if slices.Contains(d.FinalStates, t.From) {
			add("transition %d: final state %q has an outgoing transition", i, t.From)
		}
		key := [2]string{t.From, t.Action}
		if edges[key] {
			add("transition %d: duplicate action %q from %q", i, t.Action, t.From)
		}
		edges[key] = true
		outgoing[t.From] = true
	}

	for _, s := range d.States {
		if s != "" && !slices.Contains(d.FinalStates, s) && !outgoing[s] {
			add("non-final state %q has no outgoing transition", s)
		}
	}

	for state, step := range d.Steps {
		if !seen[state] {
			add("step %q is not a declared state", state)
		}
		if step.SLAHours < 0 {
			add("step %q: sla_hours must not be negative", state)
		}
	}
	if d.DefaultSLAHours < 0 {
		add("default_sla_hours must not be negative")
	}

	if len(issues) > 0 {
		return &ValidationError{Name: d.Name, Issues: issues}
	}
	return nil
}

// SameShape reports whether two definitions describe the same state machine,
// ignoring identity, version and activation.
func SameShape(a, b Definition) bool {
	if a.Name != b.Name || a.InitialState != b.InitialState || a.DefaultSLAHours != b.DefaultSLAHours || a.Description != b.Description {
		return false
	}
	if !slices.Equal(a.States, b.States) || !slices.Equal(a.FinalStates, b.FinalStates) || !slices.Equal(a.Transitions, b.Transitions) {
		return false
	}
	if len(a.Steps) != len(b.Steps) {
		return false
	}
	for k, v := range a.Steps {
		if w, ok := b.Steps[k]; !ok || w != v {
			return false
		}
	}
	return true
}
