package definitions_test

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/internal/definitions"
)

func contract() definitions.Definition {
	return definitions.Definition{
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
		Steps: map[string]definitions.Step{
			"draft":        {AssignedRole: "employee"},
			"legal_review": {AssignedRole: "legal", SLAHours: 48},
		},
		DefaultSLAHours: 72,
	}
}

func TestValidate(t *testing.T) {
	d := contract()
	require.NoError(t, d.Validate())

	tests := []struct {
		name   string
		mutate func(d *definitions.Definition)
		issue  string
	}{
		{"missing name", func(d *definitions.Definition) { d.Name = "" }, "name is required"},
		{"unknown initial", func(d *definitions.Definition) { d.InitialState = "intake" }, `initial_state "intake"`},
		{"final initial", func(d *definitions.Definition) { d.InitialState = "approved" }, "must not be final"},
		{"no final states", func(d *definitions.Definition) { d.FinalStates = nil }, "at least one final state"},
		{"duplicate state", func(d *definitions.Definition) { d.States = append(d.States, "draft") }, `duplicate state "draft"`},
		{"unknown target", func(d *definitions.Definition) {
			d.Transitions = append(d.Transitions, definitions.Transition{From: "draft", To: "archived", Action: "archive"})
		}, `to state "archived"`},
		{"edge from final", func(d *definitions.Definition) {
			d.Transitions = append(d.Transitions, definitions.Transition{From: "approved", To: "draft", Action: "reopen"})
		}, "final state \"approved\" has an outgoing"},
		{"duplicate action", func(d *definitions.Definition) {
			d.Transitions = append(d.Transitions, definitions.Transition{From: "legal_review", To: "rejected", Action: "approve"})
		}, `duplicate action "approve"`},
		{"dead end", func(d *definitions.Definition) {
			d.States = append(d.States, "limbo")
		}, `non-final state "limbo"`},
		{"negative sla", func(d *definitions.Definition) {
			d.Steps["draft"] = definitions.Step{SLAHours: -1}
		}, "sla_hours must not be negative"},
		{"orphan step", func(d *definitions.Definition) {
			d.Steps["intake"] = definitions.Step{}
		}, `step "intake"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := contract().Clone()
			d.Steps = map[string]definitions.Step{
				"draft":        {AssignedRole: "employee"},
				"legal_review": {AssignedRole: "legal", SLAHours: 48},
			}
			tt.mutate(&d)

			err := d.Validate()
			require.ErrorIs(t, err, definitions.ErrValidation)

			var verr *definitions.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, strings.Join(verr.Issues, "\n"), tt.issue)
			assert.Equal(t, http.StatusBadRequest, definitions.MapHTTPStatus(err))
		})
	}
}

func TestLookups(t *testing.T) {
	d := contract()

	assert.True(t, d.HasState("legal_review"))
	assert.False(t, d.HasState("archived"))
	assert.True(t, d.IsFinal("approved"))
	assert.False(t, d.IsFinal("draft"))

	assert.True(t, d.TransitionAllowed("draft", "legal_review"))
	assert.False(t, d.TransitionAllowed("draft", "approved"))
	assert.Equal(t, []string{"approved", "rejected", "draft"}, d.AvailableTransitions("legal_review"))
	assert.Empty(t, d.AvailableTransitions("approved"))
	assert.Len(t, d.ActionsFrom("legal_review"), 3)

	assert.Equal(t, "request_changes", d.ActionFor("legal_review", "draft"))
	assert.Equal(t, "", d.ActionFor("draft", "approved"))

	to, ok := d.TargetFor("legal_review", "reject")
	assert.True(t, ok)
	assert.Equal(t, "rejected", to)
	_, ok = d.TargetFor("draft", "approve")
	assert.False(t, ok)

	assert.Equal(t, 48, d.SLAHoursFor("legal_review"))
	assert.Equal(t, 72, d.SLAHoursFor("draft"))
	assert.Equal(t, 72, d.SLAHoursFor("approved"))
	assert.Equal(t, "legal", d.RoleFor("legal_review"))
	assert.Equal(t, "", d.RoleFor("approved"))
}

func TestNewVersion(t *testing.T) {
	d := contract()
	d.Version = 2
	d.Active = true

	next := d.NewVersion()
	next.Steps["legal_review"] = definitions.Step{AssignedRole: "legal", SLAHours: 24}
	next.States[0] = "changed"

	assert.NotEqual(t, d.ID, next.ID)
	assert.Equal(t, 3, next.Version)
	assert.False(t, next.Active)
	assert.Equal(t, 48, d.Steps["legal_review"].SLAHours)
	assert.Equal(t, "draft", d.States[0])
}

func TestSameShape(t *testing.T) {
	a := contract()
	b := contract().NewVersion()
	assert.True(t, definitions.SameShape(a, b))

	b.Steps["legal_review"] = definitions.Step{AssignedRole: "legal", SLAHours: 24}
	assert.False(t, definitions.SameShape(a, b))
}

func TestMapHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, definitions.MapHTTPStatus(definitions.ErrNotFound))
	assert.Equal(t, http.StatusConflict, definitions.MapHTTPStatus(definitions.ErrInactive))
	assert.Equal(t, http.StatusInternalServerError, definitions.MapHTTPStatus(errors.New("boom")))
}

func TestLoadYAML(t *testing.T) {
	src := `
name: expense
initial_state: submitted
states: [submitted, paid]
final_states: [paid]
transitions:
  - {from: submitted, to: paid, action: pay}
steps:
  submitted: {assigned_role: finance, sla_hours: 4}
`
	d, err := definitions.LoadYAML(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "expense", d.Name)
	assert.Equal(t, "finance", d.RoleFor("submitted"))

	_, err = definitions.LoadYAML(strings.NewReader(src + "owner: nobody\n"))
	assert.Error(t, err)

	_, err = definitions.LoadYAML(strings.NewReader("name: broken\nstates: [a]\n"))
	assert.ErrorIs(t, err, definitions.ErrValidation)
}

func TestLoadDir(t *testing.T) {
	t.Run("bundled definitions", func(t *testing.T) {
		defs, err := definitions.LoadDir(filepath.Join("..", "..", "definitions"))
		require.NoError(t, err)
		require.NotEmpty(t, defs)

		names := make([]string, len(defs))
		for i, d := range defs {
			names[i] = d.Name
		}
		assert.Contains(t, names, "contract_approval")
	})

	t.Run("missing dir", func(t *testing.T) {
		defs, err := definitions.LoadDir(filepath.Join(t.TempDir(), "absent"))
		require.NoError(t, err)
		assert.Empty(t, defs)
	})

	t.Run("skips other files and reports bad templates", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# notes"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yml"), []byte("name: bad\n"), 0o644))

		_, err := definitions.LoadDir(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.yml")
	})
}
