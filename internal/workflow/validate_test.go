package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	apperr "github.com/mcpflow/mcpflow/internal/errors"
)

func step(id string, deps ...string) Step {
	return Step{ID: id, Server: "alpha", Tool: "echo", DependsOn: deps}
}

func TestDefinition_Validate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		def     Definition
		wantErr string
	}{
		{
			name:    "empty name",
			def:     Definition{Steps: []Step{step("a")}},
			wantErr: "name cannot be empty",
		},
		{
			name:    "no steps",
			def:     Definition{Name: "empty"},
			wantErr: "has no steps",
		},
		{
			name:    "unknown mode",
			def:     Definition{Name: "wf", Mode: "sideways", Steps: []Step{step("a")}},
			wantErr: "unknown execution mode",
		},
		{
			name:    "unknown failure policy",
			def:     Definition{Name: "wf", OnFailure: "shrug", Steps: []Step{step("a")}},
			wantErr: "unknown failure policy",
		},
		{
			name:    "step without id",
			def:     Definition{Name: "wf", Steps: []Step{{Server: "alpha", Tool: "echo"}}},
			wantErr: "has no id",
		},
		{
			name:    "duplicate step ids",
			def:     Definition{Name: "wf", Steps: []Step{step("a"), step("a")}},
			wantErr: "duplicate step id",
		},
		{
			name:    "step without server",
			def:     Definition{Name: "wf", Steps: []Step{{ID: "a", Tool: "echo"}}},
			wantErr: "must name a server and a tool",
		},
		{
			name:    "step without tool",
			def:     Definition{Name: "wf", Steps: []Step{{ID: "a", Server: "alpha"}}},
			wantErr: "must name a server and a tool",
		},
		{
			name:    "unknown dependency",
			def:     Definition{Name: "wf", Steps: []Step{step("a", "ghost")}},
			wantErr: "unknown step",
		},
		{
			name:    "self dependency",
			def:     Definition{Name: "wf", Steps: []Step{step("a", "a")}},
			wantErr: "depends on itself",
		},
		{
			name:    "two step cycle",
			def:     Definition{Name: "wf", Steps: []Step{step("a", "b"), step("b", "a")}},
			wantErr: "dependency cycle",
		},
		{
			name: "longer cycle",
			def: Definition{Name: "wf", Steps: []Step{
				step("a"),
				step("b", "a", "d"),
				step("c", "b"),
				step("d", "c"),
			}},
			wantErr: "dependency cycle",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.def.Validate()
			require.ErrorIs(t, err, apperr.ErrWorkflowValidation)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDefinition_Validate_ComputesTopologicalOrder(t *testing.T) {
	t.Parallel()

	// Diamond: a, then b and c, then d.
	def := Definition{
		Name: "diamond",
		Steps: []Step{
			step("d", "b", "c"),
			step("b", "a"),
			step("c", "a"),
			step("a"),
		},
	}

	require.NoError(t, def.Validate())
	require.Len(t, def.order, 4)

	position := make(map[string]int, len(def.order))
	for pos, idx := range def.order {
		position[def.Steps[idx].ID] = pos
	}

	require.Less(t, position["a"], position["b"])
	require.Less(t, position["a"], position["c"])
	require.Less(t, position["b"], position["d"])
	require.Less(t, position["c"], position["d"])
}

func TestDefinition_Validate_KeepsDefinitionOrderAmongReadySteps(t *testing.T) {
	t.Parallel()

	def := Definition{
		Name:  "independent",
		Steps: []Step{step("third"), step("first"), step("second")},
	}

	require.NoError(t, def.Validate())
	require.Equal(t, []int{0, 1, 2}, def.order)
}
