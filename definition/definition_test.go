package definition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/choreoflow/choreoctl/definition"
)

func linearTwoTask() *definition.Workflow {
	return &definition.Workflow{
		WorkflowID: "wf-1",
		ASL: definition.ASL{
			StartAt: "A",
			States: map[string]*definition.State{
				"A": {Type: definition.StateTypeTask, Next: "B"},
				"B": {Type: definition.StateTypeTask, End: true},
			},
		},
	}
}

func TestDeriveGraphLinearTwoTask(t *testing.T) {
	states, deps, terminal, err := linearTwoTask().DeriveGraph()
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, states)
	require.Equal(t, []string(nil), deps["A"].Upstream)
	require.Equal(t, []string{"B"}, deps["A"].Downstream)
	require.Equal(t, []string{"A"}, deps["B"].Upstream)
	require.Equal(t, []string(nil), deps["B"].Downstream)
	require.Equal(t, []string{"B"}, terminal)
}

func TestDeriveGraphMissingStartAt(t *testing.T) {
	w := &definition.Workflow{
		WorkflowID: "wf-2",
		ASL: definition.ASL{
			States: map[string]*definition.State{"A": {Type: definition.StateTypeTask, End: true}},
		},
	}
	_, _, _, err := w.DeriveGraph()
	require.Error(t, err)
}

func TestDeriveGraphUndefinedTransition(t *testing.T) {
	w := &definition.Workflow{
		WorkflowID: "wf-3",
		ASL: definition.ASL{
			StartAt: "A",
			States: map[string]*definition.State{
				"A": {Type: definition.StateTypeTask, Next: "ghost"},
			},
		},
	}
	_, _, _, err := w.DeriveGraph()
	require.Error(t, err)
}

func TestDeriveGraphUnreachableStateStillListed(t *testing.T) {
	w := &definition.Workflow{
		WorkflowID: "wf-4",
		ASL: definition.ASL{
			StartAt: "A",
			States: map[string]*definition.State{
				"A":      {Type: definition.StateTypeTask, End: true},
				"orphan": {Type: definition.StateTypeTask, End: true},
			},
		},
	}
	states, _, terminal, err := w.DeriveGraph()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "orphan"}, states)
	require.ElementsMatch(t, []string{"A", "orphan"}, terminal)
}
