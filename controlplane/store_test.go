package controlplane_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/choreoflow/choreoctl/controlplane"
	"github.com/choreoflow/choreoctl/definition"
	"github.com/choreoflow/choreoctl/docstore"
)

func linearTwoTaskDef() *definition.Workflow {
	return &definition.Workflow{
		WorkflowID:    "wf-1",
		WorkflowName:  "demo",
		SchemaVersion: "1.0",
		ASL: definition.ASL{
			StartAt: "A",
			States: map[string]*definition.State{
				"A": {Type: definition.StateTypeTask, Next: "B"},
				"B": {Type: definition.StateTypeTask, End: true},
			},
		},
	}
}

func TestCreateControlPlaneIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := controlplane.NewStore(docstore.NewMemoryStore())
	def := linearTwoTaskDef()
	agents := map[string]string{"A": "agent-a", "B": "agent-b"}

	first, err := store.CreateControlPlane(ctx, def, agents)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"cp:wf:wf-1:meta", "cp:wf:wf-1:state:A", "cp:wf:wf-1:state:B"}, first.CreatedKeys)
	require.Empty(t, first.ExistingKeys)

	second, err := store.CreateControlPlane(ctx, def, agents)
	require.NoError(t, err)
	require.Empty(t, second.CreatedKeys)
	require.ElementsMatch(t, []string{"cp:wf:wf-1:meta", "cp:wf:wf-1:state:A", "cp:wf:wf-1:state:B"}, second.ExistingKeys)
	require.Equal(t, first.Meta, second.Meta)
}

func TestReadControlPlaneReadinessLinearWorkflow(t *testing.T) {
	ctx := context.Background()
	store := controlplane.NewStore(docstore.NewMemoryStore())
	def := linearTwoTaskDef()
	_, err := store.CreateControlPlane(ctx, def, map[string]string{"A": "agent-a", "B": "agent-b"})
	require.NoError(t, err)

	read, err := store.ReadControlPlane(ctx, "wf-1", controlplane.ReadControlPlaneOptions{
		IncludeMeta:      true,
		ComputeReadiness: true,
	})
	require.NoError(t, err)
	require.True(t, read.Readiness["A"], "source state A is ready while pending")
	require.False(t, read.Readiness["B"], "B depends on A which has not succeeded")

	_, err = store.UpdateState(ctx, "wf-1", "A", controlplane.StatePatch{
		NewStatus: statusPtr(controlplane.StatusSucceeded),
	})
	require.NoError(t, err)

	read, err = store.ReadControlPlane(ctx, "wf-1", controlplane.ReadControlPlaneOptions{ComputeReadiness: true})
	require.NoError(t, err)
	require.False(t, read.Readiness["A"], "A already succeeded, no longer a ready source state")
	require.True(t, read.Readiness["B"], "B's only upstream has succeeded")
}

func TestReadControlPlaneNormalizesDoneAlias(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	store := controlplane.NewStore(docs)
	def := linearTwoTaskDef()
	_, err := store.CreateControlPlane(ctx, def, nil)
	require.NoError(t, err)

	// Simulate a state doc written by source tooling using the legacy "done"
	// literal rather than the canonical "succeeded" status.
	err = docs.Update(ctx, "cp:wf:wf-1:state:A", true, func(json.RawMessage) (any, error) {
		return controlplane.StateDoc{Status: controlplane.Status("done")}, nil
	})
	require.NoError(t, err)

	read, rerr := store.ReadControlPlane(ctx, "wf-1", controlplane.ReadControlPlaneOptions{ComputeReadiness: true})
	require.NoError(t, rerr)
	require.Equal(t, controlplane.StatusSucceeded, read.States["A"].Status)
	require.True(t, read.Readiness["B"])
}

func TestUpdateStateWritesOutputDoc(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	store := controlplane.NewStore(docs)
	def := linearTwoTaskDef()
	_, err := store.CreateControlPlane(ctx, def, nil)
	require.NoError(t, err)

	_, err = store.UpdateState(ctx, "wf-1", "A", controlplane.StatePatch{
		NewStatus:  statusPtr(controlplane.StatusSucceeded),
		OutputJSON: map[string]any{"result": 42},
	})
	require.NoError(t, err)

	var out controlplane.OutputDoc
	require.NoError(t, docs.Get(ctx, "dp:wf:wf-1:output:A", &out))
	require.Equal(t, map[string]any{"result": float64(42)}, out.Value)
}

func statusPtr(s controlplane.Status) *controlplane.Status { return &s }
