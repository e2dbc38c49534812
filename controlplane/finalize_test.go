package controlplane_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/choreoflow/choreoctl/controlplane"
	"github.com/choreoflow/choreoctl/docstore"
)

func TestFinalizeAllSucceededYieldsSucceededStatus(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	store := controlplane.NewStore(docs)
	_, err := store.CreateControlPlane(ctx, linearTwoTaskDef(), map[string]string{"A": "agent-a", "B": "agent-b"})
	require.NoError(t, err)

	for _, state := range []string{"A", "B"} {
		_, err := store.UpdateState(ctx, "wf-1", state, controlplane.StatePatch{NewStatus: statusPtr(controlplane.StatusSucceeded)})
		require.NoError(t, err)
	}

	rt := newStubRuntime()
	fin := controlplane.NewFinalizer(store, rt)

	res, err := fin.Finalize(ctx, "wf-1", controlplane.DefaultFinalizeOptions())
	require.NoError(t, err)
	require.Equal(t, controlplane.MetaStatusSucceeded, res.FinalStatus)
	require.ElementsMatch(t, []string{"agent-a", "agent-b"}, rt.deleted)

	var meta controlplane.WorkflowMeta
	require.NoError(t, docs.Get(ctx, controlplane.MetaKey("wf-1"), &meta))
	require.Equal(t, controlplane.MetaStatusSucceeded, meta.Status)
	require.NotNil(t, meta.FinalizedAt)
}

func TestFinalizeClosesOpenStatesAsCancelledAndSucceeds(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	store := controlplane.NewStore(docs)
	_, err := store.CreateControlPlane(ctx, linearTwoTaskDef(), map[string]string{"A": "agent-a", "B": "agent-b"})
	require.NoError(t, err)

	_, err = store.UpdateState(ctx, "wf-1", "A", controlplane.StatePatch{NewStatus: statusPtr(controlplane.StatusSucceeded)})
	require.NoError(t, err)
	// B is left pending: finalize must close it as cancelled; with no open
	// state left and none failed, the run reports "succeeded".

	rt := newStubRuntime()
	fin := controlplane.NewFinalizer(store, rt)

	res, err := fin.Finalize(ctx, "wf-1", controlplane.DefaultFinalizeOptions())
	require.NoError(t, err)
	require.Equal(t, controlplane.MetaStatusSucceeded, res.FinalStatus)

	var bDoc controlplane.StateDoc
	require.NoError(t, docs.Get(ctx, controlplane.StateKey("wf-1", "B"), &bDoc))
	require.Equal(t, controlplane.StatusCancelled, bDoc.Status)
	require.NotNil(t, bDoc.FinishedAt)

	var audit controlplane.AuditRecord
	require.NoError(t, docs.Get(ctx, controlplane.AuditKey("wf-1", "finalize"), &audit))
	require.Equal(t, controlplane.MetaStatusSucceeded, audit.FinalStatus)
}

func TestFinalizeFailedStateYieldsFailedStatus(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	store := controlplane.NewStore(docs)
	_, err := store.CreateControlPlane(ctx, linearTwoTaskDef(), map[string]string{"A": "agent-a", "B": "agent-b"})
	require.NoError(t, err)

	_, err = store.UpdateState(ctx, "wf-1", "A", controlplane.StatePatch{NewStatus: statusPtr(controlplane.StatusFailed)})
	require.NoError(t, err)

	fin := controlplane.NewFinalizer(store, newStubRuntime())
	res, err := fin.Finalize(ctx, "wf-1", controlplane.DefaultFinalizeOptions())
	require.NoError(t, err)
	require.Equal(t, controlplane.MetaStatusFailed, res.FinalStatus)
}

func TestFinalizePreservesPlannerAgent(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	store := controlplane.NewStore(docs)
	def := linearTwoTaskDef()
	_, err := store.CreateControlPlane(ctx, def, map[string]string{"A": "agent-a", "B": "agent-planner"})
	require.NoError(t, err)

	require.NoError(t, docs.Update(ctx, controlplane.MetaKey("wf-1"), true, func(raw json.RawMessage) (any, error) {
		var m controlplane.WorkflowMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		m.PlannerAgentID = "agent-planner"
		return m, nil
	}))

	for _, state := range []string{"A", "B"} {
		_, err := store.UpdateState(ctx, "wf-1", state, controlplane.StatePatch{NewStatus: statusPtr(controlplane.StatusSucceeded)})
		require.NoError(t, err)
	}

	rt := newStubRuntime()
	fin := controlplane.NewFinalizer(store, rt)
	opts := controlplane.DefaultFinalizeOptions()

	res, err := fin.Finalize(ctx, "wf-1", opts)
	require.NoError(t, err)
	require.NotContains(t, rt.deleted, "agent-planner")
	require.Contains(t, rt.deleted, "agent-a")

	var skipped bool
	for _, a := range res.Agents {
		if a.AgentID == "agent-planner" {
			skipped = true
			require.Equal(t, "skipped_planner", a.Error)
		}
	}
	require.True(t, skipped)
}
