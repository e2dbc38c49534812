package toolsurface

import (
	"context"
	"encoding/json"
	"time"

	"github.com/choreoflow/choreoctl/auditstore"
	"github.com/choreoflow/choreoctl/controlplane"
	"github.com/choreoflow/choreoctl/definition"
)

// RegisterControlPlane wires every controlplane.Store/Notifier/Finalizer
// operation as a named tool (spec §4.8): createControlPlane, readControlPlane,
// updateState, acquireLease, renewLease, releaseLease, notifyIfReady,
// notifyNextWorkers, finalizeWorkflow. archiver may be nil, in which case
// finalizeWorkflow skips the durable audit archive and only writes the
// docstore's dp: audit records.
func RegisterControlPlane(r *Registry, store *controlplane.Store, notifier *controlplane.Notifier, finalizer *controlplane.Finalizer, archiver auditstore.Store) {
	r.Register(Tool{
		Name:        "createControlPlane",
		Description: "Derive and seed a workflow's control-plane documents from its WorkflowDefinition.",
		Handler:     createControlPlaneHandler(store),
	})
	r.Register(Tool{
		Name:        "readControlPlane",
		Description: "Read a workflow's meta and state documents, optionally computing per-state readiness.",
		Handler:     readControlPlaneHandler(store),
	})
	r.Register(Tool{
		Name:        "updateState",
		Description: "Apply a CAS-guarded patch to one state document.",
		Handler:     updateStateHandler(store),
	})
	r.Register(Tool{
		Name:        "acquireLease",
		Description: "Grant exclusive, time-bounded ownership of a state to an agent.",
		Handler:     acquireLeaseHandler(store),
	})
	r.Register(Tool{
		Name:        "renewLease",
		Description: "Extend a held lease's timestamp and optionally its TTL.",
		Handler:     renewLeaseHandler(store),
	})
	r.Register(Tool{
		Name:        "releaseLease",
		Description: "Clear a state's lease token.",
		Handler:     releaseLeaseHandler(store),
	})
	r.Register(Tool{
		Name:        "notifyIfReady",
		Description: "Signal a state's bound worker agent iff its upstream dependencies have succeeded.",
		Handler:     notifyIfReadyHandler(notifier),
	})
	r.Register(Tool{
		Name:        "notifyNextWorkers",
		Description: "Fan out notifyIfReady to every downstream state of a completed state, or to every source state for the initial kickoff.",
		Handler:     notifyNextWorkersHandler(notifier),
	})
	r.Register(Tool{
		Name:        "finalizeWorkflow",
		Description: "End a workflow run: close loose ends, delete worker agents, aggregate cost, write audit records.",
		Handler:     finalizeWorkflowHandler(finalizer, archiver),
	})
}

type createControlPlaneParams struct {
	Definition *definition.Workflow `json:"definition"`
	Agents     map[string]string   `json:"agents"`
}

func createControlPlaneHandler(store *controlplane.Store) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p createControlPlaneParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return store.CreateControlPlane(ctx, p.Definition, p.Agents)
	}
}

type readControlPlaneParams struct {
	WorkflowID       string   `json:"workflow_id"`
	States           []string `json:"states"`
	IncludeMeta      bool     `json:"include_meta"`
	ComputeReadiness bool     `json:"compute_readiness"`
}

func readControlPlaneHandler(store *controlplane.Store) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p readControlPlaneParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return store.ReadControlPlane(ctx, p.WorkflowID, controlplane.ReadControlPlaneOptions{
			States:           p.States,
			IncludeMeta:      p.IncludeMeta,
			ComputeReadiness: p.ComputeReadiness,
		})
	}
}

type updateStateParams struct {
	WorkflowID        string          `json:"workflow_id"`
	State             string          `json:"state"`
	NewStatus         *string         `json:"new_status"`
	AttemptsIncrement int             `json:"attempts_increment"`
	LeaseToken        string          `json:"lease_token"`
	OwnerAgentID      *string         `json:"owner_agent_id"`
	LeaseTTLSeconds   *int            `json:"lease_ttl_seconds"`
	ErrorMessage      *string         `json:"error_message"`
	SetStartedAt      bool            `json:"set_started_at"`
	SetFinishedAt     bool            `json:"set_finished_at"`
	Output            JSONValue       `json:"output"`
	OutputTTLSeconds  int             `json:"output_ttl_seconds"`
	// OutputMergePath, when set, merges Output into the existing OutputDoc
	// at this dotted path (RFC 7386) instead of replacing it wholesale.
	OutputMergePath string `json:"output_merge_path"`
}

func updateStateHandler(store *controlplane.Store) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p updateStateParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		patch := controlplane.StatePatch{
			AttemptsIncrement: p.AttemptsIncrement,
			LeaseToken:        p.LeaseToken,
			OwnerAgentID:      p.OwnerAgentID,
			LeaseTTLSeconds:   p.LeaseTTLSeconds,
			ErrorMessage:      p.ErrorMessage,
			SetStartedAt:      p.SetStartedAt,
			SetFinishedAt:     p.SetFinishedAt,
			OutputJSON:        p.Output.Value,
			OutputMergePath:   p.OutputMergePath,
			OutputTTL:         time.Duration(p.OutputTTLSeconds) * time.Second,
		}
		if p.NewStatus != nil {
			s := controlplane.Status(*p.NewStatus)
			patch.NewStatus = &s
		}
		return store.UpdateState(ctx, p.WorkflowID, p.State, patch)
	}
}

type acquireLeaseParams struct {
	WorkflowID          string `json:"workflow_id"`
	State               string `json:"state"`
	OwnerAgentID        string `json:"owner_agent_id"`
	TTLSeconds          int    `json:"ttl_seconds"`
	RequireReady        *bool  `json:"require_ready"`
	RequireOwnerMatch   *bool  `json:"require_owner_match"`
	AllowStealIfExpired *bool  `json:"allow_steal_if_expired"`
	SetRunningOnAcquire *bool  `json:"set_running_on_acquire"`
	AttemptsIncrement   *int   `json:"attempts_increment"`
	LeaseToken          string `json:"lease_token"`
}

func acquireLeaseHandler(store *controlplane.Store) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p acquireLeaseParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		opts := controlplane.DefaultAcquireOptions()
		if p.TTLSeconds > 0 {
			opts.TTL = time.Duration(p.TTLSeconds) * time.Second
		}
		if p.RequireReady != nil {
			opts.RequireReady = *p.RequireReady
		}
		if p.RequireOwnerMatch != nil {
			opts.RequireOwnerMatch = *p.RequireOwnerMatch
		}
		if p.AllowStealIfExpired != nil {
			opts.AllowStealIfExpired = *p.AllowStealIfExpired
		}
		if p.SetRunningOnAcquire != nil {
			opts.SetRunningOnAcquire = *p.SetRunningOnAcquire
		}
		if p.AttemptsIncrement != nil {
			opts.AttemptsIncrement = *p.AttemptsIncrement
		}
		opts.LeaseToken = p.LeaseToken
		return store.Acquire(ctx, p.WorkflowID, p.State, p.OwnerAgentID, opts)
	}
}

type renewLeaseParams struct {
	WorkflowID        string `json:"workflow_id"`
	State             string `json:"state"`
	LeaseToken        string `json:"lease_token"`
	OwnerAgentID      string `json:"owner_agent_id"`
	RequireOwnerMatch bool   `json:"require_owner_match"`
	RejectIfExpired   *bool  `json:"reject_if_expired"`
	TouchOnly         bool   `json:"touch_only"`
	NewTTLSeconds     int    `json:"new_ttl_seconds"`
}

func renewLeaseHandler(store *controlplane.Store) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p renewLeaseParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		opts := controlplane.RenewOptions{
			RequireOwnerMatch: p.RequireOwnerMatch,
			RejectIfExpired:   true,
			TouchOnly:         p.TouchOnly,
			OwnerAgentID:      p.OwnerAgentID,
		}
		if p.RejectIfExpired != nil {
			opts.RejectIfExpired = *p.RejectIfExpired
		}
		if p.NewTTLSeconds > 0 {
			opts.NewTTL = time.Duration(p.NewTTLSeconds) * time.Second
		}
		return store.Renew(ctx, p.WorkflowID, p.State, p.LeaseToken, opts)
	}
}

type releaseLeaseParams struct {
	WorkflowID string `json:"workflow_id"`
	State      string `json:"state"`
	LeaseToken string `json:"lease_token"`
	Force      bool   `json:"force"`
	ClearOwner bool   `json:"clear_owner"`
}

func releaseLeaseHandler(store *controlplane.Store) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p releaseLeaseParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return store.Release(ctx, p.WorkflowID, p.State, p.LeaseToken, controlplane.ReleaseOptions{
			Force:      p.Force,
			ClearOwner: p.ClearOwner,
		})
	}
}

type notifyIfReadyParams struct {
	WorkflowID   string    `json:"workflow_id"`
	State        string    `json:"state"`
	Reason       string    `json:"reason"`
	SourceState  string    `json:"source_state"`
	Payload      JSONValue `json:"payload"`
	RequireReady *bool     `json:"require_ready"`
	Async        bool      `json:"async"`
}

func notifyIfReadyHandler(notifier *controlplane.Notifier) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p notifyIfReadyParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		requireReady := true
		if p.RequireReady != nil {
			requireReady = *p.RequireReady
		}
		return notifier.NotifyIfReady(ctx, p.WorkflowID, p.State, controlplane.NotifyOptions{
			Reason:       p.Reason,
			SourceState:  p.SourceState,
			Payload:      p.Payload.Value,
			RequireReady: requireReady,
			Async:        p.Async,
		})
	}
}

type notifyNextWorkersParams struct {
	WorkflowID       string    `json:"workflow_id"`
	SourceState      string    `json:"source_state"`
	IncludeOnlyReady *bool     `json:"include_only_ready"`
	Async            bool      `json:"async"`
	Payload          JSONValue `json:"payload"`
}

func notifyNextWorkersHandler(notifier *controlplane.Notifier) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p notifyNextWorkersParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		includeOnlyReady := true
		if p.IncludeOnlyReady != nil {
			includeOnlyReady = *p.IncludeOnlyReady
		}
		targets, err := notifier.NotifyNextWorkers(ctx, p.WorkflowID, p.SourceState, controlplane.NotifyNextWorkersOptions{
			IncludeOnlyReady: includeOnlyReady,
			Async:            p.Async,
			Payload:          p.Payload.Value,
		})
		if err != nil {
			return nil, err
		}
		return struct {
			Targets []controlplane.TargetResult `json:"targets"`
		}{Targets: targets}, nil
	}
}

type finalizeWorkflowParams struct {
	WorkflowID         string  `json:"workflow_id"`
	DeleteWorkerAgents *bool   `json:"delete_worker_agents"`
	PreservePlanner    *bool   `json:"preserve_planner"`
	CloseOpenStates    *bool   `json:"close_open_states"`
	OverallStatus      string  `json:"overall_status"`
	FinalizeNote       string  `json:"finalize_note"`
}

func finalizeWorkflowHandler(finalizer *controlplane.Finalizer, archiver auditstore.Store) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p finalizeWorkflowParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		opts := controlplane.DefaultFinalizeOptions()
		if p.DeleteWorkerAgents != nil {
			opts.DeleteWorkerAgents = *p.DeleteWorkerAgents
		}
		if p.PreservePlanner != nil {
			opts.PreservePlanner = *p.PreservePlanner
		}
		if p.CloseOpenStates != nil {
			opts.CloseOpenStates = *p.CloseOpenStates
		}
		if p.OverallStatus != "" {
			opts.OverallStatus = controlplane.MetaStatus(p.OverallStatus)
		}
		opts.FinalizeNote = p.FinalizeNote

		result, err := finalizer.Finalize(ctx, p.WorkflowID, opts)
		if err != nil {
			return nil, err
		}

		if archiver != nil && result != nil {
			counts := make(map[string]int, len(result.Counts))
			for status, n := range result.Counts {
				counts[string(status)] = n
			}
			rec := controlplane.AuditRecord{
				Kind:        "finalize",
				WriteAt:     time.Now().UTC(),
				Counts:      counts,
				FinalStatus: result.FinalStatus,
			}
			if err := archiver.Archive(ctx, p.WorkflowID, "finalize", rec); err != nil {
				result.Warnings = append(result.Warnings, "archive finalize audit: "+err.Error())
			}
		}

		return result, nil
	}
}
