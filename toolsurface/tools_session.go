package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/choreoflow/choreoctl/session"
)

// RegisterSession wires every session.Manager operation as a named tool
// (spec §4.7): the DCF+ companion-coordination surface.
func RegisterSession(r *Registry, mgr *session.Manager) {
	r.Register(Tool{Name: "createSessionContext", Description: "Create and attach a session_context memory block on the Conductor.", Handler: createSessionContextHandler(mgr)})
	r.Register(Tool{Name: "updateSessionContext", Description: "Apply a partial update to an existing session context.", Handler: updateSessionContextHandler(mgr)})
	r.Register(Tool{Name: "readSessionContext", Description: "Read a session context block by its memory-block id.", Handler: readSessionContextHandler(mgr)})
	r.Register(Tool{Name: "createCompanion", Description: "Create a Companion agent attached to a session.", Handler: createCompanionHandler(mgr)})
	r.Register(Tool{Name: "dismissCompanion", Description: "Dismiss a Companion, optionally unloading skills and detaching shared blocks.", Handler: dismissCompanionHandler(mgr)})
	r.Register(Tool{Name: "listCompanions", Description: "List a session's Companions, optionally filtered by specialization.", Handler: listCompanionsHandler(mgr)})
	r.Register(Tool{Name: "updateCompanionStatus", Description: "Update a Companion's status, specialization, and/or current task tag.", Handler: updateCompanionStatusHandler(mgr)})
	r.Register(Tool{Name: "delegateTask", Description: "Delegate one task to a specific Companion and record it in the delegation log.", Handler: delegateTaskHandler(mgr)})
	r.Register(Tool{Name: "broadcastTask", Description: "Delegate one task to every matching idle Companion.", Handler: broadcastTaskHandler(mgr)})
	r.Register(Tool{Name: "updateConductorGuidelines", Description: "Update, replace, or reset a Conductor's strategist_guidelines block.", Handler: updateConductorGuidelinesHandler(mgr)})
	r.Register(Tool{Name: "readSessionActivity", Description: "Aggregate a session's companions, delegations, announcements, and activity metrics.", Handler: readSessionActivityHandler(mgr)})
	r.Register(Tool{Name: "finalizeSession", Description: "Close out a session: collect companion wisdom, dismiss companions, delete the context block.", Handler: finalizeSessionHandler(mgr)})
	r.Register(Tool{Name: "reportTaskResult", Description: "Close a delegation: mark it complete and revert the Companion's status to idle.", Handler: reportTaskResultHandler(mgr)})
	r.Register(Tool{Name: "cleanupOrphanedCompanions", Description: "Find (and optionally dismiss) Companions by role tag, optionally scoped to one session and filtered by a tag substring.", Handler: cleanupOrphanedCompanionsHandler(mgr)})
}

type createSessionContextParams struct {
	SessionID   string         `json:"session_id"`
	ConductorID string         `json:"conductor_id"`
	Objective   string         `json:"objective"`
	SharedData  map[string]any `json:"shared_data"`
}

func createSessionContextHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p createSessionContextParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		sc, blockID, err := mgr.CreateSessionContext(ctx, p.SessionID, p.ConductorID, p.Objective, p.SharedData)
		if err != nil {
			return nil, err
		}
		return struct {
			SessionContext *session.SessionContext `json:"session_context"`
			BlockID        string                   `json:"block_id"`
		}{sc, blockID}, nil
	}
}

type updateSessionContextParams struct {
	BlockID           string         `json:"block_id"`
	SessionID         string         `json:"session_id"`
	State             string         `json:"state"`
	AddActiveTask     string         `json:"add_active_task"`
	CompleteTask      string         `json:"complete_task"`
	Announcement      string         `json:"announcement"`
	MergeSharedData   map[string]any `json:"merge_shared_data"`
	CompanionCountSet *int           `json:"companion_count_set"`
}

func updateSessionContextHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p updateSessionContextParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return mgr.UpdateSessionContext(ctx, p.BlockID, p.SessionID, session.SessionContextUpdate{
			State:             session.State(p.State),
			AddActiveTask:     p.AddActiveTask,
			CompleteTask:      p.CompleteTask,
			Announcement:      p.Announcement,
			MergeSharedData:   p.MergeSharedData,
			CompanionCountSet: p.CompanionCountSet,
		})
	}
}

type readSessionContextParams struct {
	BlockID string `json:"block_id"`
}

func readSessionContextHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p readSessionContextParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return mgr.ReadSessionContext(ctx, p.BlockID)
	}
}

type createCompanionParams struct {
	SessionID             string   `json:"session_id"`
	ConductorID           string   `json:"conductor_id"`
	Specialization        string   `json:"specialization"`
	Name                  string   `json:"name"`
	Model                 string   `json:"model"`
	SendMessageToolName   string   `json:"send_message_tool_name"`
	SharedBlockIDs        []string `json:"shared_block_ids"`
	InitialSkills         []string `json:"initial_skills"`
	SessionContextBlockID string   `json:"session_context_block_id"`
}

func createCompanionHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p createCompanionParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return mgr.CreateCompanion(ctx, session.CreateCompanionOptions{
			SessionID:             p.SessionID,
			ConductorID:           p.ConductorID,
			Specialization:        p.Specialization,
			Name:                  p.Name,
			Model:                 p.Model,
			SendMessageToolName:   p.SendMessageToolName,
			SharedBlockIDs:        p.SharedBlockIDs,
			InitialSkills:         p.InitialSkills,
			SessionContextBlockID: p.SessionContextBlockID,
		})
	}
}

type dismissCompanionParams struct {
	CompanionID  string `json:"companion_id"`
	UnloadSkills bool   `json:"unload_skills"`
	DetachBlocks bool   `json:"detach_blocks"`
}

func dismissCompanionHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p dismissCompanionParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return mgr.DismissCompanion(ctx, p.CompanionID, session.DismissOptions{
			UnloadSkills: p.UnloadSkills,
			DetachBlocks: p.DetachBlocks,
		})
	}
}

type listCompanionsParams struct {
	SessionID      string `json:"session_id"`
	Specialization string `json:"specialization"`
	IncludeSkills  bool   `json:"include_skills"`
}

func listCompanionsHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p listCompanionsParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		companions, err := mgr.ListCompanions(ctx, p.SessionID, session.ListCompanionsOptions{
			Specialization: p.Specialization,
			IncludeSkills:  p.IncludeSkills,
		})
		if err != nil {
			return nil, err
		}
		return struct {
			Companions []session.Companion `json:"companions"`
		}{companions}, nil
	}
}

type updateCompanionStatusParams struct {
	CompanionID    string  `json:"companion_id"`
	Status         *string `json:"status"`
	Specialization *string `json:"specialization"`
	TaskID         *string `json:"task_id"`
}

func updateCompanionStatusHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p updateCompanionStatusParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		opts := session.UpdateCompanionStatusOptions{
			Specialization: p.Specialization,
			TaskID:         p.TaskID,
		}
		if p.Status != nil {
			s := session.Status(*p.Status)
			opts.Status = &s
		}
		if err := mgr.UpdateCompanionStatus(ctx, p.CompanionID, opts); err != nil {
			return nil, err
		}
		return struct {
			Updated bool `json:"updated"`
		}{true}, nil
	}
}

type delegateTaskParams struct {
	ConductorID         string   `json:"conductor_id"`
	ConductorLogBlockID string   `json:"conductor_log_block_id"`
	CompanionID         string   `json:"companion_id"`
	TaskDescription     string   `json:"task_description"`
	SkillsAssigned      []string `json:"skills_assigned"`
	Priority            string   `json:"priority"`
	TimeoutSeconds      int      `json:"timeout_seconds"`
}

func delegateTaskHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p delegateTaskParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return mgr.DelegateTask(ctx, session.DelegateTaskOptions{
			ConductorID:         p.ConductorID,
			ConductorLogBlockID: p.ConductorLogBlockID,
			CompanionID:         p.CompanionID,
			TaskDescription:     p.TaskDescription,
			SkillsAssigned:      p.SkillsAssigned,
			Priority:            p.Priority,
			TimeoutSeconds:      p.TimeoutSeconds,
		})
	}
}

type broadcastTaskParams struct {
	SessionID           string  `json:"session_id"`
	ConductorID         string  `json:"conductor_id"`
	ConductorLogBlockID string  `json:"conductor_log_block_id"`
	Specialization      string  `json:"specialization"`
	StatusFilter        *string `json:"status_filter"`
	MaxCompanions       int     `json:"max_companions"`
	TaskDescription     string  `json:"task_description"`
	SkillsAssigned      []string `json:"skills_assigned"`
	Priority            string  `json:"priority"`
	TimeoutSeconds      int     `json:"timeout_seconds"`
}

func broadcastTaskHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p broadcastTaskParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		opts := session.BroadcastTaskOptions{
			SessionID:           p.SessionID,
			ConductorID:         p.ConductorID,
			ConductorLogBlockID: p.ConductorLogBlockID,
			Specialization:      p.Specialization,
			MaxCompanions:       p.MaxCompanions,
			TaskDescription:     p.TaskDescription,
			SkillsAssigned:      p.SkillsAssigned,
			Priority:            p.Priority,
			TimeoutSeconds:      p.TimeoutSeconds,
		}
		if p.StatusFilter != nil {
			s := session.Status(*p.StatusFilter)
			opts.StatusFilter = &s
		}
		return mgr.BroadcastTask(ctx, opts)
	}
}

type updateConductorGuidelinesParams struct {
	ConductorID           string                            `json:"conductor_id"`
	Mode                  string                            `json:"mode"` // "incremental" | "replace" | "clear"
	Recommendation        string                            `json:"recommendation"`
	MergeSkillPreferences map[string]string                 `json:"merge_skill_preferences"`
	MergeCompanionScaling *session.CompanionScaling          `json:"merge_companion_scaling"`
	MergeModelSelection   *session.ModelSelectionGuidelines  `json:"merge_model_selection"`
	Replacement           *session.ConductorGuidelines       `json:"replacement"`
}

func updateConductorGuidelinesHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p updateConductorGuidelinesParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		mode := session.ModeIncremental
		switch p.Mode {
		case "replace":
			mode = session.ModeReplace
		case "clear":
			mode = session.ModeClear
		}
		return mgr.UpdateConductorGuidelines(ctx, p.ConductorID, session.UpdateConductorGuidelinesOptions{
			Mode:                  mode,
			Recommendation:        p.Recommendation,
			MergeSkillPreferences: p.MergeSkillPreferences,
			MergeCompanionScaling: p.MergeCompanionScaling,
			MergeModelSelection:   p.MergeModelSelection,
			Replacement:           p.Replacement,
		})
	}
}

type readSessionActivityParams struct {
	SessionContextBlockID string `json:"session_context_block_id"`
	ConductorID            string `json:"conductor_id"`
	SessionID               string `json:"session_id"`
	IncludeSkillMetrics     bool   `json:"include_skill_metrics"`
}

func readSessionActivityHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p readSessionActivityParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return mgr.ReadSessionActivity(ctx, p.SessionContextBlockID, p.ConductorID, p.SessionID, session.ReadSessionActivityOptions{
			IncludeSkillMetrics: p.IncludeSkillMetrics,
		})
	}
}

type finalizeSessionParams struct {
	SessionContextBlockID string `json:"session_context_block_id"`
	SessionID              string `json:"session_id"`
	CollectWisdom          bool   `json:"collect_wisdom"`
	DismissCompanions      bool   `json:"dismiss_companions"`
	DeleteContextBlock     bool   `json:"delete_context_block"`
}

func finalizeSessionHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p finalizeSessionParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return mgr.FinalizeSession(ctx, p.SessionContextBlockID, p.SessionID, session.FinalizeSessionOptions{
			CollectWisdom:      p.CollectWisdom,
			DismissCompanions:  p.DismissCompanions,
			DeleteContextBlock: p.DeleteContextBlock,
		})
	}
}

type reportTaskResultParams struct {
	ConductorID         string         `json:"conductor_id"`
	ConductorLogBlockID string         `json:"conductor_log_block_id"`
	CompanionID         string         `json:"companion_id"`
	TaskID              string         `json:"task_id"`
	Status              string         `json:"status"`
	Summary             string         `json:"summary"`
	Artifacts           map[string]any `json:"artifacts"`
}

func reportTaskResultHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p reportTaskResultParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return mgr.ReportTaskResult(ctx, session.ReportTaskResultOptions{
			ConductorID:         p.ConductorID,
			ConductorLogBlockID: p.ConductorLogBlockID,
			CompanionID:         p.CompanionID,
			TaskID:              p.TaskID,
			Status:              p.Status,
			Summary:             p.Summary,
			Artifacts:           p.Artifacts,
		})
	}
}

type cleanupOrphanedCompanionsParams struct {
	SessionID   string `json:"session_id"`
	NamePattern string `json:"name_pattern"`
	DryRun      *bool  `json:"dry_run"`
}

func cleanupOrphanedCompanionsHandler(mgr *session.Manager) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p cleanupOrphanedCompanionsParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		dryRun := true // cleanup_orphaned_companions.py defaults dry_run true
		if p.DryRun != nil {
			dryRun = *p.DryRun
		}
		return mgr.CleanupOrphanedCompanions(ctx, session.CleanupOrphanedCompanionsOptions{
			SessionID:   p.SessionID,
			NamePattern: p.NamePattern,
			DryRun:      dryRun,
		})
	}
}
