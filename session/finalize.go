package session

import (
	"context"

	"github.com/choreoflow/choreoctl/cperrors"
)

// CompanionWisdom is the task-history summary collected from one Companion
// before it is dismissed, grounded on finalize_session.py's "wisdom"
// collection step.
type CompanionWisdom struct {
	CompanionID    string   `json:"companion_id"`
	CompanionName  string   `json:"companion_name"`
	Specialization string   `json:"specialization"`
	TasksCompleted int      `json:"tasks_completed"`
	TaskHistory    []string `json:"task_history"`
}

// FinalizeSessionOptions configures FinalizeSession.
type FinalizeSessionOptions struct {
	CollectWisdom     bool
	DismissCompanions bool
	DeleteContextBlock bool
}

// FinalizeSessionResult is FinalizeSession's outcome.
type FinalizeSessionResult struct {
	Wisdom   []CompanionWisdom
	Warnings []string
}

// FinalizeSession winds a session down: marks it completing, optionally
// harvests each Companion's task history, optionally dismisses every
// Companion, marks the session completed, and optionally deletes the
// session_context block itself. Grounded on finalize_session.py.
func (m *Manager) FinalizeSession(ctx context.Context, sessionContextBlockID, sessionID string, opts FinalizeSessionOptions) (*FinalizeSessionResult, error) {
	if _, err := m.UpdateSessionContext(ctx, sessionContextBlockID, sessionID, SessionContextUpdate{
		State:        StateCompleting,
		Announcement: "session finalizing",
	}); err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "mark session %s completing", sessionID)
	}

	companions, err := m.ListCompanions(ctx, sessionID, ListCompanionsOptions{})
	if err != nil {
		return nil, err
	}

	res := &FinalizeSessionResult{}

	if opts.CollectWisdom {
		for _, c := range companions {
			w := CompanionWisdom{CompanionID: c.CompanionID, CompanionName: c.CompanionName, Specialization: c.Specialization}
			blocks, err := m.rt.ListBlocks(ctx, c.CompanionID)
			if err != nil {
				res.Warnings = append(res.Warnings, "could not list blocks for "+c.CompanionID)
				res.Wisdom = append(res.Wisdom, w)
				continue
			}
			if taskContextBlockID, ok := blocks[taskContextBlockLabel]; ok {
				var tc struct {
					TaskHistory []string `json:"task_history"`
				}
				if err := m.rt.ReadBlock(ctx, taskContextBlockID, &tc); err == nil {
					w.TasksCompleted = len(tc.TaskHistory)
					w.TaskHistory = lastN(tc.TaskHistory, 10)
				}
			}
			res.Wisdom = append(res.Wisdom, w)
		}
	}

	if opts.DismissCompanions {
		for _, c := range companions {
			if _, err := m.DismissCompanion(ctx, c.CompanionID, DismissOptions{UnloadSkills: true, DetachBlocks: true}); err != nil {
				res.Warnings = append(res.Warnings, "failed to dismiss companion "+c.CompanionID+": "+err.Error())
			}
		}
	}

	zero := 0
	if _, err := m.UpdateSessionContext(ctx, sessionContextBlockID, sessionID, SessionContextUpdate{
		State:             StateCompleted,
		Announcement:      "session completed",
		CompanionCountSet: &zero,
	}); err != nil {
		res.Warnings = append(res.Warnings, "failed to mark session completed: "+err.Error())
	}

	if opts.DeleteContextBlock {
		// There is no dedicated delete-block call on Runtime (blocks are
		// deleted implicitly when their last agent is deleted); detach it
		// from the Conductor instead, mirroring an agent-runtime whose
		// blocks are garbage-collected once unreferenced.
		if sc, err := m.ReadSessionContext(ctx, sessionContextBlockID); err == nil {
			if err := m.rt.DetachBlock(ctx, sc.ConductorID, sessionContextBlockID); err != nil {
				res.Warnings = append(res.Warnings, "failed to detach session_context block: "+err.Error())
			}
		}
	}

	return res, nil
}
