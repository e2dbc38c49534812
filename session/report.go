package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/choreoflow/choreoctl/cperrors"
)

// ReportTaskResultOptions configures ReportTaskResult. There is no
// dedicated original_source/dcf_plus tool for this step — the Python
// pack's Companions report results as free-form chat messages back to the
// Conductor (see the persona template in companion.go) and nothing in
// dcf_plus closes the loop on the DelegationLog side. The DelegationRecord
// fields spec.md §3.7 names (`status`, `result_status`, `completed_at`,
// `duration_s`) only make sense if something eventually writes them, so
// this operation supplies that missing half of delegate_task.py's flow,
// grounded on delegate_task.py's own step order run in reverse.
type ReportTaskResultOptions struct {
	ConductorID        string
	ConductorLogBlockID string // resolved via ListBlocks(ConductorID) if empty
	CompanionID        string
	TaskID             string
	Status             string // "succeeded" | "failed" | "partial"
	Summary            string
	Artifacts          map[string]any
}

// ReportTaskResultResult is ReportTaskResult's outcome.
type ReportTaskResultResult struct {
	Recorded bool
	Warnings []string
}

var validResultStatuses = map[string]bool{"succeeded": true, "failed": true, "partial": true}

// ReportTaskResult closes out a previously delegated task: marks the
// matching DelegationRecord completed with its result and duration,
// appends the task to the Companion's task_context.task_history, and
// reverts the Companion's status tag from busy to idle.
func (m *Manager) ReportTaskResult(ctx context.Context, opts ReportTaskResultOptions) (*ReportTaskResultResult, error) {
	if opts.CompanionID == "" || opts.TaskID == "" {
		return nil, cperrors.New(cperrors.KindInvalidInput, "companion_id and task_id are required")
	}
	if !validResultStatuses[opts.Status] {
		return nil, cperrors.New(cperrors.KindInvalidInput, "status must be one of succeeded, failed, partial, got %q", opts.Status)
	}

	res := &ReportTaskResultResult{}
	now := time.Now().UTC()

	logBlockID := opts.ConductorLogBlockID
	if logBlockID == "" && opts.ConductorID != "" {
		if blocks, err := m.rt.ListBlocks(ctx, opts.ConductorID); err == nil {
			logBlockID = blocks[delegationLogBlockLabel]
		}
	}
	if logBlockID != "" {
		err := m.rt.UpdateBlock(ctx, logBlockID, func(current []byte) (any, error) {
			var log DelegationLog
			if len(current) > 0 {
				_ = json.Unmarshal(current, &log)
			}
			for i := range log.Delegations {
				rec := &log.Delegations[i]
				if rec.TaskID != opts.TaskID || rec.CompanionID != opts.CompanionID {
					continue
				}
				rec.Status = "completed"
				rec.ResultStatus = opts.Status
				completedAt := now
				rec.CompletedAt = &completedAt
				if !rec.DelegatedAt.IsZero() {
					d := completedAt.Sub(rec.DelegatedAt).Seconds()
					rec.DurationS = &d
				}
				res.Recorded = true
			}
			log.LastDelegationAt = now
			return log, nil
		})
		if err != nil {
			res.Warnings = append(res.Warnings, "failed to update delegation_log: "+err.Error())
		} else if !res.Recorded {
			res.Warnings = append(res.Warnings, "no matching pending delegation found for task "+opts.TaskID)
		}
	}

	if blocks, err := m.rt.ListBlocks(ctx, opts.CompanionID); err == nil {
		if taskContextBlockID, ok := blocks[taskContextBlockLabel]; ok {
			if err := m.rt.UpdateBlock(ctx, taskContextBlockID, func(current []byte) (any, error) {
				var tc struct {
					CurrentTask any      `json:"current_task"`
					TaskHistory []string `json:"task_history"`
				}
				if len(current) > 0 {
					_ = json.Unmarshal(current, &tc)
				}
				tc.TaskHistory = append(tc.TaskHistory, opts.TaskID+": "+opts.Status+" - "+opts.Summary)
				tc.CurrentTask = nil
				return tc, nil
			}); err != nil {
				res.Warnings = append(res.Warnings, "failed to update task_context: "+err.Error())
			}
		}
	} else {
		res.Warnings = append(res.Warnings, "could not list blocks for companion "+opts.CompanionID)
	}

	idle := StatusIdle
	empty := ""
	if err := m.UpdateCompanionStatus(ctx, opts.CompanionID, UpdateCompanionStatusOptions{Status: &idle, TaskID: &empty}); err != nil {
		return res, cperrors.Wrap(cperrors.KindBackendError, err, "revert companion %s to idle", opts.CompanionID)
	}

	return res, nil
}
