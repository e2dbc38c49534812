package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/choreoflow/choreoctl/cperrors"
)

// DelegateTaskOptions configures DelegateTask, grounded on
// delegate_task.py's parameter set.
type DelegateTaskOptions struct {
	ConductorID        string
	ConductorLogBlockID string // the Conductor's delegation_log block id
	CompanionID        string
	TaskDescription    string
	SkillsAssigned     []string
	Priority           string // "low" | "normal" | "high"; defaults to "normal"
	TimeoutSeconds     int
}

// DelegateTaskResult is DelegateTask's outcome.
type DelegateTaskResult struct {
	TaskID   string
	SendResultID string
}

// DelegateTask assigns a task to a single idle Companion: flips its status
// tag to busy, best-effort logs a DelegationRecord on the Conductor,
// best-effort overwrites the Companion's task_context, then sends the
// delegation message. If the send fails, the Companion's status tag is
// reverted to idle before the error is returned. Grounded on
// delegate_task.py's five-step flow.
func (m *Manager) DelegateTask(ctx context.Context, opts DelegateTaskOptions) (*DelegateTaskResult, error) {
	if opts.CompanionID == "" || opts.TaskDescription == "" {
		return nil, cperrors.New(cperrors.KindInvalidInput, "companion_id and task_description are required")
	}
	priority := opts.Priority
	if priority == "" {
		priority = "normal"
	}

	tags, err := m.rt.ReadTags(ctx, opts.CompanionID)
	if err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "read tags for companion %s", opts.CompanionID)
	}
	companion := companionFromTags(opts.CompanionID, tags)
	if companion.Status == StatusBusy {
		return nil, cperrors.New(cperrors.KindConflict, "companion %s is already busy", opts.CompanionID)
	}

	taskID := "task-" + uuid.NewString()[:8]
	busy := StatusBusy
	taskIDPtr := taskID
	if err := m.UpdateCompanionStatus(ctx, opts.CompanionID, UpdateCompanionStatusOptions{Status: &busy, TaskID: &taskIDPtr}); err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "mark companion %s busy", opts.CompanionID)
	}

	logBlockID := opts.ConductorLogBlockID
	if logBlockID == "" && opts.ConductorID != "" {
		if blocks, err := m.rt.ListBlocks(ctx, opts.ConductorID); err == nil {
			logBlockID = blocks[delegationLogBlockLabel]
		}
	}
	if logBlockID != "" {
		_ = m.rt.UpdateBlock(ctx, logBlockID, func(current []byte) (any, error) {
			var log DelegationLog
			if len(current) > 0 {
				_ = json.Unmarshal(current, &log)
			}
			log.Delegations = clampDelegations(append(log.Delegations, DelegationRecord{
				TaskID:          taskID,
				CompanionID:     opts.CompanionID,
				CompanionName:   companion.CompanionName,
				SkillsAssigned:  opts.SkillsAssigned,
				TaskDescription: truncate(opts.TaskDescription, taskDescriptionTruncateLen),
				Priority:        priority,
				TimeoutSeconds:  opts.TimeoutSeconds,
				Status:          "pending",
				DelegatedAt:     time.Now().UTC(),
			}))
			return log, nil
		})
	}

	if blocks, err := m.rt.ListBlocks(ctx, opts.CompanionID); err == nil {
		if taskContextBlockID, ok := blocks[taskContextBlockLabel]; ok {
			_ = m.rt.UpdateBlock(ctx, taskContextBlockID, func(current []byte) (any, error) {
				var tc map[string]any
				if len(current) > 0 {
					_ = json.Unmarshal(current, &tc)
				}
				if tc == nil {
					tc = map[string]any{}
				}
				tc["current_task"] = map[string]any{
					"task_id":          taskID,
					"description":      opts.TaskDescription,
					"skills_assigned":  opts.SkillsAssigned,
					"started_at_known": true,
				}
				return tc, nil
			})
		}
	}

	message := fmt.Sprintf(
		"TASK DELEGATION\ntask_id: %s\nfrom_conductor: %s\npriority: %s\nskills: %v\n\n%s\n\nReport back with {\"task_id\": %q, \"status\": \"succeeded\"|\"failed\"|\"partial\", \"summary\": \"...\"}.",
		taskID, opts.ConductorID, priority, opts.SkillsAssigned, opts.TaskDescription, taskID,
	)
	sendRes, err := m.rt.SendMessage(ctx, opts.CompanionID, message, true)
	if err != nil {
		idle := StatusIdle
		empty := ""
		_ = m.UpdateCompanionStatus(ctx, opts.CompanionID, UpdateCompanionStatusOptions{Status: &idle, TaskID: &empty})
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "deliver task delegation to companion %s", opts.CompanionID)
	}

	id := sendRes.RunID
	if id == "" {
		id = sendRes.MessageID
	}
	return &DelegateTaskResult{TaskID: taskID, SendResultID: id}, nil
}

// BroadcastTaskOptions configures BroadcastTask.
type BroadcastTaskOptions struct {
	SessionID           string
	ConductorID         string
	ConductorLogBlockID string
	Specialization      string // optional filter
	StatusFilter        *Status // defaults to idle (broadcast_task.py only ever targets idle companions)
	MaxCompanions       int
	TaskDescription     string
	SkillsAssigned      []string
	Priority            string
	TimeoutSeconds      int
}

// BroadcastDelegation is one per-companion outcome of BroadcastTask.
type BroadcastDelegation struct {
	CompanionID string
	TaskID      string
	Error       string
}

// BroadcastTaskResult is BroadcastTask's outcome.
type BroadcastTaskResult struct {
	Delegated []BroadcastDelegation
	Assigned  []string
}

// BroadcastTask fans DelegateTask out over every Companion in sessionID
// matching the filters, up to MaxCompanions, grounded on broadcast_task.py.
func (m *Manager) BroadcastTask(ctx context.Context, opts BroadcastTaskOptions) (*BroadcastTaskResult, error) {
	if opts.StatusFilter == nil {
		idle := StatusIdle
		opts.StatusFilter = &idle
	}
	listOpts := ListCompanionsOptions{Specialization: opts.Specialization}
	companions, err := m.ListCompanions(ctx, opts.SessionID, listOpts)
	if err != nil {
		return nil, err
	}
	if opts.StatusFilter != nil {
		filtered := companions[:0:0]
		for _, c := range companions {
			if c.Status == *opts.StatusFilter {
				filtered = append(filtered, c)
			}
		}
		companions = filtered
	}
	if len(companions) == 0 {
		return nil, cperrors.New(cperrors.KindNotFound, "no companions in session %s match the filters", opts.SessionID)
	}

	max := opts.MaxCompanions
	if max <= 0 || max > len(companions) {
		max = len(companions)
	}

	res := &BroadcastTaskResult{}
	for i := 0; i < max; i++ {
		c := companions[i]
		dres, err := m.DelegateTask(ctx, DelegateTaskOptions{
			ConductorID:         opts.ConductorID,
			ConductorLogBlockID: opts.ConductorLogBlockID,
			CompanionID:         c.CompanionID,
			TaskDescription:     opts.TaskDescription,
			SkillsAssigned:      opts.SkillsAssigned,
			Priority:            opts.Priority,
			TimeoutSeconds:      opts.TimeoutSeconds,
		})
		if err != nil {
			res.Delegated = append(res.Delegated, BroadcastDelegation{CompanionID: c.CompanionID, Error: err.Error()})
			continue
		}
		res.Delegated = append(res.Delegated, BroadcastDelegation{CompanionID: c.CompanionID, TaskID: dres.TaskID})
		res.Assigned = append(res.Assigned, c.CompanionID)
	}

	if len(res.Assigned) == 0 {
		return res, cperrors.New(cperrors.KindBackendError, "delegation failed for all %d matched companions", max)
	}
	return res, nil
}
