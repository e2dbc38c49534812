package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/cperrors"
)

const personaTemplate = `You are a Companion agent in a DCF+ choreography session.

Session ID: %s
Conductor ID: %s
Specialization: %s

You execute tasks delegated to you by the Conductor using your loaded
skills. When a task completes, report back by sending a message to the
Conductor of the form:

  {"task_id": "...", "status": "succeeded"|"failed"|"partial", "summary": "...", "artifacts": {...}}

Stay within the scope of the delegated task. Ask the Conductor for
clarification rather than improvising outside your specialization.`

// CreateCompanionOptions configures CreateCompanion, grounded on
// create_companion.py's parameter set.
type CreateCompanionOptions struct {
	SessionID              string
	ConductorID            string
	Specialization         string
	Name                   string // optional; auto-generated if empty
	Model                  string // optional; Options.DefaultCompanionModel if empty
	SendMessageToolName    string // optional tool to resolve and attach
	SharedBlockIDs         []string
	InitialSkills          []string
	SessionContextBlockID  string // optional; attached as a shared block if set
}

// CreateCompanionResult is CreateCompanion's outcome.
type CreateCompanionResult struct {
	CompanionID   string
	CompanionName string
	Warnings      []string
}

// CreateCompanion provisions a session-scoped Companion agent: persona and
// task_context memory blocks, identifying tags, and best-effort tool/skill/
// shared-block attachment, grounded on create_companion.py.
func (m *Manager) CreateCompanion(ctx context.Context, opts CreateCompanionOptions) (*CreateCompanionResult, error) {
	if opts.SessionID == "" || opts.ConductorID == "" || opts.Specialization == "" {
		return nil, cperrors.New(cperrors.KindInvalidInput, "session_id, conductor_id, and specialization are required")
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("companion-%s-%s-%s", opts.Specialization, shortID(opts.SessionID), uuid.NewString()[:8])
	} else if !strings.HasPrefix(name, "companion-") {
		name = "companion-" + name
	}

	model := opts.Model
	if model == "" {
		model = m.opts.DefaultCompanionModel
	}

	persona := fmt.Sprintf(personaTemplate, opts.SessionID, opts.ConductorID, opts.Specialization)
	taskContext, err := json.Marshal(map[string]any{"current_task": nil, "task_history": []any{}})
	if err != nil {
		return nil, cperrors.Wrap(cperrors.KindInvalidInput, err, "marshal task_context")
	}

	tags := []string{
		roleCompanionTag,
		"session:" + opts.SessionID,
		"specialization:" + opts.Specialization,
		"status:" + string(StatusIdle),
		"conductor:" + opts.ConductorID,
	}

	agentID, err := m.rt.CreateAgent(ctx, agentruntime.AgentConfig{
		Name:         name,
		Description:  fmt.Sprintf("DCF+ Companion (%s) for session %s", opts.Specialization, opts.SessionID),
		SystemPrompt: persona,
		LLMConfig:    map[string]any{"model": model},
		MemoryBlocks: []agentruntime.MemoryBlock{
			{Label: personaBlockLabel, Value: persona, Limit: personaBlockLimit},
			{Label: taskContextBlockLabel, Value: string(taskContext), Limit: taskContextBlockLimit},
		},
		Tags: tags,
	})
	if err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "create companion agent")
	}

	res := &CreateCompanionResult{CompanionID: agentID, CompanionName: name}

	if opts.SendMessageToolName != "" {
		toolIDs, err := m.rt.ListToolIDs(ctx)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not resolve tool %q: %v", opts.SendMessageToolName, err))
		} else if toolID, ok := toolIDs[opts.SendMessageToolName]; ok {
			if err := m.rt.AttachTool(ctx, agentID, toolID); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("failed to attach tool %q: %v", opts.SendMessageToolName, err))
			}
		} else {
			res.Warnings = append(res.Warnings, fmt.Sprintf("tool %q not found in registry", opts.SendMessageToolName))
		}
	}

	if opts.SessionContextBlockID != "" {
		if err := m.rt.AttachSharedBlock(ctx, agentID, opts.SessionContextBlockID); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to attach session_context block: %v", err))
		}
	}
	for _, blockID := range opts.SharedBlockIDs {
		if err := m.rt.AttachSharedBlock(ctx, agentID, blockID); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to attach shared block %q: %v", blockID, err))
		}
	}
	for _, skill := range opts.InitialSkills {
		if loaded, err := m.rt.LoadSkill(ctx, agentID, skill); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to load initial skill %q: %v", skill, err))
		} else if !loaded {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to load initial skill %q", skill))
		}
	}

	return res, nil
}

// DismissOptions configures DismissCompanion.
type DismissOptions struct {
	UnloadSkills  bool
	DetachBlocks  bool
}

// DismissResult is DismissCompanion's outcome.
type DismissResult struct {
	Dismissed bool
	Warnings  []string
}

// DismissCompanion best-effort unloads skills and detaches non-core blocks
// before deleting the agent, grounded on dismiss_companion.py. persona,
// task_context, and dcf_active_skills are "core" blocks: they stay attached
// until the agent itself is deleted.
func (m *Manager) DismissCompanion(ctx context.Context, companionID string, opts DismissOptions) (*DismissResult, error) {
	res := &DismissResult{}

	blocks, err := m.rt.ListBlocks(ctx, companionID)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not list blocks: %v", err))
		blocks = nil
	}

	if opts.UnloadSkills {
		if skillsBlockID, ok := blocks[skillStateBlockLabel]; ok {
			var active map[string]any
			if err := m.rt.ReadBlock(ctx, skillsBlockID, &active); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("could not read %s: %v", skillStateBlockLabel, err))
			} else {
				for skillRef := range active {
					if err := m.rt.UnloadSkill(ctx, companionID, skillRef); err != nil {
						res.Warnings = append(res.Warnings, fmt.Sprintf("failed to unload skill %q: %v", skillRef, err))
					}
				}
			}
		}
	}

	if opts.DetachBlocks {
		for label, blockID := range blocks {
			if isCoreBlockLabel(label) {
				continue
			}
			if err := m.rt.DetachBlock(ctx, companionID, blockID); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("failed to detach block %q: %v", label, err))
			}
		}
	}

	if err := m.rt.DeleteAgent(ctx, companionID); err != nil {
		return res, cperrors.Wrap(cperrors.KindBackendError, err, "delete companion agent %s", companionID)
	}
	res.Dismissed = true
	return res, nil
}

func isCoreBlockLabel(label string) bool {
	switch label {
	case personaBlockLabel, taskContextBlockLabel, skillStateBlockLabel:
		return true
	default:
		return false
	}
}

// ListCompanionsOptions filters ListCompanions.
type ListCompanionsOptions struct {
	Specialization  string // optional filter
	IncludeSkills   bool
}

// ListCompanions finds every Companion tagged for sessionID, grounded on
// list_session_companions.py.
func (m *Manager) ListCompanions(ctx context.Context, sessionID string, opts ListCompanionsOptions) ([]Companion, error) {
	tags := []string{"session:" + sessionID, roleCompanionTag}
	if opts.Specialization != "" {
		tags = append(tags, "specialization:"+opts.Specialization)
	}

	ids, err := m.rt.ListAgentsByTag(ctx, tags...)
	if err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "list companions for session %s", sessionID)
	}

	out := make([]Companion, 0, len(ids))
	for _, id := range ids {
		agentTags, err := m.rt.ReadTags(ctx, id)
		if err != nil {
			continue
		}
		c := companionFromTags(id, agentTags)
		if opts.IncludeSkills {
			if blocks, err := m.rt.ListBlocks(ctx, id); err == nil {
				if skillsBlockID, ok := blocks[skillStateBlockLabel]; ok {
					var active map[string]any
					if err := m.rt.ReadBlock(ctx, skillsBlockID, &active); err == nil {
						for skillRef := range active {
							c.LoadedSkills = append(c.LoadedSkills, skillRef)
						}
					}
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func companionFromTags(agentID string, tags []string) Companion {
	c := Companion{CompanionID: agentID, Tags: tags, Status: StatusIdle}
	for _, t := range tags {
		switch {
		case strings.HasPrefix(t, "specialization:"):
			c.Specialization = strings.TrimPrefix(t, "specialization:")
		case strings.HasPrefix(t, "status:"):
			c.Status = Status(strings.TrimPrefix(t, "status:"))
		case strings.HasPrefix(t, "conductor:"):
			c.ConductorID = strings.TrimPrefix(t, "conductor:")
		case strings.HasPrefix(t, "task:"):
			c.CurrentTaskID = strings.TrimPrefix(t, "task:")
		}
	}
	return c
}

// UpdateCompanionStatusOptions names the tag fields UpdateCompanionStatus
// may rewrite; a nil pointer leaves the corresponding tag untouched.
type UpdateCompanionStatusOptions struct {
	Status         *Status
	Specialization *string
	// TaskID, if non-nil, sets the task tag; an empty string clears it.
	TaskID *string
}

// UpdateCompanionStatus rewrites companionID's status/specialization/task
// tags in place, preserving every other tag, grounded on
// update_companion_status.py.
func (m *Manager) UpdateCompanionStatus(ctx context.Context, companionID string, opts UpdateCompanionStatusOptions) error {
	tags, err := m.rt.ReadTags(ctx, companionID)
	if err != nil {
		return cperrors.Wrap(cperrors.KindBackendError, err, "read tags for companion %s", companionID)
	}

	next := make([]string, 0, len(tags)+1)
	for _, t := range tags {
		switch {
		case opts.Status != nil && strings.HasPrefix(t, "status:"):
			continue
		case opts.Specialization != nil && strings.HasPrefix(t, "specialization:"):
			continue
		case opts.TaskID != nil && strings.HasPrefix(t, "task:"):
			continue
		default:
			next = append(next, t)
		}
	}
	if opts.Status != nil {
		next = append(next, "status:"+string(*opts.Status))
	}
	if opts.Specialization != nil {
		next = append(next, "specialization:"+*opts.Specialization)
	}
	if opts.TaskID != nil && *opts.TaskID != "" {
		next = append(next, "task:"+*opts.TaskID)
	}

	if err := m.rt.ReplaceTags(ctx, companionID, next); err != nil {
		return cperrors.Wrap(cperrors.KindBackendError, err, "replace tags for companion %s", companionID)
	}
	return nil
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
