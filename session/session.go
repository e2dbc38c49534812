// Package session implements DCF+'s Delegated Execution pattern (spec
// §4.7): a Conductor agent coordinating a pool of session-scoped Companion
// agents over shared Letta memory blocks and agent tags, plus the
// Strategist-facing activity/guidelines tools. Grounded on
// original_source/dcf_mcp/tools/dcf_plus/*.py — every block label, tag
// prefix, and default is carried over unchanged so a Companion created by
// this package looks, to the agent-runtime service, identical to one the
// original tools would have created.
package session

import (
	"time"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/telemetry"
)

// State is a SessionContext's lifecycle state.
type State string

const (
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateCompleting State = "completing"
	StateCompleted  State = "completed"
)

// Status is a Companion's availability tag.
type Status string

const (
	StatusIdle  Status = "idle"
	StatusBusy  Status = "busy"
	StatusError Status = "error"
)

const (
	roleCompanionTag           = "role:companion"
	guidelinesBlockLabel       = "strategist_guidelines"
	delegationLogBlockLabel    = "delegation_log"
	taskContextBlockLabel      = "task_context"
	personaBlockLabel          = "persona"
	skillStateBlockLabel       = "dcf_active_skills"
	maxAnnouncements           = 20
	maxDelegationLogEntries    = 100
	sessionContextBlockLimit   = 16000
	guidelinesBlockLimit       = 8000
	personaBlockLimit          = 4000
	taskContextBlockLimit      = 8000
	defaultCompanionModel      = "openai/gpt-4o-mini"
	taskDescriptionTruncateLen = 200
)

// Announcement is a timestamped broadcast recorded on a SessionContext.
type Announcement struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// SessionContext is the shared coordination block attached to the
// Conductor and every Companion (spec §4.7's session_context block).
type SessionContext struct {
	SessionID      string         `json:"session_id"`
	ConductorID    string         `json:"conductor_id"`
	Objective      string         `json:"objective,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
	State          State          `json:"state"`
	CompanionCount int            `json:"companion_count"`
	ActiveTasks    []string       `json:"active_tasks"`
	CompletedTasks []string       `json:"completed_tasks"`
	SharedData     map[string]any `json:"shared_data"`
	Announcements  []Announcement `json:"announcements"`
}

// Companion describes one Companion agent's identity and current
// tag-derived state, as surfaced by ListCompanions/ReadSessionActivity.
type Companion struct {
	CompanionID     string   `json:"companion_id"`
	CompanionName   string   `json:"companion_name"`
	Specialization  string   `json:"specialization"`
	Status          Status   `json:"status"`
	ConductorID     string   `json:"conductor_id,omitempty"`
	CurrentTaskID   string   `json:"current_task_id,omitempty"`
	LoadedSkills    []string `json:"loaded_skills"`
	Tags            []string `json:"tags"`
}

// DelegationRecord is one entry in a Conductor's delegation_log block.
type DelegationRecord struct {
	TaskID          string     `json:"task_id"`
	CompanionID     string     `json:"companion_id"`
	CompanionName   string     `json:"companion_name"`
	SkillsAssigned  []string   `json:"skills_assigned"`
	TaskDescription string     `json:"task_description"`
	Priority        string     `json:"priority"`
	TimeoutSeconds  int        `json:"timeout_seconds"`
	Status          string     `json:"status"` // "pending" | "completed"
	DelegatedAt     time.Time  `json:"delegated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationS       *float64   `json:"duration_s,omitempty"`
	ResultStatus    string     `json:"result_status,omitempty"`
}

// DelegationLog is the Conductor's delegation_log block contents, read by
// the Strategist via ReadSessionActivity.
type DelegationLog struct {
	SessionID        string             `json:"session_id,omitempty"`
	Delegations      []DelegationRecord `json:"delegations"`
	LastDelegationAt time.Time          `json:"last_delegation_at,omitempty"`
}

// CompanionScaling holds the Strategist's recommended pool-sizing policy.
type CompanionScaling struct {
	MinCompanions      int `json:"min_companions"`
	MaxCompanions      int `json:"max_companions"`
	ScaleUpThreshold   int `json:"scale_up_threshold"`
	ScaleDownThreshold int `json:"scale_down_threshold"`
}

// ModelSelectionGuidelines is AMSP's Strategist-published tier policy,
// consumed by modelselect.Registry callers when choosing a default tier.
type ModelSelectionGuidelines struct {
	DefaultTier         int            `json:"default_tier"`
	TaskTypeTiers       map[string]int `json:"task_type_tiers"`
	SkillTierOverrides  map[string]int `json:"skill_tier_overrides"`
	EscalationThreshold float64        `json:"escalation_threshold"`
	CostOptimization    string         `json:"cost_optimization"`
}

// Recommendation is one free-text Strategist recommendation.
type Recommendation struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// ConductorGuidelines is the strategist_guidelines block contents.
type ConductorGuidelines struct {
	Recommendations  []Recommendation         `json:"recommendations"`
	SkillPreferences map[string]string        `json:"skill_preferences"`
	CompanionScaling CompanionScaling         `json:"companion_scaling"`
	ModelSelection   ModelSelectionGuidelines `json:"model_selection"`
	UpdatedAt        time.Time                `json:"updated_at,omitempty"`
	UpdateCount      int                      `json:"update_count"`
}

func defaultConductorGuidelines() ConductorGuidelines {
	return ConductorGuidelines{
		Recommendations:  []Recommendation{},
		SkillPreferences: map[string]string{},
		CompanionScaling: CompanionScaling{MinCompanions: 1, MaxCompanions: 5, ScaleUpThreshold: 3},
		ModelSelection: ModelSelectionGuidelines{
			DefaultTier:         0,
			TaskTypeTiers:       map[string]int{},
			SkillTierOverrides:  map[string]int{},
			EscalationThreshold: 0.15,
			CostOptimization:    "balanced",
		},
	}
}

// Options configures a Manager.
type Options struct {
	// DefaultCompanionModel names the LLM a Companion is created with when
	// CreateCompanionOptions.Model is empty (the Go analogue of the
	// DCF_DEFAULT_MODEL env var).
	DefaultCompanionModel string
	Logger                telemetry.Logger
}

func (o Options) withDefaults() Options {
	if o.DefaultCompanionModel == "" {
		o.DefaultCompanionModel = defaultCompanionModel
	}
	if o.Logger == nil {
		o.Logger = telemetry.NewNoopLogger()
	}
	return o
}

// Manager implements every DCF+ coordination operation over an
// agentruntime.Runtime, treating Letta memory blocks and agent tags as the
// session's only state (there is no separate session docstore: the
// Conductor and its Companions ARE the session's storage, per the original
// tools' design).
type Manager struct {
	rt   agentruntime.Runtime
	opts Options
}

// NewManager constructs a Manager backed by rt.
func NewManager(rt agentruntime.Runtime, opts Options) *Manager {
	return &Manager{rt: rt, opts: opts.withDefaults()}
}

func sessionContextBlockLabel(sessionID string) string {
	return "session_context:" + sessionID
}

func clampAnnouncements(items []Announcement) []Announcement {
	if len(items) <= maxAnnouncements {
		return items
	}
	return items[len(items)-maxAnnouncements:]
}

func clampDelegations(items []DelegationRecord) []DelegationRecord {
	if len(items) <= maxDelegationLogEntries {
		return items
	}
	return items[len(items)-maxDelegationLogEntries:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
