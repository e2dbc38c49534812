// Package controlplane implements the workflow control plane (spec §3, §4.1,
// §4.2, §4.3, §4.6): the WorkflowMeta/StateDoc data model and the atomic
// operations that create, read, patch, lease, and finalize it. It sits
// directly on docstore.Store the way the teacher's registry package sits on
// its replicated map — every mutation here is a single CAS round-trip on one
// document key.
package controlplane

import (
	"time"

	"github.com/choreoflow/choreoctl/definition"
)

// Status values for StateDoc.Status. StatusSucceeded is canonical; the
// literal "done" used by one of the original tools is accepted as a
// read-only input alias (see NormalizeStatus) but never written.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"

	// statusDoneAlias is the legacy name for StatusSucceeded some source
	// tooling wrote; NormalizeStatus folds it in on read.
	statusDoneAlias Status = "done"
)

// NormalizeStatus folds the "done" alias into the canonical "succeeded"
// status. All other values pass through unchanged.
func NormalizeStatus(s Status) Status {
	if s == statusDoneAlias {
		return StatusSucceeded
	}
	return s
}

// IsTerminal reports whether s is one of the terminal statuses.
func (s Status) IsTerminal() bool {
	switch NormalizeStatus(s) {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// MetaStatus values for WorkflowMeta.Status, set only by finalize.
type MetaStatus string

const (
	MetaStatusPending   MetaStatus = "pending"
	MetaStatusSucceeded MetaStatus = "succeeded"
	MetaStatusFailed    MetaStatus = "failed"
	MetaStatusCancelled MetaStatus = "cancelled"
	MetaStatusPartial   MetaStatus = "partial"
	MetaStatusFinalized MetaStatus = "finalized"
)

// Deps is the upstream/downstream edge set for one state in the DAG; an
// alias of definition.Deps so WorkflowMeta.Deps needs no conversion from
// Workflow.DeriveGraph's result.
type Deps = definition.Deps

// CostSummary aggregates execution metrics across all states, written by
// Finalize (spec §4.6 step 5).
type CostSummary struct {
	TotalTokens      int64              `json:"total_tokens"`
	PromptTokens     int64              `json:"prompt_tokens"`
	CompletionTokens int64              `json:"completion_tokens"`
	LLMCalls         int64              `json:"llm_calls"`
	ToolCalls        int64              `json:"tool_calls"`
	DurationMS       int64              `json:"duration_ms"`
	EstimatedCostUSD float64            `json:"estimated_cost_usd"`
	ByTier           map[string]float64 `json:"by_tier"`
	TierEscalations  int                `json:"tier_escalations"`
}

// WorkflowMeta is cp:wf:{workflow_id}:meta (spec §3.1).
type WorkflowMeta struct {
	WorkflowID      string          `json:"workflow_id"`
	WorkflowName    string          `json:"workflow_name"`
	SchemaVersion   string          `json:"schema_version"`
	StartAt         string          `json:"start_at"`
	States          []string        `json:"states"`
	TerminalStates  []string        `json:"terminal_states"`
	Agents          map[string]string `json:"agents"`
	PlannerAgentID  string          `json:"planner_agent_id,omitempty"`
	Deps            map[string]Deps `json:"deps"`
	Status          MetaStatus      `json:"status,omitempty"`
	FinalizedAt     *time.Time      `json:"finalized_at,omitempty"`
	FinalizeNote    string          `json:"finalize_note,omitempty"`
	CostSummary     *CostSummary    `json:"cost_summary,omitempty"`
}

// Lease is the per-state CAS-guarded ownership token (spec §3.2, §4.2).
type Lease struct {
	Token        string     `json:"token"`
	OwnerAgentID string     `json:"owner_agent_id"`
	TS           *time.Time `json:"ts"`
	TTLSeconds   int        `json:"ttl_s"`
}

// Held reports whether the lease currently has a non-empty token.
func (l Lease) Held() bool {
	return l.Token != ""
}

// Expired reports whether now is past ts+ttl. A lease with no ts or zero ttl
// is treated as never expiring.
func (l Lease) Expired(now time.Time) bool {
	if l.TS == nil || l.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(*l.TS) > time.Duration(l.TTLSeconds)*time.Second
}

// ModelSelection records the tier chosen for a state's execution, for cost
// accounting and the amsp audit record (spec §4.6 step 7).
type ModelSelection struct {
	Tier       int     `json:"tier"`
	Model      string  `json:"model"`
	FCS        float64 `json:"fcs"`
	Escalated  bool    `json:"tier_escalated"`
	Confidence float64 `json:"confidence"`
}

// ExecutionMetrics records per-state resource usage, aggregated by finalize.
type ExecutionMetrics struct {
	TotalTokens      int64   `json:"total_tokens"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	LLMCalls         int64   `json:"llm_calls"`
	ToolCalls        int64   `json:"tool_calls"`
	DurationMS       int64   `json:"duration_ms"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// StateDoc is cp:wf:{workflow_id}:state:{state} (spec §3.2).
type StateDoc struct {
	Status           Status            `json:"status"`
	Attempts         int               `json:"attempts"`
	Lease            Lease             `json:"lease"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	FinishedAt       *time.Time        `json:"finished_at,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	ModelSelection   *ModelSelection   `json:"model_selection,omitempty"`
	ExecutionMetrics *ExecutionMetrics `json:"execution_metrics,omitempty"`
}

// OutputDoc is dp:wf:{workflow_id}:output:{state} (spec §3.3): an opaque
// JSON artifact produced by a state, optionally expiring via TTL.
type OutputDoc struct {
	Value any `json:"value"`
}

// AuditRecord is dp:wf:{workflow_id}:audit:{kind} (spec §3.4): an immutable
// record written by Finalize and similar operations.
type AuditRecord struct {
	Kind      string     `json:"kind"`
	WriteAt   time.Time  `json:"write_at"`
	Counts    map[string]int `json:"counts,omitempty"`
	FinalStatus MetaStatus `json:"final_status,omitempty"`
	CostSummary *CostSummary `json:"cost_summary,omitempty"`
	ModelSelections map[string]ModelSelection `json:"model_selections,omitempty"`
	EscalationRate  float64 `json:"escalation_rate,omitempty"`
}

// Key builders for the layout in spec §6.4.

func MetaKey(workflowID string) string {
	return "cp:wf:" + workflowID + ":meta"
}

func StateKey(workflowID, state string) string {
	return "cp:wf:" + workflowID + ":state:" + state
}

func OutputKey(workflowID, state string) string {
	return "dp:wf:" + workflowID + ":output:" + state
}

func AuditKey(workflowID, kind string) string {
	return "dp:wf:" + workflowID + ":audit:" + kind
}
