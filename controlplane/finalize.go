package controlplane

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/cperrors"
	"github.com/choreoflow/choreoctl/telemetry"
)

// FinalizeOptions configures Finalize (spec §4.6). Defaults match
// original_source/tools/dcf/finalize_workflow.py's defaults.
type FinalizeOptions struct {
	DeleteWorkerAgents bool // default true
	PreservePlanner    bool // default true
	CloseOpenStates    bool // default true
	OverallStatus      MetaStatus // forces the final status if non-empty
	FinalizeNote       string
}

// DefaultFinalizeOptions returns finalize_workflow's defaults.
func DefaultFinalizeOptions() FinalizeOptions {
	return FinalizeOptions{
		DeleteWorkerAgents: true,
		PreservePlanner:    true,
		CloseOpenStates:    true,
	}
}

// AgentDeleteResult reports one worker agent's deletion outcome.
type AgentDeleteResult struct {
	State   string
	AgentID string
	Deleted bool
	Error   string
}

// FinalizeResult is Finalize's return value.
type FinalizeResult struct {
	FinalStatus MetaStatus
	Counts      map[Status]int
	AgentsToDelete int
	AgentsDeleted  int
	AgentDeleteErrors int
	Agents      []AgentDeleteResult
	Warnings    []string
}

// Finalizer ends a workflow run: closes loose ends, deletes worker agents,
// aggregates cost, and writes audit records (spec §4.6). It never deletes
// any cp: or dp: key.
type Finalizer struct {
	store   *Store
	runtime agentruntime.Runtime
	instr   instrumentation
}

// FinalizerOption configures optional Finalizer behavior.
type FinalizerOption func(*Finalizer)

// WithFinalizerTelemetry routes Finalize's span and counter/timer through
// tracer/metrics instead of the no-op defaults.
func WithFinalizerTelemetry(tracer telemetry.Tracer, metrics telemetry.Metrics) FinalizerOption {
	return func(f *Finalizer) { f.instr = instrumentation{tracer: tracer, metrics: metrics} }
}

// NewFinalizer builds a Finalizer. runtime may be nil if
// FinalizeOptions.DeleteWorkerAgents will never be requested.
func NewFinalizer(store *Store, runtime agentruntime.Runtime, opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{store: store, runtime: runtime, instr: defaultInstrumentation()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize implements the seven steps of spec §4.6. It is best-effort: a
// failure closing one state or deleting one agent is recorded as a warning
// or a per-agent error and does not abort the rest of the run.
func (f *Finalizer) Finalize(ctx context.Context, workflowID string, opts FinalizeOptions) (*FinalizeResult, error) {
	var result *FinalizeResult
	err := f.instr.traced(ctx, "finalize", func(ctx context.Context) error {
		out, err := f.finalize(ctx, workflowID, opts)
		result = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Finalizer) finalize(ctx context.Context, workflowID string, opts FinalizeOptions) (*FinalizeResult, error) {
	var meta WorkflowMeta
	if err := f.store.docs.Get(ctx, MetaKey(workflowID), &meta); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	counts := map[Status]int{
		StatusPending: 0, StatusRunning: 0, StatusSucceeded: 0, StatusFailed: 0, StatusCancelled: 0,
	}
	stateDocs := map[string]StateDoc{}

	result := &FinalizeResult{}

	for _, name := range meta.States {
		var doc StateDoc
		if err := f.store.docs.Get(ctx, StateKey(workflowID, name), &doc); err != nil {
			result.Warnings = append(result.Warnings, "read state "+name+": "+err.Error())
			counts[StatusPending]++
			continue
		}
		doc.Status = NormalizeStatus(doc.Status)
		stateDocs[name] = doc
		counts[doc.Status]++
	}

	if opts.CloseOpenStates {
		for name, doc := range stateDocs {
			if doc.Status != StatusPending && doc.Status != StatusRunning {
				continue
			}
			msg := "finalized: state closed by finalize_workflow"
			_, err := f.store.UpdateState(ctx, workflowID, name, StatePatch{
				NewStatus:     statusPtr(StatusCancelled),
				SetFinishedAt: true,
				ErrorMessage:  &msg,
			})
			if err != nil {
				result.Warnings = append(result.Warnings, "close state "+name+": "+err.Error())
				continue
			}
			counts[doc.Status]--
			counts[StatusCancelled]++
		}
	}

	finalStatus := opts.OverallStatus
	if finalStatus == "" {
		switch {
		case counts[StatusFailed] > 0:
			finalStatus = MetaStatusFailed
		case counts[StatusPending] > 0 || counts[StatusRunning] > 0:
			finalStatus = MetaStatusPartial
		default:
			finalStatus = MetaStatusSucceeded
		}
	}
	result.FinalStatus = finalStatus
	result.Counts = counts

	if opts.DeleteWorkerAgents && len(meta.Agents) > 0 {
		result.AgentsToDelete = len(meta.Agents)
		if f.runtime == nil {
			for state, agentID := range meta.Agents {
				result.Agents = append(result.Agents, AgentDeleteResult{State: state, AgentID: agentID, Error: "no agent-runtime configured"})
				result.AgentDeleteErrors++
			}
		} else {
			for state, agentID := range meta.Agents {
				if opts.PreservePlanner && meta.PlannerAgentID != "" && agentID == meta.PlannerAgentID {
					result.Agents = append(result.Agents, AgentDeleteResult{State: state, AgentID: agentID, Error: "skipped_planner"})
					continue
				}
				if err := f.runtime.DeleteAgent(ctx, agentID); err != nil {
					result.Agents = append(result.Agents, AgentDeleteResult{State: state, AgentID: agentID, Error: err.Error()})
					result.AgentDeleteErrors++
					continue
				}
				result.Agents = append(result.Agents, AgentDeleteResult{State: state, AgentID: agentID, Deleted: true})
				result.AgentsDeleted++
			}
		}
	}

	cost, selections := aggregateCost(stateDocs)

	err := f.store.docs.Update(ctx, MetaKey(workflowID), true, func(current json.RawMessage) (any, error) {
		var m WorkflowMeta
		if err := json.Unmarshal(current, &m); err != nil {
			return nil, cperrors.Wrap(cperrors.KindBackendError, err, "decode meta %q", workflowID)
		}
		if m.FinalizedAt == nil || m.Status != finalStatus {
			m.FinalizedAt = &now
		}
		m.Status = finalStatus
		if opts.FinalizeNote != "" {
			m.FinalizeNote = opts.FinalizeNote
		}
		if cost != nil {
			m.CostSummary = cost
		}
		return m, nil
	})
	if err != nil {
		result.Warnings = append(result.Warnings, "write meta: "+err.Error())
	}

	auditCounts := map[string]int{}
	for status, n := range counts {
		auditCounts[string(status)] = n
	}
	auditRec := AuditRecord{
		Kind:        "finalize",
		WriteAt:     now,
		Counts:      auditCounts,
		FinalStatus: finalStatus,
		CostSummary: cost,
	}
	if err := f.store.docs.Update(ctx, AuditKey(workflowID, "finalize"), false, func(json.RawMessage) (any, error) {
		return auditRec, nil
	}); err != nil {
		result.Warnings = append(result.Warnings, "write finalize audit: "+err.Error())
	}

	if len(selections) > 0 {
		escalations := 0
		for _, sel := range selections {
			if sel.Escalated {
				escalations++
			}
		}
		rate := float64(escalations) / float64(len(selections))
		amspRec := AuditRecord{
			Kind:            "amsp",
			WriteAt:         now,
			ModelSelections: selections,
			EscalationRate:  rate,
		}
		if err := f.store.docs.Update(ctx, AuditKey(workflowID, "amsp"), false, func(json.RawMessage) (any, error) {
			return amspRec, nil
		}); err != nil {
			result.Warnings = append(result.Warnings, "write amsp audit: "+err.Error())
		}
	}

	return result, nil
}

// aggregateCost sums execution_metrics across every state doc and attributes
// estimated_cost_usd per model-selection tier (spec §4.6 step 5). Returns a
// nil CostSummary if no state contributed metrics, matching "write
// cost_summary only if any state contributed metrics".
func aggregateCost(docs map[string]StateDoc) (*CostSummary, map[string]ModelSelection) {
	var sum CostSummary
	sum.ByTier = map[string]float64{}
	selections := map[string]ModelSelection{}
	hasMetrics := false

	for name, doc := range docs {
		if doc.ModelSelection != nil {
			selections[name] = *doc.ModelSelection
		}
		if doc.ExecutionMetrics == nil {
			continue
		}
		hasMetrics = true
		m := doc.ExecutionMetrics
		sum.TotalTokens += m.TotalTokens
		sum.PromptTokens += m.PromptTokens
		sum.CompletionTokens += m.CompletionTokens
		sum.LLMCalls += m.LLMCalls
		sum.ToolCalls += m.ToolCalls
		sum.DurationMS += m.DurationMS
		sum.EstimatedCostUSD += m.EstimatedCostUSD

		if doc.ModelSelection != nil {
			sum.ByTier[strconv.Itoa(doc.ModelSelection.Tier)] += m.EstimatedCostUSD
			if doc.ModelSelection.Escalated {
				sum.TierEscalations++
			}
		}
	}
	if !hasMetrics {
		return nil, selections
	}
	return &sum, selections
}

func statusPtr(s Status) *Status { return &s }
