// Package bootstrap turns a validated WorkflowDefinition into live worker
// agents and a seeded control plane (spec §4.3). Grounded on
// original_source/dcf_mcp/tools/dcf/create_worker_agents.py: resolve one
// agent template per Task state by precedence (embedded bundle agents,
// imported .af bundles, inline workflow.agents fallback), create the agent
// via the runtime adapter, tag it, then call controlplane.CreateControlPlane
// once every agent exists.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/controlplane"
	"github.com/choreoflow/choreoctl/cperrors"
	"github.com/choreoflow/choreoctl/definition"
	"github.com/choreoflow/choreoctl/telemetry"
)

// maxRuntimeNameLength mirrors the original tool's truncate-then-suffix
// collision avoidance: names longer than this are cut to 48 runes and
// suffixed with "-" plus an 8-character uuid fragment.
const maxRuntimeNameLength = 56

// ToolResolver looks up a platform tool's id by name, letting bootstrap share
// agentruntime.ToolCache without importing Redis/Pulse directly into tests.
type ToolResolver interface {
	Lookup(ctx context.Context, name string) (string, error)
}

// Options configures one Bootstrap call.
type Options struct {
	// NamePrefix is prepended to every runtime agent name, e.g. "wf-checkout-".
	NamePrefix string
	// ExtraTags is appended to the fixed tag set every created agent carries.
	ExtraTags []string
	// Tools resolves inline ToolDef names to platform tool ids. Required only
	// if any resolved template names inline tools.
	Tools ToolResolver
	// Logger records per-agent warnings (unmapped tools, template
	// precedence). Defaults to a no-op logger.
	Logger telemetry.Logger
}

// withDefaults fills in Logger and, per spec §4.3 step 4, NamePrefix when the
// caller left it empty: agent names must still be workflow-scoped to
// "wf-{workflow_id}-{template_name}" rather than bare template names.
func (o Options) withDefaults(workflowID string) Options {
	if o.Logger == nil {
		o.Logger = telemetry.NewNoopLogger()
	}
	if o.NamePrefix == "" {
		o.NamePrefix = fmt.Sprintf("wf-%s-", workflowID)
	}
	return o
}

// CreatedAgent records one worker agent provisioned for a Task state.
type CreatedAgent struct {
	State     string
	AgentID   string
	AgentName string
}

// Result is the outcome of Bootstrap.
type Result struct {
	Agents       []CreatedAgent
	AgentsByID   map[string]string // state -> agentID, passed to CreateControlPlane
	Warnings     []string
	ControlPlane *controlplane.CreateResult
}

// Bootstrap implements spec §4.3 steps 1-7: resolve a template and create a
// worker agent for every top-level Task state, then seed the control plane.
// It aborts on the first state whose template cannot be resolved or whose
// agent creation fails; agents already created are left in place (the
// original tool has no rollback either — a partial bootstrap is recovered by
// re-running it, since createControlPlane and template resolution are both
// idempotent-by-name).
func Bootstrap(ctx context.Context, rt agentruntime.Runtime, cp *controlplane.Store, imports AFBundleSet, wf *definition.Workflow, opts Options) (*Result, error) {
	opts = opts.withDefaults(wf.WorkflowID)
	res := &Result{AgentsByID: map[string]string{}}

	if wf.ASL.StartAt == "" || len(wf.ASL.States) == 0 {
		return nil, cperrors.New(cperrors.KindInvalidInput, "workflow %q has no states to bootstrap", wf.WorkflowID)
	}

	for name, st := range wf.ASL.States {
		if st == nil || st.Type != definition.StateTypeTask {
			continue
		}
		if st.AgentBinding == nil {
			return nil, cperrors.New(cperrors.KindInvalidInput, "state %q is a Task with no AgentBinding", name)
		}

		tmpl, err := resolveTemplate(st.AgentBinding, wf.InlineAgents, imports, wf.InlineWorkflowAgents)
		if err != nil {
			return nil, cperrors.Wrap(cperrors.KindNotFound, err, "state %q: resolve agent template", name)
		}

		cfg, warnings, err := buildAgentConfig(ctx, tmpl, opts.Tools)
		if err != nil {
			return nil, cperrors.Wrap(cperrors.KindBackendError, err, "state %q: build creation payload", name)
		}
		res.Warnings = append(res.Warnings, warnings...)

		cfg.Name = runtimeName(opts.NamePrefix, tmpl.Name)
		cfg.Tags = tags(wf.WorkflowID, name, opts.ExtraTags)

		agentID, err := rt.CreateAgent(ctx, cfg)
		if err != nil {
			return nil, cperrors.Wrap(cperrors.KindBackendError, err, "state %q: create agent", name)
		}

		opts.Logger.Info(ctx, "created worker agent", "workflow_id", wf.WorkflowID, "state", name, "agent_id", agentID, "agent_name", cfg.Name)
		res.Agents = append(res.Agents, CreatedAgent{State: name, AgentID: agentID, AgentName: cfg.Name})
		res.AgentsByID[name] = agentID
	}

	cpResult, err := cp.CreateControlPlane(ctx, wf, res.AgentsByID)
	if err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "seed control plane for %q", wf.WorkflowID)
	}
	res.ControlPlane = cpResult
	return res, nil
}

// buildAgentConfig constructs the pass-through creation payload from tmpl
// (spec §4.3 step 3): every field copies straight across except Tools, which
// is mapped name-by-name to platform tool ids via resolver, skipping (and
// warning on) any name resolver does not know.
func buildAgentConfig(ctx context.Context, tmpl *definition.AgentTemplate, resolver ToolResolver) (agentruntime.AgentConfig, []string, error) {
	cfg := agentruntime.AgentConfig{
		Description:     tmpl.Description,
		SystemPrompt:    tmpl.SystemPrompt,
		LLMConfig:       tmpl.LLMConfig,
		EmbeddingConfig: tmpl.EmbedConfig,
	}
	for _, mb := range tmpl.MemoryBlocks {
		cfg.MemoryBlocks = append(cfg.MemoryBlocks, agentruntime.MemoryBlock{Label: mb.Label, Value: mb.Value, Limit: mb.Limit})
	}
	for _, tr := range tmpl.ToolRules {
		cfg.ToolRuleNames = append(cfg.ToolRuleNames, tr.ToolName)
	}

	var warnings []string
	if len(tmpl.Tools) > 0 {
		if resolver == nil {
			for _, t := range tmpl.Tools {
				warnings = append(warnings, fmt.Sprintf("tool %q skipped: no tool resolver configured", t.Name))
			}
		} else {
			for _, t := range tmpl.Tools {
				id, err := resolver.Lookup(ctx, t.Name)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("tool %q skipped: %v", t.Name, err))
					continue
				}
				cfg.ToolIDs = append(cfg.ToolIDs, id)
			}
		}
	}
	return cfg, warnings, nil
}

// runtimeName composes "{prefix}{templateName}", truncating and appending a
// short uuid suffix when the result exceeds maxRuntimeNameLength, matching
// the original tool's collision-avoidance scheme.
func runtimeName(prefix, templateName string) string {
	name := prefix + templateName
	if len([]rune(name)) <= maxRuntimeNameLength {
		return name
	}
	runes := []rune(name)
	truncated := string(runes[:48])
	return fmt.Sprintf("%s-%s", truncated, uuid.New().String()[:8])
}

// tags builds the fixed tag set every worker agent carries (spec §4.3 step
// 5): wf:{id}, state:{name}, role:worker, plus any caller-supplied extras.
func tags(workflowID, state string, extra []string) []string {
	out := []string{
		fmt.Sprintf("wf:%s", workflowID),
		fmt.Sprintf("state:%s", state),
		"role:worker",
	}
	return append(out, extra...)
}
