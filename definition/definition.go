// Package definition holds the WorkflowDefinition input types (spec §3.5):
// the ASL-like state machine plus agent/skill bindings and import lists. It
// never touches the document store — the validator (package validator) and
// the bootstrap algorithm (package bootstrap) both consume it by value.
package definition

import (
	"sort"

	"github.com/choreoflow/choreoctl/cperrors"
)

// StateType enumerates the ASL state kinds used by the bootstrap, validator,
// and readiness evaluator.
type StateType string

const (
	StateTypeTask     StateType = "Task"
	StateTypeChoice   StateType = "Choice"
	StateTypeParallel StateType = "Parallel"
	StateTypeMap      StateType = "Map"
	StateTypeWait     StateType = "Wait"
	StateTypeSucceed  StateType = "Succeed"
	StateTypeFail     StateType = "Fail"
)

// AgentRef names a template either by id or by name. Exactly one should be
// set; resolution order is defined by the bootstrap algorithm (spec §4.3).
type AgentRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// AgentBinding attaches an agent template reference and a set of skill
// references to a Task state.
type AgentBinding struct {
	AgentRef         *AgentRef `json:"agent_ref,omitempty"`
	AgentTemplateRef *AgentRef `json:"agent_template_ref,omitempty"`
	Skills           []string  `json:"skills,omitempty"`
}

// Choice is one branch of a Choice state.
type Choice struct {
	Next string `json:"Next"`
}

// Branch is one parallel branch or map iterator: a nested state machine.
type Branch struct {
	StartAt string              `json:"StartAt"`
	States  map[string]*State   `json:"States"`
}

// State is one node of asl.States. Only the fields relevant to a given Type
// are populated; see spec §3.5.
type State struct {
	Type         StateType     `json:"Type"`
	Next         string        `json:"Next,omitempty"`
	End          bool          `json:"End,omitempty"`
	Choices      []Choice      `json:"Choices,omitempty"`
	Default      string        `json:"Default,omitempty"`
	Branches     []Branch      `json:"Branches,omitempty"`
	Iterator     *Branch       `json:"Iterator,omitempty"`
	AgentBinding *AgentBinding `json:"AgentBinding,omitempty"`
}

// ASL is the embedded state-machine definition.
type ASL struct {
	StartAt string            `json:"StartAt"`
	States  map[string]*State `json:"States"`
}

// AFImport references an externally-hosted bundle of agent templates.
// Only file:// and relative-path URIs are permitted (spec §4.5 phase 2/3).
type AFImport struct {
	URI string `json:"uri"`
}

// SkillImport references an externally-hosted skill manifest or manifest
// bundle.
type SkillImport struct {
	URI string `json:"uri"`
}

// Workflow is the top-level WorkflowDefinition (spec §3.5). It is never
// persisted as-is; CreateControlPlane derives WorkflowMeta from it.
type Workflow struct {
	WorkflowID    string        `json:"workflow_id"`
	WorkflowName  string        `json:"workflow_name"`
	SchemaVersion string        `json:"schema_version"`
	ASL           ASL           `json:"asl"`
	AFImports     []AFImport    `json:"af_imports,omitempty"`
	SkillImports  []SkillImport `json:"skill_imports,omitempty"`

	// InlineAgents, if non-empty, is the embedded af_v2_entities.agents list.
	// The validator rejects a definition carrying this (imports-only policy,
	// spec §4.5 phase 2) but the type still needs to represent it so that
	// rejection can inspect the field.
	InlineAgents []AgentTemplate `json:"af_v2_entities_agents,omitempty"`

	// InlineWorkflowAgents is the §4.3 step 2 fallback: `workflow.agents[*]`.
	InlineWorkflowAgents []AgentTemplate `json:"agents,omitempty"`
}

// AgentTemplate is the subset of an .af bundle entity needed to create a
// worker agent (spec §4.3 step 3).
type AgentTemplate struct {
	ID           string         `json:"id,omitempty"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	LLMConfig    map[string]any `json:"llm_config,omitempty"`
	EmbedConfig  map[string]any `json:"embedding_config,omitempty"`
	MemoryBlocks []MemoryBlock  `json:"memory_blocks,omitempty"`
	ToolRules    []ToolRule     `json:"tool_rules,omitempty"`
	Tools        []ToolDef      `json:"tools,omitempty"`
}

// MemoryBlock is one labeled memory block in an agent template.
type MemoryBlock struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Limit int    `json:"limit,omitempty"`
}

// ToolRule constrains when a tool may be called.
type ToolRule struct {
	ToolName string `json:"tool_name"`
	Type     string `json:"type"`
}

// ToolDef is an inline tool definition in an agent template, mapped to a
// pre-registered platform tool id by name during bootstrap.
type ToolDef struct {
	Name string `json:"name"`
}

// Deps is the upstream/downstream edge set for one state in the DAG.
// controlplane.WorkflowMeta.Deps uses this type directly so DeriveGraph's
// result needs no conversion at the call site.
type Deps struct {
	Upstream   []string `json:"upstream"`
	Downstream []string `json:"downstream"`
}

// DeriveGraph computes the ordered state list, the upstream/downstream edge
// set, and the terminal-state subset from asl.States (spec §3.1 invariants,
// §4.1 createControlPlane). States are returned in a stable order: StartAt
// first, then the remaining keys as encountered while walking transitions
// breadth-first, then any states unreachable from StartAt appended last in
// name order so no state is dropped.
func (w *Workflow) DeriveGraph() (states []string, deps map[string]Deps, terminal []string, err error) {
	if w.ASL.StartAt == "" {
		return nil, nil, nil, cperrors.New(cperrors.KindInvalidInput, "workflow %q has no StartAt", w.WorkflowID)
	}
	if len(w.ASL.States) == 0 {
		return nil, nil, nil, cperrors.New(cperrors.KindInvalidInput, "workflow %q has no states", w.WorkflowID)
	}
	if _, ok := w.ASL.States[w.ASL.StartAt]; !ok {
		return nil, nil, nil, cperrors.New(cperrors.KindInvalidInput, "workflow %q: StartAt %q is not a state", w.WorkflowID, w.ASL.StartAt)
	}

	downstream := map[string][]string{}
	for name, st := range w.ASL.States {
		for _, next := range nextsOf(st) {
			if _, ok := w.ASL.States[next]; !ok {
				return nil, nil, nil, cperrors.New(cperrors.KindGraphError, "state %q transitions to undefined state %q", name, next)
			}
			downstream[name] = append(downstream[name], next)
		}
	}

	visited := map[string]bool{}
	order := []string{}
	queue := []string{w.ASL.StartAt}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true
		order = append(order, name)
		queue = append(queue, downstream[name]...)
	}
	var unreachable []string
	for name := range w.ASL.States {
		if !visited[name] {
			unreachable = append(unreachable, name)
		}
	}
	sort.Strings(unreachable)
	order = append(order, unreachable...)

	upstream := map[string][]string{}
	for name, nexts := range downstream {
		for _, n := range nexts {
			upstream[n] = append(upstream[n], name)
		}
	}

	depsOut := map[string]Deps{}
	var terminals []string
	for _, name := range order {
		depsOut[name] = Deps{
			Upstream:   upstream[name],
			Downstream: downstream[name],
		}
		if len(downstream[name]) == 0 {
			terminals = append(terminals, name)
		}
	}

	return order, depsOut, terminals, nil
}

func nextsOf(st *State) []string {
	var out []string
	if st.Next != "" {
		out = append(out, st.Next)
	}
	for _, c := range st.Choices {
		if c.Next != "" {
			out = append(out, c.Next)
		}
	}
	if st.Default != "" {
		out = append(out, st.Default)
	}
	return out
}
