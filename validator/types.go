// Package validator statically validates a WorkflowDefinition and resolves
// its external references before bootstrap touches the control plane (spec
// §4.5). It depends only on file I/O, a JSON-Schema engine, and the
// definition shape — it never reads or writes the document store.
package validator

// ImportResult is one entry of resolution.af_imports_loaded or
// resolution.skill_imports_loaded.
type ImportResult struct {
	URI    string `json:"uri"`
	Status string `json:"status"` // "ok" | "error"
	Error  string `json:"error,omitempty"`
	Agents int    `json:"agents,omitempty"`
	Tools  int    `json:"tools,omitempty"`
	Skills int    `json:"skills,omitempty"`
}

// AgentRefRef is the {id, name} pair named by an unresolved reference.
type AgentRefRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// UnresolvedAgentRef names a Task state's AgentBinding that failed to
// resolve against the agent index, and where in the definition it occurred.
type UnresolvedAgentRef struct {
	Where string      `json:"where"`
	Ref   AgentRefRef `json:"ref"`
}

// ResolvedSkill is one entry of resolution.state_skill_map[state].
type ResolvedSkill struct {
	Skill      string `json:"skill"`
	ManifestID string `json:"manifestId"`
}

// Resolution is the §4.5 phases 3-5 output: bundle/skill loading results and
// reference resolution.
type Resolution struct {
	AFImportsLoaded    []ImportResult             `json:"af_imports_loaded"`
	SkillImportsLoaded []ImportResult             `json:"skill_imports_loaded"`
	AgentsIndexSize    int                        `json:"agents_index_size"`
	SkillsIndexSize    int                        `json:"skills_index_size"`
	UnresolvedAgentRefs []UnresolvedAgentRef      `json:"unresolved_agent_refs"`
	UnresolvedSkillIDs []string                   `json:"unresolved_skill_ids"`
	StateSkillMap      map[string][]ResolvedSkill `json:"state_skill_map"`
}

// InvalidTransition names a state whose transition target does not exist.
type InvalidTransition struct {
	State string `json:"state"`
	To    string `json:"to"`
}

// Graph is the §4.5 phase 6 output.
type Graph struct {
	StartExists      bool                `json:"start_exists"`
	MissingStates    []string            `json:"missing_states"`
	UnreachableStates []string           `json:"unreachable_states"`
	InvalidTransitions []InvalidTransition `json:"invalid_transitions"`
	TerminalStatesOK bool                `json:"terminal_states_ok"`
}

// Report is the full structured validation result (spec §4.5 "Output").
// ExitCode follows the phase that aborted validation: 0 ok, 1 schema errors,
// 2 imports/reference errors, 3 graph errors, 4 other errors (malformed
// input, unreadable schema).
type Report struct {
	OK           bool        `json:"ok"`
	ExitCode     int         `json:"exit_code"`
	SchemaErrors []string    `json:"schema_errors"`
	Resolution   Resolution  `json:"resolution"`
	Graph        Graph       `json:"graph"`
	Warnings     []string    `json:"warnings"`
}

func newReport() *Report {
	return &Report{
		ExitCode: 4,
		Resolution: Resolution{
			UnresolvedAgentRefs: []UnresolvedAgentRef{},
			UnresolvedSkillIDs:  []string{},
			StateSkillMap:       map[string][]ResolvedSkill{},
		},
	}
}
