package validator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/choreoflow/choreoctl/definition"
)

// Options configures one Validate call.
type Options struct {
	// ImportsBaseDir resolves relative af_imports[*].uri entries. Required.
	ImportsBaseDir string
	// SkillsBaseDir resolves relative skill_imports[*].uri entries. Defaults
	// to ImportsBaseDir, matching the original tool's default.
	SkillsBaseDir string
	// Loader fetches import bytes; defaults to FileLoader{}.
	Loader Loader
}

func (o Options) withDefaults() Options {
	if o.SkillsBaseDir == "" {
		o.SkillsBaseDir = o.ImportsBaseDir
	}
	if o.Loader == nil {
		o.Loader = FileLoader{}
	}
	return o
}

// Validate runs every phase of spec §4.5 against a workflow definition
// instance and the precompiled workflow JSON Schema, in order, stopping at
// the first phase that fails so later phases never run against data the
// earlier phase already rejected.
func Validate(ctx context.Context, workflowJSON []byte, schema *jsonschema.Schema, opts Options) *Report {
	opts = opts.withDefaults()
	report := newReport()

	var instance any
	if err := json.Unmarshal(workflowJSON, &instance); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("JSONDecodeError: %v", err))
		report.ExitCode = 4
		return report
	}

	// ---------- 1) schema ----------
	if errs := validateSchema(schema, instance); len(errs) > 0 {
		report.SchemaErrors = errs
		report.ExitCode = 1
		return report
	}

	// ---------- 2) imports-only enforcement ----------
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(workflowJSON, &probe); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("JSONDecodeError: %v", err))
		report.ExitCode = 4
		return report
	}
	if _, embedded := probe["af_v2_entities"]; embedded {
		report.Warnings = append(report.Warnings, "embedded af_v2_entities is not supported in imports-only validation")
		report.ExitCode = 2
		return report
	}

	var wf definition.Workflow
	if err := json.Unmarshal(workflowJSON, &wf); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("JSONDecodeError: %v", err))
		report.ExitCode = 4
		return report
	}

	// ---------- 3) bundle loading, 4) skill loading ----------
	afResults, agentIndex := loadAFImports(ctx, opts.Loader, wf.AFImports, opts.ImportsBaseDir)
	skillResults, skillIndex := loadSkillImports(ctx, opts.Loader, wf.SkillImports, opts.SkillsBaseDir)

	report.Resolution.AFImportsLoaded = afResults
	report.Resolution.SkillImportsLoaded = skillResults
	report.Resolution.AgentsIndexSize = len(agentIndex)
	report.Resolution.SkillsIndexSize = len(skillIndex)

	// ---------- 5) reference resolution ----------
	unresolvedAgents, unresolvedSkills, stateSkillMap := resolveReferences(wf.ASL, agentIndex, skillIndex)
	report.Resolution.UnresolvedAgentRefs = unresolvedAgents
	report.Resolution.UnresolvedSkillIDs = unresolvedSkills
	report.Resolution.StateSkillMap = stateSkillMap

	if anyImportErrored(afResults) || anyImportErrored(skillResults) || len(unresolvedAgents) > 0 || len(unresolvedSkills) > 0 {
		report.ExitCode = 2
		return report
	}

	// ---------- 6) graph checks ----------
	graph := checkGraph(wf.ASL)
	report.Graph = graph
	if hardGraphError(graph) {
		report.ExitCode = 3
		return report
	}

	report.OK = true
	report.ExitCode = 0
	return report
}

func anyImportErrored(results []ImportResult) bool {
	for _, r := range results {
		if r.Status == "error" {
			return true
		}
	}
	return false
}

// resolveReferences runs spec §4.5 phase 5 over every Task state: each must
// carry an AgentBinding with a resolvable agent_ref or agent_template_ref,
// and every skill id it names must resolve in skillIndex.
func resolveReferences(asl definition.ASL, agentIndex map[string]bool, skillIndex map[string]skillManifest) ([]UnresolvedAgentRef, []string, map[string][]ResolvedSkill) {
	var unresolvedAgents []UnresolvedAgentRef
	var unresolvedSkills []string
	stateSkillMap := map[string][]ResolvedSkill{}

	for name, st := range asl.States {
		if st == nil || st.Type != definition.StateTypeTask {
			continue
		}
		ab := st.AgentBinding
		if ab == nil {
			unresolvedAgents = append(unresolvedAgents, UnresolvedAgentRef{
				Where: fmt.Sprintf("asl.States['%s']", name),
			})
			continue
		}

		hasAny := false
		checkRef := func(field string, ref *definition.AgentRef) {
			if ref == nil || (ref.ID == "" && ref.Name == "") {
				return
			}
			hasAny = true
			ok := (ref.ID != "" && agentIndex[ref.ID]) || (ref.Name != "" && agentIndex[ref.Name])
			if !ok {
				unresolvedAgents = append(unresolvedAgents, UnresolvedAgentRef{
					Where: fmt.Sprintf("asl.States['%s'].AgentBinding.%s", name, field),
					Ref:   AgentRefRef{ID: ref.ID, Name: ref.Name},
				})
			}
		}
		checkRef("agent_template_ref", ab.AgentTemplateRef)
		checkRef("agent_ref", ab.AgentRef)
		if !hasAny {
			unresolvedAgents = append(unresolvedAgents, UnresolvedAgentRef{
				Where: fmt.Sprintf("asl.States['%s'].AgentBinding (missing agent_template_ref/agent_ref)", name),
			})
		}

		var resolved []ResolvedSkill
		for _, sid := range ab.Skills {
			m, ok := lookupSkill(skillIndex, sid)
			if !ok {
				unresolvedSkills = append(unresolvedSkills, sid)
				continue
			}
			resolved = append(resolved, ResolvedSkill{Skill: sid, ManifestID: m.ManifestID})
		}
		if len(resolved) > 0 {
			stateSkillMap[name] = resolved
		}
	}

	if unresolvedAgents == nil {
		unresolvedAgents = []UnresolvedAgentRef{}
	}
	if unresolvedSkills == nil {
		unresolvedSkills = []string{}
	}
	return unresolvedAgents, unresolvedSkills, stateSkillMap
}
