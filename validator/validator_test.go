package validator_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"

	"github.com/choreoflow/choreoctl/definition"
	"github.com/choreoflow/choreoctl/validator"
)

const testSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["workflow_id", "asl"],
  "properties": {
    "workflow_id": {"type": "string"},
    "asl": {
      "type": "object",
      "required": ["StartAt", "States"]
    }
  }
}`

func mustCompile(t *testing.T) *jsonschema.Schema {
	t.Helper()
	schema, err := validator.CompileSchema([]byte(testSchemaJSON))
	require.NoError(t, err)
	return schema
}

func TestValidateSchemaErrorAbortsWithExitCode1(t *testing.T) {
	schema := mustCompile(t)
	doc := []byte(`{"workflow_name": "demo"}`)

	report := validator.Validate(context.Background(), doc, schema, validator.Options{ImportsBaseDir: "."})
	require.Equal(t, 1, report.ExitCode)
	require.False(t, report.OK)
	require.NotEmpty(t, report.SchemaErrors)
}

func TestValidateRejectsEmbeddedAFEntities(t *testing.T) {
	schema := mustCompile(t)
	doc, err := json.Marshal(map[string]any{
		"workflow_id": "wf-1",
		"asl": map[string]any{
			"StartAt": "A",
			"States": map[string]any{
				"A": map[string]any{"Type": "Succeed", "End": true},
			},
		},
		"af_v2_entities": map[string]any{"agents": []any{}},
	})
	require.NoError(t, err)

	report := validator.Validate(context.Background(), doc, schema, validator.Options{ImportsBaseDir: "."})
	require.Equal(t, 2, report.ExitCode)
}

func afBundleJSON() []byte {
	b, _ := json.Marshal(map[string]any{
		"agents": []any{
			map[string]any{"id": "agent-tpl-1", "name": "worker"},
		},
	})
	return b
}

func skillBundleJSON() []byte {
	b, _ := json.Marshal(map[string]any{
		"skills": []any{
			map[string]any{
				"manifestId":     "mf-research-web",
				"skillPackageId": "research.web",
				"skillName":      "research.web",
				"skillVersion":   "0.1.0",
			},
		},
	})
	return b
}

func taskWorkflow(skills []string) []byte {
	wf := definition.Workflow{
		WorkflowID:    "wf-1",
		WorkflowName:  "demo",
		SchemaVersion: "2.2.0",
		ASL: definition.ASL{
			StartAt: "A",
			States: map[string]*definition.State{
				"A": {
					Type: definition.StateTypeTask,
					End:  true,
					AgentBinding: &definition.AgentBinding{
						AgentTemplateRef: &definition.AgentRef{Name: "worker"},
						Skills:           skills,
					},
				},
			},
		},
		AFImports:    []definition.AFImport{{URI: "af://bundle.json"}},
		SkillImports: []definition.SkillImport{{URI: "skill://bundle.json"}},
	}
	b, _ := json.Marshal(wf)
	return b
}

func TestValidateResolvesAgentAndSkillReferences(t *testing.T) {
	schema := mustCompile(t)
	loader := memLoader{
		"af://bundle.json":    afBundleJSON(),
		"skill://bundle.json": skillBundleJSON(),
	}

	report := validator.Validate(context.Background(), taskWorkflow([]string{"skill://research.web@0.1.0"}), schema, validator.Options{
		ImportsBaseDir: ".",
		Loader:         loader,
	})
	require.Equal(t, 0, report.ExitCode)
	require.True(t, report.OK)
	// One agent indexed by id and by name; one manifest indexed under its
	// manifestId, package id, name@version, and skill:// alias.
	require.Equal(t, 2, report.Resolution.AgentsIndexSize)
	require.Equal(t, 4, report.Resolution.SkillsIndexSize)
	require.Empty(t, report.Resolution.UnresolvedAgentRefs)
	require.Empty(t, report.Resolution.UnresolvedSkillIDs)
	require.Equal(t, "mf-research-web", report.Resolution.StateSkillMap["A"][0].ManifestID)
}

// Spec §8 scenario 5: a Task state references a skill id absent from
// skill_imports; the validator must abort with exit_code=2 and name it.
func TestValidateRejectsUnresolvedSkill(t *testing.T) {
	schema := mustCompile(t)
	loader := memLoader{
		"af://bundle.json":    afBundleJSON(),
		"skill://bundle.json": skillBundleJSON(),
	}

	report := validator.Validate(context.Background(), taskWorkflow([]string{"skill://research.web@0.1.0", "skill://other.tool@1.0.0"}), schema, validator.Options{
		ImportsBaseDir: ".",
		Loader:         loader,
	})
	require.Equal(t, 2, report.ExitCode)
	require.Equal(t, []string{"skill://other.tool@1.0.0"}, report.Resolution.UnresolvedSkillIDs)
}

func TestValidateGraphChecksCatchInvalidTransition(t *testing.T) {
	schema := mustCompile(t)
	wf := definition.Workflow{
		WorkflowID:   "wf-1",
		WorkflowName: "demo",
		ASL: definition.ASL{
			StartAt: "A",
			States: map[string]*definition.State{
				"A": {
					Type: definition.StateTypeTask,
					Next: "missing",
					AgentBinding: &definition.AgentBinding{
						AgentTemplateRef: &definition.AgentRef{Name: "worker"},
					},
				},
			},
		},
		AFImports: []definition.AFImport{{URI: "af://bundle.json"}},
	}
	doc, err := json.Marshal(wf)
	require.NoError(t, err)

	report := validator.Validate(context.Background(), doc, schema, validator.Options{
		ImportsBaseDir: ".",
		Loader:         memLoader{"af://bundle.json": afBundleJSON()},
	})
	require.Equal(t, 3, report.ExitCode)
	require.Len(t, report.Graph.InvalidTransitions, 1)
	require.Equal(t, "missing", report.Graph.InvalidTransitions[0].To)
}
