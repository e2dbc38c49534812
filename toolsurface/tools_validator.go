package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/choreoflow/choreoctl/cperrors"
	"github.com/choreoflow/choreoctl/validator"
)

// RegisterValidator wires validator.Validate as the validateWorkflow tool
// (spec §4.5). The workflow JSON Schema is compiled once at registration time
// from schemaJSON, matching the once-per-process compiled-schema handle the
// teacher's registry service holds for its own payload schema.
func RegisterValidator(r *Registry, schemaJSON []byte, importsBaseDir, skillsBaseDir string, loader validator.Loader) error {
	schema, err := validator.CompileSchema(schemaJSON)
	if err != nil {
		return cperrors.Wrap(cperrors.KindInvalidInput, err, "compile workflow schema")
	}

	r.Register(Tool{
		Name:        "validateWorkflow",
		Description: "Run every phase of workflow validation (schema, imports-only enforcement, bundle/skill loading, reference resolution, graph checks) against a workflow definition.",
		Handler:     validateWorkflowHandler(schema, importsBaseDir, skillsBaseDir, loader),
	})
	return nil
}

type validateWorkflowParams struct {
	Workflow      JSONValue `json:"workflow"`
	ImportsBaseDir string   `json:"imports_base_dir"`
	SkillsBaseDir  string   `json:"skills_base_dir"`
}

func validateWorkflowHandler(schema *jsonschema.Schema, defaultImportsBaseDir, defaultSkillsBaseDir string, loader validator.Loader) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p validateWorkflowParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		workflowJSON, err := json.Marshal(p.Workflow.Value)
		if err != nil {
			return nil, cperrors.Wrap(cperrors.KindInvalidInput, err, "re-encode workflow parameter")
		}

		opts := validator.Options{
			ImportsBaseDir: defaultImportsBaseDir,
			SkillsBaseDir:  defaultSkillsBaseDir,
			Loader:         loader,
		}
		if p.ImportsBaseDir != "" {
			opts.ImportsBaseDir = p.ImportsBaseDir
		}
		if p.SkillsBaseDir != "" {
			opts.SkillsBaseDir = p.SkillsBaseDir
		}

		report := validator.Validate(ctx, workflowJSON, schema, opts)
		return report, nil
	}
}
