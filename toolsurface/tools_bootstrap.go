package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/bootstrap"
	"github.com/choreoflow/choreoctl/controlplane"
	"github.com/choreoflow/choreoctl/definition"
	"github.com/choreoflow/choreoctl/validator"
)

// RegisterBootstrap wires bootstrap.LoadAFBundles and bootstrap.Bootstrap as
// the bootstrapWorkflow tool (spec §4.3): resolve every Task state's agent
// template, create a worker agent for it, then seed the control plane.
func RegisterBootstrap(r *Registry, rt agentruntime.Runtime, cp *controlplane.Store, loader validator.Loader, tools bootstrap.ToolResolver) {
	r.Register(Tool{
		Name:        "bootstrapWorkflow",
		Description: "Resolve agent templates, create worker agents, and seed the control plane for a validated workflow definition.",
		Handler:     bootstrapWorkflowHandler(rt, cp, loader, tools),
	})
}

type bootstrapWorkflowParams struct {
	Workflow   *definition.Workflow `json:"workflow"`
	ImportsBaseDir string           `json:"imports_base_dir"`
	NamePrefix string               `json:"name_prefix"`
	ExtraTags  []string             `json:"extra_tags"`
}

func bootstrapWorkflowHandler(rt agentruntime.Runtime, cp *controlplane.Store, loader validator.Loader, tools bootstrap.ToolResolver) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p bootstrapWorkflowParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}

		bundles, err := bootstrap.LoadAFBundles(ctx, loader, p.Workflow.AFImports, p.ImportsBaseDir)
		if err != nil {
			return nil, err
		}

		return bootstrap.Bootstrap(ctx, rt, cp, bundles, p.Workflow, bootstrap.Options{
			NamePrefix: p.NamePrefix,
			ExtraTags:  p.ExtraTags,
			Tools:      tools,
		})
	}
}
