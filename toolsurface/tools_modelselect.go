package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/choreoflow/choreoctl/modelselect"
)

// RegisterModelSelect wires AMSP v3.0 complexity scoring and tier resolution
// as computeTaskComplexity and estimateModelCost (spec §9/SUPPLEMENTED
// FEATURES).
func RegisterModelSelect(r *Registry, registry *modelselect.Registry) {
	r.Register(Tool{
		Name:        "computeTaskComplexity",
		Description: "Score a set of skills against the AMSP v3.0 weighted complexity model and recommend a model tier.",
		Handler:     computeTaskComplexityHandler(),
	})
	r.Register(Tool{
		Name:        "estimateModelCost",
		Description: "Resolve a scheduled tier to its model client, recording the control-plane ModelSelection and estimated cost for a token count.",
		Handler:     estimateModelCostHandler(registry),
	})
}

type complexityProfileParam struct {
	DimensionScores map[string]int `json:"dimension_scores"`
	MaturityLevel   string         `json:"maturity_level"`
	SampleSize      int            `json:"sample_size"`
}

type skillInputParam struct {
	SkillID string                  `json:"skill_id"`
	Profile *complexityProfileParam `json:"profile"`
}

type computeTaskComplexityParams struct {
	Skills            []skillInputParam `json:"skills"`
	ContextOverrides  map[string]int    `json:"context_overrides"`
	LatencyRequirement string           `json:"latency_requirement"`
}

func computeTaskComplexityHandler() Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p computeTaskComplexityParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}

		skills := make([]modelselect.SkillInput, 0, len(p.Skills))
		for _, s := range p.Skills {
			in := modelselect.SkillInput{SkillID: s.SkillID}
			if s.Profile != nil {
				scores := make(map[modelselect.Dimension]int, len(s.Profile.DimensionScores))
				for k, v := range s.Profile.DimensionScores {
					scores[modelselect.Dimension(k)] = v
				}
				in.Profile = &modelselect.ComplexityProfile{
					DimensionScores: scores,
					MaturityLevel:   modelselect.MaturityLevel(s.Profile.MaturityLevel),
					SampleSize:      s.Profile.SampleSize,
				}
			}
			skills = append(skills, in)
		}

		overrides := make(map[modelselect.Dimension]int, len(p.ContextOverrides))
		for k, v := range p.ContextOverrides {
			overrides[modelselect.Dimension(k)] = v
		}

		latency := modelselect.LatencyRequirement(p.LatencyRequirement)
		if latency == "" {
			latency = modelselect.LatencyStandard
		}

		return modelselect.ComputeTaskComplexity(skills, overrides, latency), nil
	}
}

type estimateModelCostParams struct {
	ScheduledTier    int                `json:"scheduled_tier"`
	Result           *modelselect.Result `json:"complexity_result"`
	PromptTokens     int64              `json:"prompt_tokens"`
	CompletionTokens int64              `json:"completion_tokens"`
}

func estimateModelCostHandler(registry *modelselect.Registry) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p estimateModelCostParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Result == nil {
			p.Result = &modelselect.Result{LatencyAdjustedTier: p.ScheduledTier}
		}

		selection, err := registry.ToModelSelection(p.Result, p.ScheduledTier)
		if err != nil {
			return nil, err
		}

		client, err := registry.Resolve(p.ScheduledTier)
		if err != nil {
			return nil, err
		}
		cost := client.Pricing().EstimateCostUSD(p.PromptTokens, p.CompletionTokens)

		return struct {
			ModelSelection   any     `json:"model_selection"`
			EstimatedCostUSD float64 `json:"estimated_cost_usd"`
		}{selection, cost}, nil
	}
}
