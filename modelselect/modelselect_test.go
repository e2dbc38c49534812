package modelselect_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/choreoflow/choreoctl/modelselect"
)

func profile(scores map[modelselect.Dimension]int, maturity modelselect.MaturityLevel, samples int) *modelselect.ComplexityProfile {
	return &modelselect.ComplexityProfile{DimensionScores: scores, MaturityLevel: maturity, SampleSize: samples}
}

func TestComputeTaskComplexityNoProfilesUsesDefaultTier1(t *testing.T) {
	res := modelselect.ComputeTaskComplexity(nil, nil, modelselect.LatencyStandard)
	require.True(t, res.UsedDefaultEstimate)
	require.Equal(t, 1, res.RecommendedTier)
	require.Equal(t, 7, res.BaseWCS)
}

func TestComputeTaskComplexityLowScoreIsTier0(t *testing.T) {
	skills := []modelselect.SkillInput{
		{SkillID: "skill.trivial", Profile: profile(map[modelselect.Dimension]int{
			modelselect.DimensionHorizon: 1,
			modelselect.DimensionContext: 1,
		}, modelselect.MaturityStable, 500)},
	}
	res := modelselect.ComputeTaskComplexity(skills, nil, modelselect.LatencyStandard)
	require.Equal(t, 0, res.RecommendedTier)
	require.Equal(t, 2, res.BaseWCS)
	require.Equal(t, 2.0, res.FinalFCS)
}

func TestComputeTaskComplexityInteractionMultiplierApplies(t *testing.T) {
	skills := []modelselect.SkillInput{
		{SkillID: "skill.research", Profile: profile(map[modelselect.Dimension]int{
			modelselect.DimensionHorizon: 2,
			modelselect.DimensionContext: 2,
		}, modelselect.MaturityValidated, 40)},
	}
	res := modelselect.ComputeTaskComplexity(skills, nil, modelselect.LatencyStandard)
	require.Len(t, res.InteractionMultipliers, 1)
	require.Equal(t, "horizon+context", res.InteractionMultipliers[0].Pair)
	require.InDelta(t, 1.15, res.TotalMultiplier, 0.001)
	require.InDelta(t, 4.6, res.FinalFCS, 0.001) // base 4 * 1.15
}

func TestComputeTaskComplexityTripleHighPenaltyAndCriticalLatencyCeiling(t *testing.T) {
	maxed := map[modelselect.Dimension]int{
		modelselect.DimensionHorizon:       3,
		modelselect.DimensionContext:       3,
		modelselect.DimensionTooling:       3,
		modelselect.DimensionObservability: 3,
		modelselect.DimensionModality:      3,
		modelselect.DimensionPrecision:     3,
		modelselect.DimensionAdaptability:  3,
	}
	skills := []modelselect.SkillInput{
		{SkillID: "skill.frontier", Profile: profile(maxed, modelselect.MaturityProvisional, 2)},
	}
	res := modelselect.ComputeTaskComplexity(skills, nil, modelselect.LatencyCritical)
	require.Equal(t, 3, res.RecommendedTier)
	require.Equal(t, 1, res.LatencyAdjustedTier)
	require.Contains(t, res.Warnings, "latency requirement capped tier")

	found := false
	for _, m := range res.InteractionMultipliers {
		if m.Pair == "triple_high" {
			found = true
		}
	}
	require.True(t, found)
}

func TestComputeTaskComplexityContextOverride(t *testing.T) {
	skills := []modelselect.SkillInput{
		{SkillID: "skill.a", Profile: profile(map[modelselect.Dimension]int{modelselect.DimensionHorizon: 0}, modelselect.MaturityStable, 200)},
	}
	res := modelselect.ComputeTaskComplexity(skills, map[modelselect.Dimension]int{modelselect.DimensionHorizon: 3}, modelselect.LatencyStandard)
	require.Equal(t, 3, res.DimensionBreakdown[modelselect.DimensionHorizon])
}

func TestRegistryRequiresAllFourTiers(t *testing.T) {
	_, err := modelselect.NewRegistry(map[int]modelselect.Client{
		0: fakeClient{provider: modelselect.ProviderOpenAI, model: "gpt-4o-mini"},
	})
	require.Error(t, err)
}

func TestRegistryToModelSelection(t *testing.T) {
	reg, err := modelselect.NewRegistry(map[int]modelselect.Client{
		0: fakeClient{provider: modelselect.ProviderOpenAI, model: "gpt-4o-mini"},
		1: fakeClient{provider: modelselect.ProviderAnthropic, model: "claude-haiku-4-5"},
		2: fakeClient{provider: modelselect.ProviderAnthropic, model: "claude-sonnet-4-5"},
		3: fakeClient{provider: modelselect.ProviderAnthropic, model: "claude-opus-4-5"},
	})
	require.NoError(t, err)

	res := modelselect.ComputeTaskComplexity([]modelselect.SkillInput{
		{SkillID: "skill.a", Profile: profile(map[modelselect.Dimension]int{modelselect.DimensionHorizon: 1}, modelselect.MaturityStable, 200)},
	}, nil, modelselect.LatencyStandard)

	sel, err := reg.ToModelSelection(res, res.LatencyAdjustedTier)
	require.NoError(t, err)
	require.Equal(t, res.LatencyAdjustedTier, sel.Tier)
	require.NotEmpty(t, sel.Model)
	require.False(t, sel.Escalated)
}

type fakeClient struct {
	provider modelselect.Provider
	model    string
}

func (f fakeClient) Provider() modelselect.Provider { return f.provider }
func (f fakeClient) ModelID() string                { return f.model }
func (f fakeClient) Pricing() modelselect.Pricing {
	return modelselect.Pricing{InputPerMTokens: 1, OutputPerMTokens: 2}
}
