// Package modelselect implements the Adaptive Model Selection Protocol
// (AMSP) v3.0 complexity scoring (spec §9 Open Questions,
// SUPPLEMENTED FEATURES) and resolves a scored task to a concrete,
// priced model via a small set of thin, interface-wrapped provider
// clients. Grounded on
// original_source/dcf_mcp/tools/dcf/compute_task_complexity.py, carried over
// verbatim in semantics: the same seven weighted dimensions, interaction
// multiplier table, FCS-to-tier boundaries, latency ceiling, and
// sample-size/maturity confidence interval.
package modelselect

// Dimension is one of the seven AMSP v3.0 Weighted Complexity Model axes.
type Dimension string

const (
	DimensionHorizon       Dimension = "horizon"
	DimensionContext       Dimension = "context"
	DimensionTooling       Dimension = "tooling"
	DimensionObservability Dimension = "observability"
	DimensionModality      Dimension = "modality"
	DimensionPrecision     Dimension = "precision"
	DimensionAdaptability  Dimension = "adaptability"
)

// dimensionOrder fixes iteration order so base-WCS computation and
// dimension_breakdown output are deterministic, matching the original
// tool's DIMENSION_ORDER list.
var dimensionOrder = []Dimension{
	DimensionHorizon, DimensionContext, DimensionTooling, DimensionObservability,
	DimensionModality, DimensionPrecision, DimensionAdaptability,
}

// tierBoundary is one (lower, upper, tier) row of AMSP's FCS-to-tier table.
type tierBoundary struct {
	lower, upper float64
	tier         int
}

var tierBoundaries = []tierBoundary{
	{0, 12, 0},
	{13, 25, 1},
	{26, 50, 2},
	{51, 1e18, 3},
}

// TierDescriptions gives a one-line capability summary per tier, used in
// tier_reasoning-equivalent reporting.
var TierDescriptions = map[int]string{
	0: "Efficient (single-turn, deterministic, no tools)",
	1: "Balanced (multi-turn, simple tools, moderate context)",
	2: "Strong (complex reasoning, multi-tool, synthesis)",
	3: "Frontier (novel domains, research-grade, maximum capability)",
}

// LatencyRequirement caps the usable tier for latency-sensitive states.
type LatencyRequirement string

const (
	LatencyCritical LatencyRequirement = "critical"
	LatencyStandard LatencyRequirement = "standard"
	LatencyRelaxed  LatencyRequirement = "relaxed"
	LatencyBatch    LatencyRequirement = "batch"
)

// latencyTierCeiling mirrors LATENCY_TIER_CEILING: critical latency caps the
// recommended tier at 1; every other requirement is uncapped (ceiling 3).
var latencyTierCeiling = map[LatencyRequirement]int{
	LatencyCritical: 1,
	LatencyStandard: 3,
	LatencyRelaxed:  3,
	LatencyBatch:    3,
}

// interactionRule is one row of AMSP's pairwise interaction-multiplier
// table: a condition over two dimension scores and the multiplier it
// contributes when met.
type interactionRule struct {
	dim1, dim2 Dimension
	condition  func(a, b int) bool
	multiplier float64
	label      string
}

var interactionRules = []interactionRule{
	{DimensionHorizon, DimensionContext, atLeast2, 1.15, "High Horizon + High Context"},
	{DimensionHorizon, DimensionAdaptability, atLeast2, 1.10, "High Horizon + High Adaptability"},
	{DimensionHorizon, DimensionTooling, atLeast2, 1.08, "High Horizon + High Tooling"},
	{DimensionContext, DimensionPrecision, atLeast2, 1.12, "High Context + High Precision"},
	{DimensionContext, DimensionModality, atLeast2, 1.10, "High Context + High Modality"},
	{DimensionTooling, DimensionObservability, atLeast2, 1.15, "High Tooling + Low Observability"},
	{DimensionTooling, DimensionAdaptability, atLeast2, 1.08, "High Tooling + High Adaptability"},
	{DimensionPrecision, DimensionObservability, atLeast2, 1.12, "High Precision + Low Observability"},
	{DimensionPrecision, DimensionAdaptability, atLeast2, 1.10, "High Precision + High Adaptability"},
}

func atLeast2(a, b int) bool { return a >= 2 && b >= 2 }

// MaturityLevel buckets how much production evidence backs a skill's
// complexity profile, tightening or loosening the confidence interval.
type MaturityLevel string

const (
	MaturityProvisional MaturityLevel = "provisional"
	MaturityEmerging    MaturityLevel = "emerging"
	MaturityValidated   MaturityLevel = "validated"
	MaturityStable      MaturityLevel = "stable"
)

var maturityFactors = map[MaturityLevel]float64{
	MaturityProvisional: 1.5,
	MaturityEmerging:     1.2,
	MaturityValidated:    1.0,
	MaturityStable:       0.8,
}

// ComplexityProfile is one skill's AMSP dimension scores plus the evidence
// metadata behind them (spec's skill manifest `complexityProfile` field).
type ComplexityProfile struct {
	DimensionScores map[Dimension]int
	MaturityLevel   MaturityLevel
	SampleSize      int
}

// SkillInput pairs a skill identifier with its profile, or nil if the
// profile could not be loaded for that skill (the caller — not this
// package — is responsible for resolving a skill reference to a manifest;
// see validator.lookupSkill for the reference-resolution half of that job).
type SkillInput struct {
	SkillID string
	Profile *ComplexityProfile
}

// InteractionApplied records one interaction-multiplier (or the
// triple-high penalty) that fired for a given scoring.
type InteractionApplied struct {
	Pair       string
	Multiplier float64
	Condition  string
}

// ConfidenceInterval brackets the Final Complexity Score given the
// evidence backing it.
type ConfidenceInterval struct {
	Lower float64
	Upper float64
}

// Result is the outcome of ComputeTaskComplexity, mirroring the original
// tool's returned dict field-for-field.
type Result struct {
	BaseWCS                int
	DimensionBreakdown     map[Dimension]int
	InteractionMultipliers []InteractionApplied
	TotalMultiplier        float64
	FinalFCS               float64
	ConfidenceInterval     ConfidenceInterval
	RecommendedTier        int
	TierDescription        string
	TierReasoning          string
	LatencyAdjustedTier    int
	MaturityLevels         map[string]MaturityLevel
	SkillsAnalyzed         int
	SkillsWithProfiles     int
	Warnings               []string
	UsedDefaultEstimate    bool
}

// ComputeTaskComplexity implements AMSP v3.0 scoring over skills (spec
// §9/SUPPLEMENTED FEATURES): aggregate dimension scores across every
// skill's complexity profile (max strategy), compute the base Weighted
// Complexity Score, apply interaction multipliers to get the Final
// Complexity Score, map FCS to a tier, and cap the tier per
// latencyRequirement. contextOverrides replaces individual dimension
// scores (e.g. a caller-supplied hint) when present and in [0,3].
func ComputeTaskComplexity(skills []SkillInput, contextOverrides map[Dimension]int, latency LatencyRequirement) *Result {
	res := &Result{
		DimensionBreakdown: map[Dimension]int{},
		MaturityLevels:     map[string]MaturityLevel{},
		SkillsAnalyzed:     len(skills),
		TotalMultiplier:    1.0,
	}

	if _, ok := latencyTierCeiling[latency]; !ok {
		res.Warnings = append(res.Warnings, "unknown latency requirement, defaulting to standard")
		latency = LatencyStandard
	}

	var profiles []*ComplexityProfile
	var sampleSizes []int
	var maturityList []MaturityLevel
	for _, s := range skills {
		if s.Profile == nil {
			res.Warnings = append(res.Warnings, "no complexity profile for skill: "+s.SkillID)
			continue
		}
		profiles = append(profiles, s.Profile)
		res.SkillsWithProfiles++
		maturity := s.Profile.MaturityLevel
		if maturity == "" {
			maturity = MaturityProvisional
		}
		res.MaturityLevels[s.SkillID] = maturity
		maturityList = append(maturityList, maturity)
		sampleSizes = append(sampleSizes, s.Profile.SampleSize)
		if maturity == MaturityProvisional {
			res.Warnings = append(res.Warnings, "skill has provisional complexity profile: "+s.SkillID)
		}
	}

	if len(profiles) == 0 {
		res.Warnings = append(res.Warnings, "no complexity profiles found, using default tier 1 estimate")
		res.UsedDefaultEstimate = true
		for _, d := range dimensionOrder {
			res.DimensionBreakdown[d] = 1
		}
		res.BaseWCS = 7
		res.FinalFCS = 7.0
		res.RecommendedTier = 1
		res.TierDescription = TierDescriptions[1]
		res.TierReasoning = "default estimate (no profiles available)"
		res.LatencyAdjustedTier = minInt(1, latencyTierCeiling[latency])
		return res
	}

	scores := aggregateDimensionScores(profiles)
	for dim, override := range contextOverrides {
		if override < 0 || override > 3 {
			continue
		}
		if override != scores[dim] {
			res.Warnings = append(res.Warnings, "context override changed "+string(dim))
		}
		scores[dim] = override
	}
	res.DimensionBreakdown = scores

	baseWCS := computeBaseWCS(scores)
	res.BaseWCS = baseWCS

	applied, totalMultiplier := computeInteractionMultipliers(scores)
	res.InteractionMultipliers = applied
	res.TotalMultiplier = totalMultiplier

	fcs := roundTo(float64(baseWCS)*totalMultiplier, 1)
	res.FinalFCS = fcs
	res.ConfidenceInterval = computeConfidenceInterval(baseWCS, sampleSizes, maturityList)

	tier := fcsToTier(fcs)
	res.RecommendedTier = tier
	res.TierDescription = TierDescriptions[tier]
	res.TierReasoning = "FCS falls in tier range"

	ceiling := latencyTierCeiling[latency]
	adjusted := minInt(tier, ceiling)
	res.LatencyAdjustedTier = adjusted
	if adjusted < tier {
		res.Warnings = append(res.Warnings, "latency requirement capped tier")
	}
	return res
}

func aggregateDimensionScores(profiles []*ComplexityProfile) map[Dimension]int {
	out := map[Dimension]int{}
	for _, d := range dimensionOrder {
		out[d] = 0
	}
	for _, p := range profiles {
		for _, d := range dimensionOrder {
			if v, ok := p.DimensionScores[d]; ok && v > out[d] {
				out[d] = v
			}
		}
	}
	return out
}

func computeBaseWCS(scores map[Dimension]int) int {
	total := 0
	for _, d := range dimensionOrder {
		total += scores[d]
	}
	return total
}

// computeInteractionMultipliers applies every interactionRule plus the
// triple-high penalty (3+ dimensions at the maximum score of 3 each add
// +5% beyond the first two), returning the applied rows in a stable order
// and their combined multiplier.
func computeInteractionMultipliers(scores map[Dimension]int) ([]InteractionApplied, float64) {
	var applied []InteractionApplied
	total := 1.0

	for _, rule := range interactionRules {
		a, b := scores[rule.dim1], scores[rule.dim2]
		if rule.condition(a, b) {
			applied = append(applied, InteractionApplied{
				Pair:       string(rule.dim1) + "+" + string(rule.dim2),
				Multiplier: rule.multiplier,
				Condition:  rule.label,
			})
			total *= rule.multiplier
		}
	}

	maxCount := 0
	for _, d := range dimensionOrder {
		if scores[d] >= 3 {
			maxCount++
		}
	}
	if maxCount >= 3 {
		penalty := 1.0 + float64(maxCount-2)*0.05
		applied = append(applied, InteractionApplied{
			Pair:       "triple_high",
			Multiplier: penalty,
			Condition:  "dimensions at maximum (3)",
		})
		total *= penalty
	}

	return applied, roundTo(total, 3)
}

func fcsToTier(fcs float64) int {
	for _, b := range tierBoundaries {
		if fcs >= b.lower && fcs <= b.upper {
			return b.tier
		}
	}
	return 3
}

// computeConfidenceInterval brackets the FCS using a ±10% baseline
// uncertainty scaled by average evidence maturity and total sample size,
// tighter intervals the more mature and well-sampled the skills are.
func computeConfidenceInterval(baseWCS int, sampleSizes []int, maturity []MaturityLevel) ConfidenceInterval {
	baseUncertainty := float64(baseWCS) * 0.1

	avgFactor := 1.0
	if len(maturity) > 0 {
		sum := 0.0
		for _, m := range maturity {
			f, ok := maturityFactors[m]
			if !ok {
				f = 1.0
			}
			sum += f
		}
		avgFactor = sum / float64(len(maturity))
	}

	total := 0
	for _, s := range sampleSizes {
		total += s
	}
	var sampleFactor float64
	switch {
	case total >= 100:
		sampleFactor = 0.8
	case total >= 30:
		sampleFactor = 1.0
	case total >= 10:
		sampleFactor = 1.2
	default:
		sampleFactor = 1.5
	}

	margin := baseUncertainty * avgFactor * sampleFactor
	lower := float64(baseWCS) - margin
	if lower < 0 {
		lower = 0
	}
	return ConfidenceInterval{
		Lower: roundTo(lower, 1),
		Upper: roundTo(float64(baseWCS)+margin, 1),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int(v*mult+signOf(v)*0.5)) / mult
}

func signOf(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
