package session

import (
	"context"
	"encoding/json"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/cperrors"
)

// UpdateGuidelinesMode selects one of UpdateConductorGuidelines' three
// mutually-exclusive update modes, matching update_conductor_guidelines.py.
type UpdateGuidelinesMode int

const (
	// ModeIncremental appends Recommendation and merges the map fields.
	ModeIncremental UpdateGuidelinesMode = iota
	// ModeReplace replaces the entire guidelines document with Replacement.
	ModeReplace
	// ModeClear resets guidelines to their defaults.
	ModeClear
)

// UpdateConductorGuidelinesOptions configures UpdateConductorGuidelines.
type UpdateConductorGuidelinesOptions struct {
	Mode                   UpdateGuidelinesMode
	Recommendation         string
	MergeSkillPreferences  map[string]string
	MergeCompanionScaling  *CompanionScaling
	MergeModelSelection    *ModelSelectionGuidelines
	Replacement            *ConductorGuidelines
}

// UpdateConductorGuidelines finds (or creates, if absent) the Conductor's
// strategist_guidelines block and applies the requested update, grounded on
// update_conductor_guidelines.py.
func (m *Manager) UpdateConductorGuidelines(ctx context.Context, conductorID string, opts UpdateConductorGuidelinesOptions) (*ConductorGuidelines, error) {
	blocks, err := m.rt.ListBlocks(ctx, conductorID)
	if err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "list blocks for conductor %s", conductorID)
	}

	blockID, ok := blocks[guidelinesBlockLabel]
	if !ok {
		g := defaultConductorGuidelines()
		raw, err := json.Marshal(g)
		if err != nil {
			return nil, cperrors.Wrap(cperrors.KindInvalidInput, err, "marshal default guidelines")
		}
		blockID, err = m.rt.AttachMemoryBlock(ctx, conductorID, agentruntime.MemoryBlock{
			Label: guidelinesBlockLabel,
			Value: string(raw),
			Limit: guidelinesBlockLimit,
		})
		if err != nil {
			return nil, cperrors.Wrap(cperrors.KindBackendError, err, "attach strategist_guidelines block")
		}
	}

	var out ConductorGuidelines
	err = m.rt.UpdateBlock(ctx, blockID, func(current []byte) (any, error) {
		g := defaultConductorGuidelines()
		if len(current) > 0 {
			if err := json.Unmarshal(current, &g); err != nil {
				return nil, cperrors.Wrap(cperrors.KindBackendError, err, "decode strategist_guidelines block")
			}
		}

		switch opts.Mode {
		case ModeClear:
			g = defaultConductorGuidelines()
		case ModeReplace:
			if opts.Replacement == nil {
				return nil, cperrors.New(cperrors.KindInvalidInput, "replace mode requires Replacement")
			}
			g = *opts.Replacement
		default:
			if opts.Recommendation != "" {
				g.Recommendations = append(g.Recommendations, Recommendation{Text: opts.Recommendation})
			}
			if opts.MergeSkillPreferences != nil {
				if g.SkillPreferences == nil {
					g.SkillPreferences = map[string]string{}
				}
				for k, v := range opts.MergeSkillPreferences {
					g.SkillPreferences[k] = v
				}
			}
			if opts.MergeCompanionScaling != nil {
				g.CompanionScaling = *opts.MergeCompanionScaling
			}
			if opts.MergeModelSelection != nil {
				mergeModelSelection(&g.ModelSelection, opts.MergeModelSelection)
			}
		}

		g.UpdateCount++
		out = g
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func mergeModelSelection(dst *ModelSelectionGuidelines, src *ModelSelectionGuidelines) {
	if src.DefaultTier != 0 {
		dst.DefaultTier = src.DefaultTier
	}
	if src.TaskTypeTiers != nil {
		if dst.TaskTypeTiers == nil {
			dst.TaskTypeTiers = map[string]int{}
		}
		for k, v := range src.TaskTypeTiers {
			dst.TaskTypeTiers[k] = v
		}
	}
	if src.SkillTierOverrides != nil {
		if dst.SkillTierOverrides == nil {
			dst.SkillTierOverrides = map[string]int{}
		}
		for k, v := range src.SkillTierOverrides {
			dst.SkillTierOverrides[k] = v
		}
	}
	if src.EscalationThreshold != 0 {
		dst.EscalationThreshold = src.EscalationThreshold
	}
	if src.CostOptimization != "" {
		dst.CostOptimization = src.CostOptimization
	}
}
