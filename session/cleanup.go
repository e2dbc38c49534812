package session

import (
	"context"
	"strings"

	"github.com/choreoflow/choreoctl/cperrors"
)

// OrphanedCompanion describes one Companion agent found by
// CleanupOrphanedCompanions.
type OrphanedCompanion struct {
	CompanionID string
	Tags        []string
	SessionID   string
}

// CleanupOrphanedCompanionsOptions configures CleanupOrphanedCompanions,
// grounded on cleanup_orphaned_companions.py.
type CleanupOrphanedCompanionsOptions struct {
	SessionID   string // optional filter; empty means every session
	NamePattern string // optional substring filter against tags (see below)
	DryRun      bool   // zero value deletes; the cleanupOrphanedCompanions tool defaults it to true
}

// CleanupOrphanedCompanionsResult is CleanupOrphanedCompanions's outcome.
type CleanupOrphanedCompanionsResult struct {
	DryRun            bool
	CompanionsFound   []OrphanedCompanion
	CompanionsDeleted []string
	Warnings          []string
}

// CleanupOrphanedCompanions finds (and, unless DryRun, dismisses) Companion
// agents left behind by sessions that never called FinalizeSession.
// Unlike the Python original, agentruntime.Runtime has no "list every
// agent regardless of tag" call (only ListAgentsByTag), so the
// include_tagless/name-looks-like-a-companion matching the original does
// against an unfiltered agents.list() has no equivalent here — this
// simplification is recorded in DESIGN.md. Matching is by the
// role:companion tag (optionally scoped to session:{id}) and, if
// NamePattern is set, post-filtered against the companion's tags.
func (m *Manager) CleanupOrphanedCompanions(ctx context.Context, opts CleanupOrphanedCompanionsOptions) (*CleanupOrphanedCompanionsResult, error) {
	tags := []string{roleCompanionTag}
	if opts.SessionID != "" {
		tags = append(tags, "session:"+opts.SessionID)
	}
	ids, err := m.rt.ListAgentsByTag(ctx, tags...)
	if err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "list companion agents")
	}

	res := &CleanupOrphanedCompanionsResult{DryRun: opts.DryRun}
	for _, id := range ids {
		agentTags, err := m.rt.ReadTags(ctx, id)
		if err != nil {
			res.Warnings = append(res.Warnings, "could not read tags for "+id+": "+err.Error())
			continue
		}
		if opts.NamePattern != "" && !tagsContainSubstring(agentTags, opts.NamePattern) {
			continue
		}
		oc := OrphanedCompanion{CompanionID: id, Tags: agentTags}
		for _, t := range agentTags {
			if s, ok := strings.CutPrefix(t, "session:"); ok {
				oc.SessionID = s
			}
		}
		res.CompanionsFound = append(res.CompanionsFound, oc)
	}

	if opts.DryRun || len(res.CompanionsFound) == 0 {
		return res, nil
	}

	for _, oc := range res.CompanionsFound {
		if _, err := m.DismissCompanion(ctx, oc.CompanionID, DismissOptions{UnloadSkills: true, DetachBlocks: true}); err != nil {
			res.Warnings = append(res.Warnings, "failed to dismiss "+oc.CompanionID+": "+err.Error())
			continue
		}
		res.CompanionsDeleted = append(res.CompanionsDeleted, oc.CompanionID)
	}
	return res, nil
}

func tagsContainSubstring(tags []string, pattern string) bool {
	pattern = strings.ToLower(pattern)
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), pattern) {
			return true
		}
	}
	return false
}
