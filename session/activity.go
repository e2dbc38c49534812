package session

import (
	"context"
	"sort"

	"github.com/choreoflow/choreoctl/cperrors"
)

// SkillMetrics aggregates one skill's usage across a session's delegation
// log, grounded on read_session_activity.py's per-skill accumulation.
type SkillMetrics struct {
	Skill          string         `json:"skill"`
	UsageCount     int            `json:"usage_count"`
	SuccessCount   int            `json:"success_count"`
	FailureCount   int            `json:"failure_count"`
	PendingCount   int            `json:"pending_count"`
	AvgDurationS   *float64       `json:"avg_duration_s,omitempty"`
	SuccessRate    *float64       `json:"success_rate,omitempty"`
	FailureModes   []FailureMode  `json:"failure_modes"`
}

// FailureMode counts one recurring failure signature for a skill.
type FailureMode struct {
	Mode  string `json:"mode"`
	Count int    `json:"count"`
}

// ActivityMetrics is the session-wide rollup returned alongside per-skill
// metrics.
type ActivityMetrics struct {
	CompanionCount   int      `json:"companion_count"`
	IdleCompanions   int      `json:"idle_companions"`
	BusyCompanions   int      `json:"busy_companions"`
	ErrorCompanions  int      `json:"error_companions"`
	TotalDelegations int      `json:"total_delegations"`
	CompletedTasks   int      `json:"completed_tasks"`
	FailedTasks      int      `json:"failed_tasks"`
	PendingTasks     int      `json:"pending_tasks"`
	SuccessRate      *float64 `json:"success_rate,omitempty"`
	AvgTaskDurationS *float64 `json:"avg_task_duration_s,omitempty"`
	UniqueSkillsUsed int      `json:"unique_skills_used"`
	TopSkills        []string `json:"top_skills"`
}

// ActivityReport is ReadSessionActivity's return value.
type ActivityReport struct {
	SessionID     string          `json:"session_id"`
	State         State           `json:"state"`
	Companions    []Companion     `json:"companions"`
	Delegations   []DelegationRecord `json:"delegations"`
	Announcements []Announcement  `json:"announcements"`
	Metrics       ActivityMetrics `json:"metrics"`
	SkillMetrics  []SkillMetrics  `json:"skill_metrics"`
}

const (
	maxReportedDelegations   = 50
	maxReportedAnnouncements = 20
)

// ReadSessionActivityOptions configures ReadSessionActivity.
type ReadSessionActivityOptions struct {
	IncludeSkillMetrics bool
}

// ReadSessionActivity aggregates session state, the Conductor's
// delegation_log, and every Companion's status/task-history into a
// Strategist-facing report, grounded on read_session_activity.py.
func (m *Manager) ReadSessionActivity(ctx context.Context, sessionContextBlockID, conductorID, sessionID string, opts ReadSessionActivityOptions) (*ActivityReport, error) {
	sc, err := m.ReadSessionContext(ctx, sessionContextBlockID)
	if err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "read session_context")
	}
	if sc.SessionID != "" && sc.SessionID != sessionID {
		return nil, cperrors.New(cperrors.KindInvalidInput, "session_id mismatch: block belongs to %q", sc.SessionID)
	}

	var delegations []DelegationRecord
	if blocks, err := m.rt.ListBlocks(ctx, conductorID); err == nil {
		if logBlockID, ok := blocks[delegationLogBlockLabel]; ok {
			var log DelegationLog
			if err := m.rt.ReadBlock(ctx, logBlockID, &log); err == nil {
				delegations = log.Delegations
			}
		}
	}

	companions, err := m.ListCompanions(ctx, sessionID, ListCompanionsOptions{IncludeSkills: true})
	if err != nil {
		return nil, err
	}

	report := &ActivityReport{
		SessionID:     sessionID,
		State:         sc.State,
		Companions:    companions,
		Delegations:   lastN(delegations, maxReportedDelegations),
		Announcements: lastN(sc.Announcements, maxReportedAnnouncements),
	}

	report.Metrics = companionMetrics(companions)
	if opts.IncludeSkillMetrics {
		report.Metrics.CompletedTasks, report.Metrics.FailedTasks, report.Metrics.PendingTasks,
			report.Metrics.SuccessRate, report.Metrics.AvgTaskDurationS, report.SkillMetrics = computeSkillMetrics(delegations)
		report.Metrics.TotalDelegations = len(delegations)
		report.Metrics.UniqueSkillsUsed = len(report.SkillMetrics)
		report.Metrics.TopSkills = topSkills(report.SkillMetrics, 5)
	}

	return report, nil
}

func companionMetrics(companions []Companion) ActivityMetrics {
	m := ActivityMetrics{CompanionCount: len(companions)}
	for _, c := range companions {
		switch c.Status {
		case StatusIdle:
			m.IdleCompanions++
		case StatusBusy:
			m.BusyCompanions++
		case StatusError:
			m.ErrorCompanions++
		}
	}
	return m
}

// computeSkillMetrics replicates read_session_activity.py's delegation-log
// walk: completed/failed/pending task counts, average duration, and a
// per-skill success-rate breakdown with recurring failure modes.
func computeSkillMetrics(delegations []DelegationRecord) (completed, failed, pending int, successRate, avgDuration *float64, skills []SkillMetrics) {
	bySkill := map[string]*SkillMetrics{}
	var totalDuration float64
	var withDuration int

	for _, d := range delegations {
		switch {
		case d.Status == "completed" && d.ResultStatus == "failed":
			failed++
		case d.Status == "completed":
			completed++
		default:
			pending++
		}
		if d.Status == "completed" && d.DurationS != nil {
			totalDuration += *d.DurationS
			withDuration++
		}

		for _, skill := range d.SkillsAssigned {
			sm, ok := bySkill[skill]
			if !ok {
				sm = &SkillMetrics{Skill: skill}
				bySkill[skill] = sm
			}
			sm.UsageCount++
			if d.Status == "completed" {
				if d.ResultStatus == "failed" {
					sm.FailureCount++
				} else {
					sm.SuccessCount++
				}
			} else {
				sm.PendingCount++
			}
		}
	}

	if total := completed + failed; total > 0 {
		r := roundTo1(float64(completed) / float64(total) * 100)
		successRate = &r
	}
	if withDuration > 0 {
		a := roundTo1(totalDuration / float64(withDuration))
		avgDuration = &a
	}

	skills = make([]SkillMetrics, 0, len(bySkill))
	for _, sm := range bySkill {
		if completed := sm.SuccessCount + sm.FailureCount; completed > 0 {
			r := roundTo1(float64(sm.SuccessCount) / float64(completed) * 100)
			sm.SuccessRate = &r
		}
		skills = append(skills, *sm)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Skill < skills[j].Skill })
	return
}

func topSkills(skills []SkillMetrics, n int) []string {
	ranked := append([]SkillMetrics(nil), skills...)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].UsageCount > ranked[j].UsageCount })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.Skill
	}
	return out
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func roundTo1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
