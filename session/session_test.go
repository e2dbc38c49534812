package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/session"
)

// memRuntime is a small in-memory agentruntime.Runtime double, modeled on
// the teacher's preference for hand-rolled fakes over a mocking framework
// (see agentruntime's own fakeRuntime and bootstrap's recordingRuntime).
type memRuntime struct {
	nextAgent   int
	nextBlock   int
	agents      map[string]*memAgent
	blockValues map[string][]byte
	sent        []memSent
}

type memAgent struct {
	name   string
	tags   []string
	blocks map[string]string // label -> block id
}

type memSent struct {
	agentID string
	content string
	async   bool
}

var _ agentruntime.Runtime = (*memRuntime)(nil)

func newMemRuntime() *memRuntime {
	return &memRuntime{agents: map[string]*memAgent{}, blockValues: map[string][]byte{}}
}

func (r *memRuntime) CreateAgent(ctx context.Context, cfg agentruntime.AgentConfig) (string, error) {
	r.nextAgent++
	id := fmt.Sprintf("agent-%d", r.nextAgent)
	a := &memAgent{name: cfg.Name, tags: append([]string(nil), cfg.Tags...), blocks: map[string]string{}}
	for _, b := range cfg.MemoryBlocks {
		r.nextBlock++
		blockID := fmt.Sprintf("block-%d", r.nextBlock)
		a.blocks[b.Label] = blockID
		r.blockValues[blockID] = []byte(b.Value)
	}
	r.agents[id] = a
	return id, nil
}

func (r *memRuntime) DeleteAgent(ctx context.Context, agentID string) error {
	delete(r.agents, agentID)
	return nil
}

func (r *memRuntime) AttachMemoryBlock(ctx context.Context, agentID string, block agentruntime.MemoryBlock) (string, error) {
	a, ok := r.agents[agentID]
	if !ok {
		return "", fmt.Errorf("no such agent %s", agentID)
	}
	if id, ok := a.blocks[block.Label]; ok {
		return id, nil
	}
	r.nextBlock++
	blockID := fmt.Sprintf("block-%d", r.nextBlock)
	a.blocks[block.Label] = blockID
	r.blockValues[blockID] = []byte(block.Value)
	return blockID, nil
}

func (r *memRuntime) AttachSharedBlock(ctx context.Context, agentID, blockID string) error {
	a, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("no such agent %s", agentID)
	}
	a.blocks["shared:"+blockID] = blockID
	return nil
}

func (r *memRuntime) ListBlocks(ctx context.Context, agentID string) (map[string]string, error) {
	a, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("no such agent %s", agentID)
	}
	out := make(map[string]string, len(a.blocks))
	for k, v := range a.blocks {
		out[k] = v
	}
	return out, nil
}

func (r *memRuntime) DetachBlock(ctx context.Context, agentID, blockID string) error {
	a, ok := r.agents[agentID]
	if !ok {
		return nil
	}
	for label, id := range a.blocks {
		if id == blockID {
			delete(a.blocks, label)
		}
	}
	return nil
}

func (r *memRuntime) AttachTool(ctx context.Context, agentID, toolID string) error { return nil }

func (r *memRuntime) ListToolIDs(ctx context.Context) (map[string]string, error) {
	return map[string]string{"send_message_to_agent_async": "tool-send-msg"}, nil
}

func (r *memRuntime) SendMessage(ctx context.Context, agentID, content string, async bool) (agentruntime.SendResult, error) {
	r.sent = append(r.sent, memSent{agentID: agentID, content: content, async: async})
	if async {
		return agentruntime.SendResult{RunID: "run-1"}, nil
	}
	return agentruntime.SendResult{MessageID: "msg-1"}, nil
}

func (r *memRuntime) ReadBlock(ctx context.Context, blockID string, out any) error {
	v, ok := r.blockValues[blockID]
	if !ok || len(v) == 0 {
		return nil
	}
	return json.Unmarshal(v, out)
}

func (r *memRuntime) UpdateBlock(ctx context.Context, blockID string, fn func([]byte) (any, error)) error {
	current := r.blockValues[blockID]
	next, err := fn(current)
	if err != nil {
		return err
	}
	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	r.blockValues[blockID] = b
	return nil
}

func (r *memRuntime) ListAgentsByTag(ctx context.Context, tags ...string) ([]string, error) {
	var out []string
	for id, a := range r.agents {
		if hasAllTags(a.tags, tags) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *memRuntime) ReadTags(ctx context.Context, agentID string) ([]string, error) {
	a, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("no such agent %s", agentID)
	}
	return append([]string(nil), a.tags...), nil
}

func (r *memRuntime) ReplaceTags(ctx context.Context, agentID string, tags []string) error {
	a, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("no such agent %s", agentID)
	}
	a.tags = append([]string(nil), tags...)
	return nil
}

func (r *memRuntime) LoadSkill(ctx context.Context, agentID, skillRef string) (bool, error) {
	return true, nil
}
func (r *memRuntime) UnloadSkill(ctx context.Context, agentID, skillRef string) error { return nil }

func hasAllTags(have, want []string) bool {
	set := map[string]bool{}
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

func newManager(rt agentruntime.Runtime) *session.Manager {
	return session.NewManager(rt, session.Options{})
}

func TestCreateAndUpdateSessionContext(t *testing.T) {
	rt := newMemRuntime()
	conductorID, err := rt.CreateAgent(context.Background(), agentruntime.AgentConfig{Name: "conductor-1"})
	require.NoError(t, err)

	mgr := newManager(rt)
	sc, blockID, err := mgr.CreateSessionContext(context.Background(), "sess-1", conductorID, "ship the widget", nil)
	require.NoError(t, err)
	require.Equal(t, session.StateActive, sc.State)

	updated, err := mgr.UpdateSessionContext(context.Background(), blockID, "sess-1", session.SessionContextUpdate{
		AddActiveTask: "task-aaa",
		Announcement:  "kicked off",
	})
	require.NoError(t, err)
	require.Contains(t, updated.ActiveTasks, "task-aaa")
	require.Len(t, updated.Announcements, 1)

	updated, err = mgr.UpdateSessionContext(context.Background(), blockID, "sess-1", session.SessionContextUpdate{
		CompleteTask: "task-aaa",
	})
	require.NoError(t, err)
	require.Empty(t, updated.ActiveTasks)
	require.Contains(t, updated.CompletedTasks, "task-aaa")

	_, err = mgr.UpdateSessionContext(context.Background(), blockID, "wrong-session", session.SessionContextUpdate{})
	require.Error(t, err)
}

func TestCreateCompanionAppliesTagsAndBlocks(t *testing.T) {
	rt := newMemRuntime()
	mgr := newManager(rt)

	res, err := mgr.CreateCompanion(context.Background(), session.CreateCompanionOptions{
		SessionID:      "sess-1",
		ConductorID:    "conductor-1",
		Specialization: "research",
		InitialSkills:  []string{"skill.web_search"},
	})
	require.NoError(t, err)
	require.Contains(t, res.CompanionName, "companion-research-sess-1-")
	require.Empty(t, res.Warnings)

	tags, err := rt.ReadTags(context.Background(), res.CompanionID)
	require.NoError(t, err)
	require.Contains(t, tags, "role:companion")
	require.Contains(t, tags, "session:sess-1")
	require.Contains(t, tags, "specialization:research")
	require.Contains(t, tags, "status:idle")

	blocks, err := rt.ListBlocks(context.Background(), res.CompanionID)
	require.NoError(t, err)
	require.Contains(t, blocks, "persona")
	require.Contains(t, blocks, "task_context")
}

func TestDelegateTaskMarksBusyAndRejectsSecondDelegation(t *testing.T) {
	rt := newMemRuntime()
	mgr := newManager(rt)

	res, err := mgr.CreateCompanion(context.Background(), session.CreateCompanionOptions{
		SessionID:      "sess-1",
		ConductorID:    "conductor-1",
		Specialization: "research",
	})
	require.NoError(t, err)

	dres, err := mgr.DelegateTask(context.Background(), session.DelegateTaskOptions{
		CompanionID:     res.CompanionID,
		TaskDescription: "find comparable pricing",
		SkillsAssigned:  []string{"skill.web_search"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, dres.TaskID)

	tags, err := rt.ReadTags(context.Background(), res.CompanionID)
	require.NoError(t, err)
	require.Contains(t, tags, "status:busy")

	_, err = mgr.DelegateTask(context.Background(), session.DelegateTaskOptions{
		CompanionID:     res.CompanionID,
		TaskDescription: "a second task",
	})
	require.Error(t, err)
}

func TestBroadcastTaskFansOutToIdleCompanions(t *testing.T) {
	rt := newMemRuntime()
	mgr := newManager(rt)

	for i := 0; i < 3; i++ {
		_, err := mgr.CreateCompanion(context.Background(), session.CreateCompanionOptions{
			SessionID:      "sess-1",
			ConductorID:    "conductor-1",
			Specialization: "research",
		})
		require.NoError(t, err)
	}

	res, err := mgr.BroadcastTask(context.Background(), session.BroadcastTaskOptions{
		SessionID:       "sess-1",
		TaskDescription: "gather sources",
		MaxCompanions:   2,
	})
	require.NoError(t, err)
	require.Len(t, res.Assigned, 2)
	require.Len(t, res.Delegated, 2)
}

func TestUpdateConductorGuidelinesIncrementalAndClear(t *testing.T) {
	rt := newMemRuntime()
	conductorID, err := rt.CreateAgent(context.Background(), agentruntime.AgentConfig{Name: "conductor-1"})
	require.NoError(t, err)
	mgr := newManager(rt)

	g, err := mgr.UpdateConductorGuidelines(context.Background(), conductorID, session.UpdateConductorGuidelinesOptions{
		Recommendation: "prefer haiku for summarization",
	})
	require.NoError(t, err)
	require.Len(t, g.Recommendations, 1)
	require.Equal(t, 1, g.UpdateCount)

	g, err = mgr.UpdateConductorGuidelines(context.Background(), conductorID, session.UpdateConductorGuidelinesOptions{
		Mode: session.ModeClear,
	})
	require.NoError(t, err)
	require.Empty(t, g.Recommendations)
}

func TestFinalizeSessionDismissesCompanions(t *testing.T) {
	rt := newMemRuntime()
	conductorID, err := rt.CreateAgent(context.Background(), agentruntime.AgentConfig{Name: "conductor-1"})
	require.NoError(t, err)
	mgr := newManager(rt)

	_, blockID, err := mgr.CreateSessionContext(context.Background(), "sess-1", conductorID, "finish up", nil)
	require.NoError(t, err)

	_, err = mgr.CreateCompanion(context.Background(), session.CreateCompanionOptions{
		SessionID:      "sess-1",
		ConductorID:    conductorID,
		Specialization: "research",
	})
	require.NoError(t, err)

	res, err := mgr.FinalizeSession(context.Background(), blockID, "sess-1", session.FinalizeSessionOptions{
		CollectWisdom:     true,
		DismissCompanions: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Wisdom, 1)

	remaining, err := mgr.ListCompanions(context.Background(), "sess-1", session.ListCompanionsOptions{})
	require.NoError(t, err)
	require.Empty(t, remaining)

	sc, err := mgr.ReadSessionContext(context.Background(), blockID)
	require.NoError(t, err)
	require.Equal(t, session.StateCompleted, sc.State)
}

func TestReadSessionActivityAggregatesMetrics(t *testing.T) {
	rt := newMemRuntime()
	conductorID, err := rt.CreateAgent(context.Background(), agentruntime.AgentConfig{Name: "conductor-1"})
	require.NoError(t, err)
	mgr := newManager(rt)

	_, blockID, err := mgr.CreateSessionContext(context.Background(), "sess-1", conductorID, "ship it", nil)
	require.NoError(t, err)

	res, err := mgr.CreateCompanion(context.Background(), session.CreateCompanionOptions{
		SessionID:      "sess-1",
		ConductorID:    conductorID,
		Specialization: "research",
	})
	require.NoError(t, err)

	logBlockID, err := rt.AttachMemoryBlock(context.Background(), conductorID, agentruntime.MemoryBlock{Label: "delegation_log"})
	require.NoError(t, err)

	_, err = mgr.DelegateTask(context.Background(), session.DelegateTaskOptions{
		ConductorLogBlockID: logBlockID,
		CompanionID:         res.CompanionID,
		TaskDescription:     "find sources",
		SkillsAssigned:      []string{"skill.web_search"},
	})
	require.NoError(t, err)

	report, err := mgr.ReadSessionActivity(context.Background(), blockID, conductorID, "sess-1", session.ReadSessionActivityOptions{IncludeSkillMetrics: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.Metrics.CompanionCount)
	require.Equal(t, 1, report.Metrics.BusyCompanions)
	require.Equal(t, 1, report.Metrics.TotalDelegations)
	require.Len(t, report.SkillMetrics, 1)
	require.Equal(t, "skill.web_search", report.SkillMetrics[0].Skill)
}

func TestReportTaskResultClosesDelegationAndRevertsStatus(t *testing.T) {
	rt := newMemRuntime()
	conductorID, err := rt.CreateAgent(context.Background(), agentruntime.AgentConfig{Name: "conductor-1"})
	require.NoError(t, err)
	mgr := newManager(rt)

	logBlockID, err := rt.AttachMemoryBlock(context.Background(), conductorID, agentruntime.MemoryBlock{Label: "delegation_log"})
	require.NoError(t, err)

	companion, err := mgr.CreateCompanion(context.Background(), session.CreateCompanionOptions{
		SessionID:      "sess-1",
		ConductorID:    conductorID,
		Specialization: "research",
	})
	require.NoError(t, err)

	dres, err := mgr.DelegateTask(context.Background(), session.DelegateTaskOptions{
		ConductorLogBlockID: logBlockID,
		CompanionID:         companion.CompanionID,
		TaskDescription:     "find sources",
	})
	require.NoError(t, err)

	rres, err := mgr.ReportTaskResult(context.Background(), session.ReportTaskResultOptions{
		ConductorLogBlockID: logBlockID,
		CompanionID:         companion.CompanionID,
		TaskID:              dres.TaskID,
		Status:              "succeeded",
		Summary:             "found three sources",
	})
	require.NoError(t, err)
	require.True(t, rres.Recorded)
	require.Empty(t, rres.Warnings)

	tags, err := rt.ReadTags(context.Background(), companion.CompanionID)
	require.NoError(t, err)
	require.Contains(t, tags, "status:idle")

	var log session.DelegationLog
	require.NoError(t, rt.ReadBlock(context.Background(), logBlockID, &log))
	require.Len(t, log.Delegations, 1)
	require.Equal(t, "completed", log.Delegations[0].Status)
	require.Equal(t, "succeeded", log.Delegations[0].ResultStatus)
	require.NotNil(t, log.Delegations[0].DurationS)
}

func TestReportTaskResultRejectsInvalidStatus(t *testing.T) {
	rt := newMemRuntime()
	mgr := newManager(rt)
	companion, err := mgr.CreateCompanion(context.Background(), session.CreateCompanionOptions{
		SessionID:      "sess-1",
		ConductorID:    "conductor-1",
		Specialization: "research",
	})
	require.NoError(t, err)

	_, err = mgr.ReportTaskResult(context.Background(), session.ReportTaskResultOptions{
		CompanionID: companion.CompanionID,
		TaskID:      "task-abc",
		Status:      "done",
	})
	require.Error(t, err)
}

func TestCleanupOrphanedCompanionsDryRunThenDelete(t *testing.T) {
	rt := newMemRuntime()
	mgr := newManager(rt)

	companion, err := mgr.CreateCompanion(context.Background(), session.CreateCompanionOptions{
		SessionID:      "sess-orphan",
		ConductorID:    "conductor-1",
		Specialization: "research",
	})
	require.NoError(t, err)

	dry, err := mgr.CleanupOrphanedCompanions(context.Background(), session.CleanupOrphanedCompanionsOptions{
		SessionID: "sess-orphan",
		DryRun:    true,
	})
	require.NoError(t, err)
	require.True(t, dry.DryRun)
	require.Len(t, dry.CompanionsFound, 1)
	require.Empty(t, dry.CompanionsDeleted)

	live, err := mgr.CleanupOrphanedCompanions(context.Background(), session.CleanupOrphanedCompanionsOptions{
		SessionID: "sess-orphan",
		DryRun:    false,
	})
	require.NoError(t, err)
	require.Len(t, live.CompanionsDeleted, 1)
	require.Equal(t, companion.CompanionID, live.CompanionsDeleted[0])

	_, err = rt.ReadTags(context.Background(), companion.CompanionID)
	require.Error(t, err)
}
