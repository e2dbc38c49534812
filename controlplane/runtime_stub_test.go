package controlplane_test

import (
	"context"

	"github.com/choreoflow/choreoctl/agentruntime"
)

// stubRuntime is a minimal agentruntime.Runtime double recording sent
// messages and deleted agents, for controlplane tests that should not
// depend on a live agent-runtime service.
type stubRuntime struct {
	sent    []sentCall
	deleted []string
	failDelete map[string]bool
}

type sentCall struct {
	agentID string
	content string
	async   bool
}

var _ agentruntime.Runtime = (*stubRuntime)(nil)

func newStubRuntime() *stubRuntime {
	return &stubRuntime{failDelete: map[string]bool{}}
}

func (r *stubRuntime) CreateAgent(ctx context.Context, cfg agentruntime.AgentConfig) (string, error) {
	return "agent-" + cfg.Name, nil
}

func (r *stubRuntime) DeleteAgent(ctx context.Context, agentID string) error {
	if r.failDelete[agentID] {
		return agentruntimeErr(agentID)
	}
	r.deleted = append(r.deleted, agentID)
	return nil
}

func (r *stubRuntime) AttachMemoryBlock(ctx context.Context, agentID string, block agentruntime.MemoryBlock) (string, error) {
	return "block-" + block.Label, nil
}
func (r *stubRuntime) AttachSharedBlock(ctx context.Context, agentID, blockID string) error { return nil }
func (r *stubRuntime) ListBlocks(ctx context.Context, agentID string) (map[string]string, error) {
	return nil, nil
}
func (r *stubRuntime) DetachBlock(ctx context.Context, agentID, blockID string) error { return nil }
func (r *stubRuntime) AttachTool(ctx context.Context, agentID, toolID string) error         { return nil }

func (r *stubRuntime) ListToolIDs(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (r *stubRuntime) SendMessage(ctx context.Context, agentID, content string, async bool) (agentruntime.SendResult, error) {
	r.sent = append(r.sent, sentCall{agentID: agentID, content: content, async: async})
	if async {
		return agentruntime.SendResult{RunID: "run-1"}, nil
	}
	return agentruntime.SendResult{MessageID: "msg-1"}, nil
}

func (r *stubRuntime) ReadBlock(ctx context.Context, blockID string, out any) error { return nil }

func (r *stubRuntime) UpdateBlock(ctx context.Context, blockID string, fn func(current []byte) (any, error)) error {
	_, err := fn(nil)
	return err
}

func (r *stubRuntime) ListAgentsByTag(ctx context.Context, tags ...string) ([]string, error) {
	return nil, nil
}
func (r *stubRuntime) ReadTags(ctx context.Context, agentID string) ([]string, error) { return nil, nil }
func (r *stubRuntime) ReplaceTags(ctx context.Context, agentID string, tags []string) error {
	return nil
}
func (r *stubRuntime) LoadSkill(ctx context.Context, agentID, skillRef string) (bool, error) {
	return true, nil
}
func (r *stubRuntime) UnloadSkill(ctx context.Context, agentID, skillRef string) error { return nil }

func agentruntimeErr(agentID string) error {
	return &stubDeleteError{agentID: agentID}
}

type stubDeleteError struct{ agentID string }

func (e *stubDeleteError) Error() string { return "delete failed for " + e.agentID }
