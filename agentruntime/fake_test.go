package agentruntime_test

import (
	"context"
	"sync"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/docstore"
)

// fakeRuntime is an in-memory agentruntime.Runtime double for tests,
// modeled on the teacher's preference for small hand-rolled fakes over a
// mocking framework (see registry/store/memory.Store).
type fakeRuntime struct {
	mu      sync.Mutex
	tools   map[string]string
	agents  map[string]bool
	sent    []sentMessage
	deleted []string
}

type sentMessage struct {
	AgentID string
	Content string
	Async   bool
}

var _ agentruntime.Runtime = (*fakeRuntime)(nil)

func newFakeRuntime(tools map[string]string) *fakeRuntime {
	return &fakeRuntime{tools: tools, agents: map[string]bool{}}
}

func (f *fakeRuntime) CreateAgent(ctx context.Context, cfg agentruntime.AgentConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "agent-" + cfg.Name
	f.agents[id] = true
	return id, nil
}

func (f *fakeRuntime) DeleteAgent(ctx context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.agents, agentID)
	f.deleted = append(f.deleted, agentID)
	return nil
}

func (f *fakeRuntime) AttachMemoryBlock(ctx context.Context, agentID string, block agentruntime.MemoryBlock) (string, error) {
	return "block-" + block.Label, nil
}

func (f *fakeRuntime) AttachSharedBlock(ctx context.Context, agentID, blockID string) error { return nil }
func (f *fakeRuntime) ListBlocks(ctx context.Context, agentID string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeRuntime) DetachBlock(ctx context.Context, agentID, blockID string) error { return nil }
func (f *fakeRuntime) AttachTool(ctx context.Context, agentID, toolID string) error         { return nil }

func (f *fakeRuntime) ListToolIDs(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.tools))
	for k, v := range f.tools {
		out[k] = v
	}
	return out, nil
}

func (f *fakeRuntime) SendMessage(ctx context.Context, agentID, content string, async bool) (agentruntime.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{AgentID: agentID, Content: content, Async: async})
	if async {
		return agentruntime.SendResult{RunID: "run-1"}, nil
	}
	return agentruntime.SendResult{MessageID: "msg-1"}, nil
}

func (f *fakeRuntime) ReadBlock(ctx context.Context, blockID string, out any) error { return docstore.NotFound(blockID) }

func (f *fakeRuntime) UpdateBlock(ctx context.Context, blockID string, fn func(current []byte) (any, error)) error {
	_, err := fn(nil)
	return err
}

func (f *fakeRuntime) ListAgentsByTag(ctx context.Context, tags ...string) ([]string, error) {
	return nil, nil
}
func (f *fakeRuntime) ReadTags(ctx context.Context, agentID string) ([]string, error) { return nil, nil }
func (f *fakeRuntime) ReplaceTags(ctx context.Context, agentID string, tags []string) error {
	return nil
}
func (f *fakeRuntime) LoadSkill(ctx context.Context, agentID, skillRef string) (bool, error) {
	return true, nil
}
func (f *fakeRuntime) UnloadSkill(ctx context.Context, agentID, skillRef string) error { return nil }
