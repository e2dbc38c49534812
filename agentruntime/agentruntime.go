// Package agentruntime treats the external agent-runtime service (a
// Letta/MemGPT-style server: create/delete agent instances, attach memory
// blocks and tools, send messages) as an opaque capability behind a typed
// interface, per spec §1's "explicitly out of scope — only their contracts
// matter" and the redesign note in spec §9 ("dynamic import of adapters...
// expressed as optional injected interfaces; absence is a configuration
// error surfaced on startup, not at each call"). Grounded on
// original_source/tools/dcf/create_worker_agents.py's use of letta_client.Letta.
package agentruntime

import (
	"context"
	"time"
)

// AgentConfig is the creation payload passed through from a resolved agent
// template (spec §4.3 step 3).
type AgentConfig struct {
	Name         string
	Description  string
	SystemPrompt string
	LLMConfig    map[string]any
	EmbeddingConfig map[string]any
	MemoryBlocks []MemoryBlock
	ToolRuleNames []string
	ToolIDs      []string
	Tags         []string
}

// MemoryBlock is a labeled, size-bounded memory block attached to an agent.
type MemoryBlock struct {
	Label string
	Value string
	Limit int
}

// SendResult is the outcome of SendMessage: exactly one of MessageID (sync)
// or RunID (async) is populated.
type SendResult struct {
	MessageID string
	RunID     string
}

// Runtime is the capability surface the control plane, bootstrap, and DCF+
// coordinator need from the agent-runtime service. Every method maps to one
// HTTP/RPC round-trip; implementations must be safe for concurrent use and
// should respect ctx cancellation.
type Runtime interface {
	// CreateAgent provisions a new agent instance and returns its id.
	CreateAgent(ctx context.Context, cfg AgentConfig) (agentID string, err error)
	// DeleteAgent destroys an agent instance. Deleting an already-deleted or
	// unknown agent is not an error (idempotent, per Finalizer step 4's
	// "errors recorded per-agent, do not abort").
	DeleteAgent(ctx context.Context, agentID string) error
	// AttachMemoryBlock creates (or reuses, if label already exists) a memory
	// block on agentID and returns its block id.
	AttachMemoryBlock(ctx context.Context, agentID string, block MemoryBlock) (blockID string, err error)
	// AttachSharedBlock attaches an already-existing block (by id) to agentID,
	// used to share a SessionContext or DelegationLog block across agents.
	AttachSharedBlock(ctx context.Context, agentID, blockID string) error
	// ListBlocks returns every memory block currently attached to agentID,
	// keyed by label, so a caller can rediscover a block id it did not keep
	// (session.Manager re-finds delegation_log/task_context/
	// strategist_guidelines this way, mirroring the original tools'
	// client.agents.blocks.list(agent_id=...) lookups).
	ListBlocks(ctx context.Context, agentID string) (map[string]string, error)
	// DetachBlock removes a block from agentID without deleting the block.
	DetachBlock(ctx context.Context, agentID, blockID string) error
	// AttachTool attaches a platform tool, resolved by id, to agentID.
	AttachTool(ctx context.Context, agentID, toolID string) error
	// ListToolIDs returns every platform tool's id keyed by name, used to
	// populate ToolCache.
	ListToolIDs(ctx context.Context) (map[string]string, error)
	// SendMessage delivers content to agentID as a system-role message
	// (spec §6.2). If async, the call returns immediately with a run id;
	// otherwise it blocks for the response and returns the last message id.
	SendMessage(ctx context.Context, agentID, content string, async bool) (SendResult, error)
	// ReadBlock reads a memory block's current JSON value into out.
	ReadBlock(ctx context.Context, blockID string, out any) error
	// UpdateBlock performs an optimistic read-modify-write on a memory
	// block, mirroring docstore.Store.Update's contract so session.go can
	// treat blocks and documents uniformly.
	UpdateBlock(ctx context.Context, blockID string, fn func(current []byte) (next any, err error)) error
	// ListAgentsByTag returns the ids of every agent carrying all of tags.
	ListAgentsByTag(ctx context.Context, tags ...string) ([]string, error)
	// ReadTags returns an agent's current tag set.
	ReadTags(ctx context.Context, agentID string) ([]string, error)
	// ReplaceTags overwrites agentID's tags with the given set.
	ReplaceTags(ctx context.Context, agentID string, tags []string) error
	// LoadSkill attempts to load a skill by reference onto agentID. Returns
	// false, nil if the skill could not be loaded but that failure should
	// not abort the caller (spec §4.7 createCompanion: "tries to load each
	// initial skill").
	LoadSkill(ctx context.Context, agentID, skillRef string) (bool, error)
	// UnloadSkill reverses LoadSkill.
	UnloadSkill(ctx context.Context, agentID, skillRef string) error
}

// HTTPClientConfig configures the rate-limited HTTP transport a concrete
// Runtime implementation uses to reach the agent-runtime service.
type HTTPClientConfig struct {
	BaseURL            string
	RequestsPerSecond  float64
	Burst              int
	Timeout            time.Duration
}
