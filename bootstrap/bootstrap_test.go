package bootstrap_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/bootstrap"
	"github.com/choreoflow/choreoctl/controlplane"
	"github.com/choreoflow/choreoctl/definition"
	"github.com/choreoflow/choreoctl/docstore"
)

// recordingRuntime is a minimal agentruntime.Runtime double recording every
// CreateAgent call, mirroring controlplane_test's stubRuntime but local so
// bootstrap's tests do not reach across package boundaries for an unexported
// test helper.
type recordingRuntime struct {
	created []agentruntime.AgentConfig
	nextID  int
}

var _ agentruntime.Runtime = (*recordingRuntime)(nil)

func (r *recordingRuntime) CreateAgent(ctx context.Context, cfg agentruntime.AgentConfig) (string, error) {
	r.created = append(r.created, cfg)
	r.nextID++
	return "agent-" + cfg.Name, nil
}
func (r *recordingRuntime) DeleteAgent(ctx context.Context, agentID string) error { return nil }
func (r *recordingRuntime) AttachMemoryBlock(ctx context.Context, agentID string, block agentruntime.MemoryBlock) (string, error) {
	return "block-" + block.Label, nil
}
func (r *recordingRuntime) AttachSharedBlock(ctx context.Context, agentID, blockID string) error {
	return nil
}
func (r *recordingRuntime) ListBlocks(ctx context.Context, agentID string) (map[string]string, error) {
	return nil, nil
}
func (r *recordingRuntime) DetachBlock(ctx context.Context, agentID, blockID string) error { return nil }
func (r *recordingRuntime) AttachTool(ctx context.Context, agentID, toolID string) error   { return nil }
func (r *recordingRuntime) ListToolIDs(ctx context.Context) (map[string]string, error) {
	return map[string]string{"web.search": "tool-web-search"}, nil
}
func (r *recordingRuntime) SendMessage(ctx context.Context, agentID, content string, async bool) (agentruntime.SendResult, error) {
	return agentruntime.SendResult{MessageID: "msg-1"}, nil
}
func (r *recordingRuntime) ReadBlock(ctx context.Context, blockID string, out any) error { return nil }
func (r *recordingRuntime) UpdateBlock(ctx context.Context, blockID string, fn func([]byte) (any, error)) error {
	_, err := fn(nil)
	return err
}
func (r *recordingRuntime) ListAgentsByTag(ctx context.Context, tags ...string) ([]string, error) {
	return nil, nil
}
func (r *recordingRuntime) ReadTags(ctx context.Context, agentID string) ([]string, error) {
	return nil, nil
}
func (r *recordingRuntime) ReplaceTags(ctx context.Context, agentID string, tags []string) error {
	return nil
}
func (r *recordingRuntime) LoadSkill(ctx context.Context, agentID, skillRef string) (bool, error) {
	return true, nil
}
func (r *recordingRuntime) UnloadSkill(ctx context.Context, agentID, skillRef string) error {
	return nil
}

// fakeTools resolves a fixed set of tool names, for templates that declare
// inline Tools.
type fakeTools map[string]string

func (f fakeTools) Lookup(ctx context.Context, name string) (string, error) {
	if id, ok := f[name]; ok {
		return id, nil
	}
	return "", errNoSuchTool(name)
}

type errNoSuchTool string

func (e errNoSuchTool) Error() string { return "no such tool: " + string(e) }

func singleTaskWorkflow() *definition.Workflow {
	return &definition.Workflow{
		WorkflowID:   "wf-1",
		WorkflowName: "demo",
		ASL: definition.ASL{
			StartAt: "Research",
			States: map[string]*definition.State{
				"Research": {
					Type: definition.StateTypeTask,
					End:  true,
					AgentBinding: &definition.AgentBinding{
						AgentTemplateRef: &definition.AgentRef{Name: "researcher"},
					},
				},
			},
		},
		InlineWorkflowAgents: []definition.AgentTemplate{
			{
				Name:         "researcher",
				SystemPrompt: "You research things.",
				Tools:        []definition.ToolDef{{Name: "web.search"}},
			},
		},
	}
}

func TestBootstrapResolvesInlineFallbackAndSeedsControlPlane(t *testing.T) {
	rt := &recordingRuntime{}
	store := controlplane.NewStore(docstore.NewMemoryStore())
	wf := singleTaskWorkflow()

	res, err := bootstrap.Bootstrap(context.Background(), rt, store, bootstrap.AFBundleSet{}, wf, bootstrap.Options{
		NamePrefix: "wf1-",
		Tools:      fakeTools{"web.search": "tool-web-search"},
	})
	require.NoError(t, err)
	require.Len(t, res.Agents, 1)
	require.Equal(t, "Research", res.Agents[0].State)
	require.Equal(t, "agent-wf1-researcher", res.Agents[0].AgentID)

	require.Len(t, rt.created, 1)
	cfg := rt.created[0]
	require.Equal(t, "wf1-researcher", cfg.Name)
	require.ElementsMatch(t, []string{"wf:wf-1", "state:Research", "role:worker"}, cfg.Tags)
	require.Equal(t, []string{"tool-web-search"}, cfg.ToolIDs)

	require.NotNil(t, res.ControlPlane)
	require.Contains(t, res.ControlPlane.CreatedKeys, controlplane.MetaKey("wf-1"))
	require.Equal(t, "agent-wf1-researcher", res.ControlPlane.Meta.Agents["Research"])
}

func TestBootstrapPrefersEmbeddedOverInlineFallback(t *testing.T) {
	rt := &recordingRuntime{}
	store := controlplane.NewStore(docstore.NewMemoryStore())
	wf := singleTaskWorkflow()
	wf.InlineAgents = []definition.AgentTemplate{
		{ID: "agent-tpl-embedded", Name: "researcher", SystemPrompt: "Embedded prompt wins."},
	}

	res, err := bootstrap.Bootstrap(context.Background(), rt, store, bootstrap.AFBundleSet{}, wf, bootstrap.Options{})
	require.NoError(t, err)
	require.Len(t, rt.created, 1)
	require.Equal(t, "Embedded prompt wins.", rt.created[0].SystemPrompt)
	_ = res
}

func TestBootstrapPrefersAFBundleOverInlineFallback(t *testing.T) {
	rt := &recordingRuntime{}
	store := controlplane.NewStore(docstore.NewMemoryStore())
	wf := singleTaskWorkflow()

	bundles := bootstrap.AFBundleSet{
		"researcher": &definition.AgentTemplate{Name: "researcher", SystemPrompt: "Bundle prompt wins."},
	}

	_, err := bootstrap.Bootstrap(context.Background(), rt, store, bundles, wf, bootstrap.Options{})
	require.NoError(t, err)
	require.Equal(t, "Bundle prompt wins.", rt.created[0].SystemPrompt)
}

func TestBootstrapAbortsWhenNoTemplateResolves(t *testing.T) {
	rt := &recordingRuntime{}
	store := controlplane.NewStore(docstore.NewMemoryStore())
	wf := singleTaskWorkflow()
	wf.InlineWorkflowAgents = nil // no tier can resolve "researcher" now

	_, err := bootstrap.Bootstrap(context.Background(), rt, store, bootstrap.AFBundleSet{}, wf, bootstrap.Options{})
	require.Error(t, err)
	require.Empty(t, rt.created)
}

func TestBootstrapSkipsUnmappedInlineToolWithWarning(t *testing.T) {
	rt := &recordingRuntime{}
	store := controlplane.NewStore(docstore.NewMemoryStore())
	wf := singleTaskWorkflow()

	res, err := bootstrap.Bootstrap(context.Background(), rt, store, bootstrap.AFBundleSet{}, wf, bootstrap.Options{
		Tools: fakeTools{}, // "web.search" is not registered
	})
	require.NoError(t, err)
	require.Empty(t, rt.created[0].ToolIDs)
	require.Len(t, res.Warnings, 1)
	require.Contains(t, res.Warnings[0], "web.search")
}

func TestLoadAFBundlesIndexesByIDAndName(t *testing.T) {
	loader := memLoader{
		"af://bundle.json": mustMarshal(t, map[string]any{
			"agents": []any{
				map[string]any{"id": "tpl-1", "name": "researcher", "system_prompt": "hi"},
			},
		}),
	}
	set, err := bootstrap.LoadAFBundles(context.Background(), loader, []definition.AFImport{{URI: "af://bundle.json"}}, ".")
	require.NoError(t, err)
	require.Same(t, set["tpl-1"], set["researcher"])
	require.Equal(t, "hi", set["tpl-1"].SystemPrompt)
}

type memLoader map[string][]byte

func (m memLoader) Load(ctx context.Context, uri, baseDir string) ([]byte, error) {
	b, ok := m[uri]
	if !ok {
		return nil, errNoSuchTool(uri)
	}
	return b, nil
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
