package agentruntime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/choreoflow/choreoctl/cperrors"
)

// HTTPRuntime implements Runtime over the agent-runtime service's REST API
// (a Letta-compatible server). Every call first waits on a rate.Limiter,
// scaled down from the teacher's AdaptiveRateLimiter
// (features/model/middleware/ratelimit.go) to a plain requests-per-second
// cap: the agent-runtime adapter throttles HTTP calls, not LLM token
// budgets, so the AIMD backoff machinery the teacher built for provider
// rate-limit signals doesn't apply here.
type HTTPRuntime struct {
	baseURL string
	hc      *http.Client
	limiter *rate.Limiter
}

var _ Runtime = (*HTTPRuntime)(nil)

// NewHTTPRuntime constructs an HTTPRuntime from cfg.
func NewHTTPRuntime(cfg HTTPClientConfig) *HTTPRuntime {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRuntime{
		baseURL: cfg.BaseURL,
		hc:      &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (h *HTTPRuntime) do(ctx context.Context, method, path string, body, out any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return cperrors.Wrap(cperrors.KindConnectionFailed, err, "rate limiter wait")
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return cperrors.Wrap(cperrors.KindInvalidInput, err, "marshal request body")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return cperrors.Wrap(cperrors.KindInvalidInput, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.hc.Do(req)
	if err != nil {
		return cperrors.Wrap(cperrors.KindConnectionFailed, err, "agent-runtime request %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return cperrors.New(cperrors.KindNotFound, "agent-runtime: %s %s not found", method, path)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return cperrors.New(cperrors.KindBackendError, "agent-runtime: %s %s returned %d: %s", method, path, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return cperrors.Wrap(cperrors.KindBackendError, err, "decode response from %s %s", method, path)
	}
	return nil
}

func (h *HTTPRuntime) CreateAgent(ctx context.Context, cfg AgentConfig) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := h.do(ctx, http.MethodPost, "/v1/agents", cfg, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (h *HTTPRuntime) DeleteAgent(ctx context.Context, agentID string) error {
	err := h.do(ctx, http.MethodDelete, "/v1/agents/"+agentID, nil, nil)
	if cperrors.KindOf(err) == cperrors.KindNotFound {
		return nil
	}
	return err
}

func (h *HTTPRuntime) AttachMemoryBlock(ctx context.Context, agentID string, block MemoryBlock) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/v1/agents/%s/memory/blocks", agentID)
	if err := h.do(ctx, http.MethodPost, path, block, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (h *HTTPRuntime) AttachSharedBlock(ctx context.Context, agentID, blockID string) error {
	path := fmt.Sprintf("/v1/agents/%s/memory/blocks/%s/attach", agentID, blockID)
	return h.do(ctx, http.MethodPatch, path, nil, nil)
}

func (h *HTTPRuntime) ListBlocks(ctx context.Context, agentID string) (map[string]string, error) {
	var out []struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	path := fmt.Sprintf("/v1/agents/%s/memory/blocks", agentID)
	if err := h.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	blocks := make(map[string]string, len(out))
	for _, b := range out {
		blocks[b.Label] = b.ID
	}
	return blocks, nil
}

func (h *HTTPRuntime) DetachBlock(ctx context.Context, agentID, blockID string) error {
	path := fmt.Sprintf("/v1/agents/%s/memory/blocks/%s/detach", agentID, blockID)
	return h.do(ctx, http.MethodPatch, path, nil, nil)
}

func (h *HTTPRuntime) AttachTool(ctx context.Context, agentID, toolID string) error {
	path := fmt.Sprintf("/v1/agents/%s/tools/attach/%s", agentID, toolID)
	return h.do(ctx, http.MethodPatch, path, nil, nil)
}

func (h *HTTPRuntime) ListToolIDs(ctx context.Context) (map[string]string, error) {
	var out []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := h.do(ctx, http.MethodGet, "/v1/tools", nil, &out); err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(out))
	for _, t := range out {
		ids[t.Name] = t.ID
	}
	return ids, nil
}

func (h *HTTPRuntime) SendMessage(ctx context.Context, agentID, content string, async bool) (SendResult, error) {
	body := map[string]any{
		"messages": []map[string]string{{"role": "system", "content": content}},
	}
	path := fmt.Sprintf("/v1/agents/%s/messages", agentID)
	if async {
		path = fmt.Sprintf("/v1/agents/%s/messages/async", agentID)
		var out struct {
			RunID string `json:"run_id"`
		}
		if err := h.do(ctx, http.MethodPost, path, body, &out); err != nil {
			return SendResult{}, err
		}
		return SendResult{RunID: out.RunID}, nil
	}
	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := h.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return SendResult{}, err
	}
	var msgID string
	if n := len(out.Messages); n > 0 {
		msgID = out.Messages[n-1].ID
	}
	return SendResult{MessageID: msgID}, nil
}

func (h *HTTPRuntime) ReadBlock(ctx context.Context, blockID string, out any) error {
	return h.do(ctx, http.MethodGet, "/v1/blocks/"+blockID, nil, out)
}

func (h *HTTPRuntime) UpdateBlock(ctx context.Context, blockID string, fn func(current []byte) (next any, err error)) error {
	var raw json.RawMessage
	if err := h.do(ctx, http.MethodGet, "/v1/blocks/"+blockID, nil, &raw); err != nil {
		return err
	}
	next, err := fn(raw)
	if err != nil {
		return err
	}
	return h.do(ctx, http.MethodPatch, "/v1/blocks/"+blockID, next, nil)
}

func (h *HTTPRuntime) ListAgentsByTag(ctx context.Context, tags ...string) ([]string, error) {
	var out []struct {
		ID string `json:"id"`
	}
	path := "/v1/agents?tags=" + joinTags(tags)
	if err := h.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, len(out))
	for i, a := range out {
		ids[i] = a.ID
	}
	return ids, nil
}

func (h *HTTPRuntime) ReadTags(ctx context.Context, agentID string) ([]string, error) {
	var out struct {
		Tags []string `json:"tags"`
	}
	if err := h.do(ctx, http.MethodGet, "/v1/agents/"+agentID, nil, &out); err != nil {
		return nil, err
	}
	return out.Tags, nil
}

func (h *HTTPRuntime) ReplaceTags(ctx context.Context, agentID string, tags []string) error {
	path := "/v1/agents/" + agentID + "/tags"
	return h.do(ctx, http.MethodPut, path, map[string]any{"tags": tags}, nil)
}

func (h *HTTPRuntime) LoadSkill(ctx context.Context, agentID, skillRef string) (bool, error) {
	path := fmt.Sprintf("/v1/agents/%s/skills", agentID)
	if err := h.do(ctx, http.MethodPost, path, map[string]string{"skill": skillRef}, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (h *HTTPRuntime) UnloadSkill(ctx context.Context, agentID, skillRef string) error {
	path := fmt.Sprintf("/v1/agents/%s/skills/%s", agentID, skillRef)
	return h.do(ctx, http.MethodDelete, path, nil, nil)
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}
