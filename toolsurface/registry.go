// Package toolsurface exposes every control-plane, validator, bootstrap,
// session, and model-selection operation as a callable "tool" over a
// JSON-RPC-like HTTP transport (spec §4.8): a named-argument record in,
// a `{status, error, ...typed fields}` record out, no exceptions ever
// escaping to the transport. goa.design/goa/v3's generated jsonrpc
// dispatch (example/cmd/assistant-cli/jsonrpc.go,
// example/complete/cmd/orchestrator-cli/jsonrpc.go) is the teacher's own
// precedent for a named-command-to-endpoint dispatch table, but it is
// generated by `goa gen` from a design package — codegen this exercise
// cannot run (see DESIGN.md's dropped-dependency note on goa.design/goa/v3)
// — so the dispatch table here is hand-written against the stdlib
// net/http instead, matching the same "one name, one typed handler" shape.
package toolsurface

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/choreoflow/choreoctl/cperrors"
)

// Handler is one tool's implementation: decode params, run the operation,
// return a result value to be flattened into the {status, error, ...}
// envelope. Handler must never panic across a call; Dispatch recovers
// defensively, but handlers should return errors instead.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Tool pairs a handler with the name it is invoked under.
type Tool struct {
	Name        string
	Description string
	Handler     Handler
}

// Registry is the name-to-handler dispatch table every HTTP request is
// routed through. Safe for concurrent registration and dispatch.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds or replaces the tool named name. Panics on a nil handler
// or empty name — this is a programming error caught at wiring time, not a
// runtime condition a caller can trigger.
func (r *Registry) Register(t Tool) {
	if t.Name == "" || t.Handler == nil {
		panic("toolsurface: Register requires a non-empty name and a non-nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Envelope is the flat {status, error, ...} shape every tool call returns,
// spec §4.8's "typed function from a named-argument record to a result
// record with status, error, and operation-specific fields".
type Envelope map[string]any

// Dispatch looks up name, runs its handler against params, and always
// returns a populated Envelope — never an error a caller must additionally
// branch on, per spec §7's "tool functions never throw to the transport".
func (r *Registry) Dispatch(ctx context.Context, name string, params json.RawMessage) Envelope {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return errorEnvelope(cperrors.New(cperrors.KindNotFound, "unknown tool %q", name))
	}

	result, err := runHandler(ctx, tool.Handler, params)
	if err != nil {
		return errorEnvelope(err)
	}
	return okEnvelope(name, result)
}

// runHandler recovers a panicking handler into a backend_error, since spec
// §4.8 requires errors never raise past the tool boundary.
func runHandler(ctx context.Context, h Handler, params json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = cperrors.New(cperrors.KindBackendError, "tool handler panicked: %v", rec)
		}
	}()
	return h(ctx, params)
}

// errorEnvelope mirrors the dcf_plus convention: "status" is null and
// "error" carries the message on failure.
func errorEnvelope(err error) Envelope {
	kind := cperrors.KindOf(err)
	return Envelope{"status": nil, "error": err.Error(), "kind": string(kind)}
}

// okEnvelope mirrors the dcf_plus convention: "error" is null and "status"
// carries a human-readable success message on success — the handler's own
// "status" field (if its result type sets one) wins over the generic
// per-tool default, matching e.g. create_companion.py's
// f"Created Companion '{name}' for session '{id}'" messages.
func okEnvelope(name string, result any) Envelope {
	env := Envelope{"status": name + " completed", "error": nil}
	if result == nil {
		return env
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorEnvelope(cperrors.Wrap(cperrors.KindBackendError, err, "marshal tool result"))
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		// result didn't marshal to a JSON object (e.g. a bare slice or
		// scalar) — carry it under "result" instead of silently dropping it.
		var scalar any
		_ = json.Unmarshal(raw, &scalar)
		env["result"] = scalar
		return env
	}
	for k, v := range fields {
		env[k] = v
	}
	return env
}

// decodeParams unmarshals params into dst, reporting an invalid_input error
// (never a raw decode error) on malformed JSON.
func decodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return cperrors.Wrap(cperrors.KindInvalidInput, err, "decode tool parameters")
	}
	return nil
}
