package toolsurface

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/choreoflow/choreoctl/telemetry"
)

// ServerOptions configures NewServer.
type ServerOptions struct {
	Allowlist    AllowlistOptions
	Logger       telemetry.Logger
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.Logger == nil {
		o.Logger = telemetry.NewNoopLogger()
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 15 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 30 * time.Second
	}
	return o
}

// NewServer wires registry behind the DNS-rebinding allowlist middleware
// and a single dispatch endpoint, returning a ready-to-run *http.Server.
// Every tool is invoked by name at POST /tools/{name} with a JSON request
// body decoded as that tool's named-argument record; the response is
// always the flat {status, error, ...} Envelope, HTTP 200, even on a tool-
// level error — the JSON body is where the error lives, per spec §4.8.
func NewServer(addr string, registry *Registry, opts ServerOptions) *http.Server {
	opts = opts.withDefaults()

	mux := http.NewServeMux()
	mux.HandleFunc("/tools/", handleDispatch(registry, opts.Logger))
	mux.HandleFunc("/tools", handleList(registry))

	return &http.Server{
		Addr:         addr,
		Handler:      Allowlist(opts.Allowlist, mux),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
}

func handleList(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{"tools": registry.Names()})
	}
}

func handleDispatch(registry *Registry, logger telemetry.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		name := r.URL.Path[len("/tools/"):]
		if name == "" {
			writeJSON(w, Envelope{"status": nil, "error": "tool name is required", "kind": "invalid_input"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
		if err != nil {
			writeJSON(w, Envelope{"status": nil, "error": "failed to read request body", "kind": "invalid_input"})
			return
		}

		ctx := r.Context()
		env := registry.Dispatch(ctx, name, body)
		if errMsg, _ := env["error"].(string); errMsg != "" {
			logger.Warn(ctx, "tool call failed", "tool", name, "error", errMsg)
		}
		writeJSON(w, env)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
