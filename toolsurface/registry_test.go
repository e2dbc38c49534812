package toolsurface_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/choreoflow/choreoctl/cperrors"
	"github.com/choreoflow/choreoctl/toolsurface"
)

func TestDispatchRunsRegisteredTool(t *testing.T) {
	r := toolsurface.NewRegistry()
	r.Register(toolsurface.Tool{
		Name: "echo",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			return struct {
				Echoed string `json:"echoed"`
			}{p.Message}, nil
		},
	})

	env := r.Dispatch(context.Background(), "echo", json.RawMessage(`{"message":"hi"}`))
	require.Nil(t, env["error"])
	require.Equal(t, "echo completed", env["status"])
	require.Equal(t, "hi", env["echoed"])
}

func TestDispatchUnknownToolReturnsNotFoundEnvelope(t *testing.T) {
	r := toolsurface.NewRegistry()
	env := r.Dispatch(context.Background(), "nope", nil)
	require.Nil(t, env["status"])
	require.Contains(t, env["error"], "unknown tool")
	require.Equal(t, string(cperrors.KindNotFound), env["kind"])
}

func TestDispatchRecoversPanickingHandler(t *testing.T) {
	r := toolsurface.NewRegistry()
	r.Register(toolsurface.Tool{
		Name: "boom",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			panic("kaboom")
		},
	})

	env := r.Dispatch(context.Background(), "boom", nil)
	require.Nil(t, env["status"])
	require.Contains(t, env["error"], "panicked")
	require.Equal(t, string(cperrors.KindBackendError), env["kind"])
}

func TestDispatchPropagatesHandlerErrorKind(t *testing.T) {
	r := toolsurface.NewRegistry()
	r.Register(toolsurface.Tool{
		Name: "fails",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, cperrors.New(cperrors.KindInvalidInput, "bad input")
		},
	})

	env := r.Dispatch(context.Background(), "fails", nil)
	require.Equal(t, "bad input", env["error"])
	require.Equal(t, string(cperrors.KindInvalidInput), env["kind"])
}

func TestRegisterPanicsOnEmptyNameOrNilHandler(t *testing.T) {
	r := toolsurface.NewRegistry()
	require.Panics(t, func() {
		r.Register(toolsurface.Tool{Name: "", Handler: func(context.Context, json.RawMessage) (any, error) { return nil, nil }})
	})
	require.Panics(t, func() {
		r.Register(toolsurface.Tool{Name: "x", Handler: nil})
	})
}

func TestNamesReturnsSortedRegisteredTools(t *testing.T) {
	r := toolsurface.NewRegistry()
	noop := func(context.Context, json.RawMessage) (any, error) { return nil, nil }
	r.Register(toolsurface.Tool{Name: "zeta", Handler: noop})
	r.Register(toolsurface.Tool{Name: "alpha", Handler: noop})
	require.Equal(t, []string{"alpha", "zeta"}, r.Names())
}

func TestServerDispatchOverHTTPAlwaysReturnsOK(t *testing.T) {
	r := toolsurface.NewRegistry()
	r.Register(toolsurface.Tool{
		Name: "fails",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, cperrors.New(cperrors.KindInvalidInput, "bad")
		},
	})
	srv := toolsurface.NewServer("127.0.0.1:0", r, toolsurface.ServerOptions{})

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/tools/fails", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.Equal(t, "bad", env["error"])
}

func TestServerListEndpointReturnsToolNames(t *testing.T) {
	r := toolsurface.NewRegistry()
	r.Register(toolsurface.Tool{Name: "one", Handler: func(context.Context, json.RawMessage) (any, error) { return nil, nil }})
	srv := toolsurface.NewServer("127.0.0.1:0", r, toolsurface.ServerOptions{})

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/tools")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Tools []string `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, []string{"one"}, body.Tools)
}
