package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/mcp"
	"github.com/decibelsystems/decibel/internal/model"
	"github.com/decibelsystems/decibel/internal/ops"
	"github.com/decibelsystems/decibel/internal/ratelimit"
	"github.com/decibelsystems/decibel/internal/testutil"
)

func newTestServer(t *testing.T, authToken string) *httptest.Server {
	t.Helper()

	store, err := ops.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	reg := kernel.NewRegistry()
	require.NoError(t, ops.RegisterAll(reg, store, "test", time.Now()))

	k, err := kernel.New(kernel.Config{
		Table:    facade.Default(),
		Registry: reg,
		Limiter:  ratelimit.New(ratelimit.DefaultConfig(), nil),
		Logger:   testutil.TestLogger(),
	})
	require.NoError(t, err)

	mcpSrv := mcp.New(k, facade.Default(), facade.TierFull, "test", model.RoleAgent, testutil.TestLogger())

	srv := New(Config{
		Kernel:    k,
		Table:     facade.Default(),
		Logger:    testutil.TestLogger(),
		MCPServer: mcpSrv.MCPServer(),
		AuthToken: authToken,
		Tier:      facade.TierFull,
		Addr:      "127.0.0.1:0",
		Version:   "test",
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "executed", body["status"])
	assert.Equal(t, true, body["healthy"])
}

func TestCallDispatchesThroughKernel(t *testing.T) {
	ts := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/call", map[string]any{
		"tool":    "decibel_record",
		"action":  "log_issue",
		"args":    map[string]any{"title": "dropdown flickers"},
		"context": map[string]any{"role": "agent", "agent_id": "agent-1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "executed", body["status"])
	assert.Equal(t, "ISS-0001", body["id"])
}

func TestCallUnknownToolIs404(t *testing.T) {
	ts := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/call", map[string]any{
		"tool": "no_such_tool", "action": "x",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, model.ErrCodeUnknownTool, body["code"])
}

func TestCallUnknownActionIs404(t *testing.T) {
	ts := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/call", map[string]any{
		"tool": "decibel_record", "action": "no_such_action",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, model.ErrCodeUnknownAction, body["code"])
}

func TestCallRejectsTrustedRoleClaim(t *testing.T) {
	ts := newTestServer(t, "")

	// A trusted claim over HTTP degrades to unknown; unknown callers
	// may read but not write.
	resp := postJSON(t, ts.URL+"/call", map[string]any{
		"tool":    "decibel_search",
		"action":  "recent",
		"context": map[string]any{"role": "trusted"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "executed", body["status"])
}

func TestUnknownCallersRateLimited(t *testing.T) {
	ts := newTestServer(t, "")

	// Default unknown quota is 30/min.
	var last *http.Response
	for i := 0; i < 31; i++ {
		last = postJSON(t, ts.URL+"/call", map[string]any{
			"tool": "decibel_search", "action": "recent",
		})
		if i < 30 {
			require.Equal(t, http.StatusOK, last.StatusCode, "call %d", i)
			last.Body.Close()
		}
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get("Retry-After"))

	body := decodeBody(t, last)
	assert.Equal(t, model.ErrCodeRateLimited, body["code"])
}

func TestRESTAliases(t *testing.T) {
	ts := newTestServer(t, "")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/wishes",
		bytes.NewReader([]byte(`{"title":"keyboard shortcuts"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Decibel-Agent-ID", "agent-9")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "WISH-0001", body["id"])

	searchResp, err := http.Get(ts.URL + "/v1/search?q=keyboard")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, searchResp.StatusCode)
	searchBody := decodeBody(t, searchResp)
	assert.Equal(t, float64(1), searchBody["total"])
}

func TestToolsCatalogTiers(t *testing.T) {
	ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/tools?tier=micro")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "micro", body["tier"])

	tools, ok := body["tools"].([]any)
	require.True(t, ok)
	names := make(map[string]bool)
	for _, tl := range tools {
		m := tl.(map[string]any)
		names[m["name"].(string)] = true
	}
	assert.True(t, names["decibel_record"])
	assert.False(t, names["decibel_experiment"], "experiment facade is not micro eligible")

	badResp, err := http.Get(ts.URL + "/tools?tier=verbose")
	require.NoError(t, err)
	badResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
}

func TestAuthTokenRequired(t *testing.T) {
	ts := newTestServer(t, "sekrit")

	// Health stays open.
	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	// Everything else requires the bearer token.
	noAuth := postJSON(t, ts.URL+"/call", map[string]any{
		"tool": "decibel_search", "action": "recent",
	})
	require.Equal(t, http.StatusUnauthorized, noAuth.StatusCode)
	body := decodeBody(t, noAuth)
	assert.Equal(t, model.ErrCodeUnauthorized, body["code"])

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/call",
		bytes.NewReader([]byte(`{"tool":"decibel_search","action":"recent"}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sekrit")
	withAuth, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	withAuth.Body.Close()
	assert.Equal(t, http.StatusOK, withAuth.StatusCode)
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "error", body["status"])
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t, "")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestMCPOverStreamableHTTP(t *testing.T) {
	ts := newTestServer(t, "")

	c, err := mcpclient.NewStreamableHttpClient(
		ts.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{
			"X-Decibel-Agent-ID": "agent-mcp",
		}),
	)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	initResult, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "decibel", initResult.ServerInfo.Name)

	toolsResult, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, tool := range toolsResult.Tools {
		names[tool.Name] = true
	}
	assert.True(t, names["decibel_record"])
	assert.True(t, names["decibel_search"])
	assert.True(t, names["decibel_experiment"])
	assert.True(t, names["decibel_health"])

	callResult, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "decibel_record",
			Arguments: map[string]any{
				"action": "record_decision",
				"args":   map[string]any{"title": "use streamable transport"},
			},
		},
	})
	require.NoError(t, err)
	require.False(t, callResult.IsError, "call returned error: %v", callResult.Content)

	text, ok := callResult.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &env))
	assert.Equal(t, "executed", env["status"])
	assert.Equal(t, "DEC-0001", env["id"])
}
