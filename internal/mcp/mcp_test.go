package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decibelsystems/decibel/internal/ctxutil"
	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/model"
	"github.com/decibelsystems/decibel/internal/ops"
	"github.com/decibelsystems/decibel/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := ops.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	reg := kernel.NewRegistry()
	require.NoError(t, ops.RegisterAll(reg, store, "test", time.Now()))

	k, err := kernel.New(kernel.Config{
		Table:    facade.Default(),
		Registry: reg,
		Logger:   testutil.TestLogger(),
	})
	require.NoError(t, err)

	return New(k, facade.Default(), facade.TierFull, "test", model.RoleAgent, testutil.TestLogger())
}

func callRequest(tool, action string, args map[string]any) mcplib.CallToolRequest {
	req := mcplib.CallToolRequest{}
	req.Params.Name = tool
	payload := map[string]any{"action": action}
	if args != nil {
		payload["args"] = args
	}
	req.Params.Arguments = payload
	return req
}

func decodeResult(t *testing.T, res *mcplib.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &env))
	return env
}

func TestToolCallReturnsEnvelope(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleCall(context.Background(), "decibel_record",
		callRequest("decibel_record", "log_issue", map[string]any{"title": "broken link"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	env := decodeResult(t, res)
	assert.Equal(t, "executed", env["status"])
	assert.Equal(t, "ISS-0001", env["id"])
}

func TestToolCallUnknownActionIsError(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleCall(context.Background(), "decibel_record",
		callRequest("decibel_record", "launch_missiles", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	env := decodeResult(t, res)
	assert.Equal(t, "error", env["status"])
	assert.Equal(t, model.ErrCodeUnknownAction, env["code"])
}

func TestToolCallAcceptsFlattenedArguments(t *testing.T) {
	s := newTestServer(t)

	req := mcplib.CallToolRequest{}
	req.Params.Name = "decibel_record"
	req.Params.Arguments = map[string]any{"action": "add_wish", "title": "offline mode"}

	res, err := s.handleCall(context.Background(), "decibel_record", req)
	require.NoError(t, err)
	env := decodeResult(t, res)
	assert.Equal(t, "executed", env["status"])
	assert.Equal(t, "WISH-0001", env["id"])
}

func TestCallerContextFlowsThrough(t *testing.T) {
	s := newTestServer(t)

	ctx := ctxutil.WithCaller(context.Background(),
		model.CallerContext{Role: model.RoleAgent, AgentID: "agent-7"})
	res, err := s.handleCall(ctx, "decibel_record",
		callRequest("decibel_record", "record_learning", map[string]any{"title": "TIL"}))
	require.NoError(t, err)
	env := decodeResult(t, res)
	require.Equal(t, "executed", env["status"])

	// The stored record carries the agent ID from the context.
	search, err := s.handleCall(ctx, "decibel_search",
		callRequest("decibel_search", "recent", nil))
	require.NoError(t, err)
	searchEnv := decodeResult(t, search)
	results, ok := searchEnv["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	first, ok := results[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "agent-7", first["agent_id"])
}

func TestRecentResource(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleCall(context.Background(), "decibel_record",
		callRequest("decibel_record", "log_friction", map[string]any{"title": "slow CI"}))
	require.NoError(t, err)

	contents, err := s.handleRecentResource(context.Background(), mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Contains(t, text.Text, "slow CI")
}
