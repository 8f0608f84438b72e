package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/model"
	"github.com/decibelsystems/decibel/internal/testutil"
)

func unreachableBridge(t *testing.T) *Bridge {
	t.Helper()
	// Port 1 on loopback refuses immediately, so attempts fail fast.
	return New(Config{
		DaemonURL:     "http://127.0.0.1:1",
		RetryInterval: 20 * time.Millisecond,
		Timeout:       150 * time.Millisecond,
		Tier:          facade.TierFull,
		Version:       "test",
		Logger:        testutil.TestLogger(),
	})
}

func TestForwardUnreachableReturnsUnavailable(t *testing.T) {
	b := unreachableBridge(t)
	defer b.Close()

	start := time.Now()
	res, err := b.forward(context.Background(), "decibel_record", mcplib.CallToolRequest{})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.True(t, res.IsError)
	// Fails within the budget plus slack, never hangs.
	assert.Less(t, elapsed, 2*time.Second)

	text, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &env))
	assert.Equal(t, "error", env["status"])
	assert.Equal(t, model.ErrCodeUnavailable, env["code"])
}

func TestRegisterToolsFallsBackToLocalCatalog(t *testing.T) {
	b := unreachableBridge(t)
	defer b.Close()

	tools, err := b.remoteTools(context.Background())
	assert.Error(t, err)
	assert.Nil(t, tools)

	// registerTools must not fail outright; the local default catalog
	// stands in for the unreachable daemon.
	b.registerTools(context.Background())
}

func TestConnectRespectsContextCancellation(t *testing.T) {
	b := New(Config{
		DaemonURL:     "http://127.0.0.1:1",
		RetryInterval: 50 * time.Millisecond,
		Timeout:       10 * time.Second,
		Version:       "test",
		Logger:        testutil.TestLogger(),
	})
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.connect(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
