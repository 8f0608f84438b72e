// Package bridge serves MCP over stdio and forwards every tool call to
// a remote daemon's streamable HTTP endpoint. Editors that can only
// spawn stdio servers get the daemon's shared state this way.
//
// The bridge never hangs on a dead daemon: connection attempts retry at
// a fixed interval under an overall budget, after which calls fail fast
// with an UNAVAILABLE envelope.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/model"
)

// Config holds the bridge's connection settings.
type Config struct {
	// DaemonURL is the remote daemon base URL, e.g. http://127.0.0.1:8765.
	DaemonURL string
	// AuthToken is sent as a bearer token when non-empty.
	AuthToken string
	// AgentID identifies this bridge's caller to the daemon.
	AgentID string
	// RetryInterval is the fixed delay between connect attempts.
	RetryInterval time.Duration
	// Timeout is the overall budget for reaching the daemon, both at
	// startup and per forwarded call.
	Timeout time.Duration
	// Tier selects the fallback catalog advertised when the daemon is
	// unreachable at startup.
	Tier facade.Tier

	Version string
	Logger  *slog.Logger
}

// Bridge is the stdio-facing proxy.
type Bridge struct {
	cfg       Config
	logger    *slog.Logger
	mcpServer *mcpserver.MCPServer

	mu     sync.Mutex
	client *mcpclient.Client
}

// New creates a bridge. Call Run to serve.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b := &Bridge{cfg: cfg, logger: cfg.Logger}
	b.mcpServer = mcpserver.NewMCPServer("decibel-bridge", cfg.Version,
		mcpserver.WithToolCapabilities(true),
	)
	return b
}

// MCPServer returns the underlying server for transport setup.
func (b *Bridge) MCPServer() *mcpserver.MCPServer {
	return b.mcpServer
}

// Run discovers the remote tool catalog, registers forwarding handlers,
// and serves MCP over the given streams until ctx ends.
func (b *Bridge) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	b.registerTools(ctx)
	return mcpserver.NewStdioServer(b.mcpServer).Listen(ctx, in, out)
}

// registerTools mirrors the remote catalog locally. When the daemon is
// unreachable inside the budget the default table at the configured
// tier stands in, so clients still see a catalog and calls surface
// UNAVAILABLE instead of a missing-tool error.
func (b *Bridge) registerTools(ctx context.Context) {
	tools, err := b.remoteTools(ctx)
	if err != nil {
		b.logger.Warn("bridge: daemon unreachable, advertising local catalog", "error", err)
		tools = facade.Default().MCPTools(b.cfg.Tier)
	}
	for _, tool := range tools {
		name := tool.Name
		b.mcpServer.AddTool(tool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
			return b.forward(ctx, name, request)
		})
	}
}

func (b *Bridge) remoteTools(ctx context.Context) ([]mcplib.Tool, error) {
	c, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	listCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	result, err := c.ListTools(listCtx, mcplib.ListToolsRequest{})
	if err != nil {
		b.dropClient(c)
		return nil, fmt.Errorf("bridge: list remote tools: %w", err)
	}
	return result.Tools, nil
}

// forward relays one tool call to the daemon. Transport failures close
// the cached client so the next call redials.
func (b *Bridge) forward(ctx context.Context, tool string, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	c, err := b.connect(ctx)
	if err != nil {
		return unavailableResult(err), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	request.Params.Name = tool
	result, err := c.CallTool(callCtx, request)
	if err != nil {
		b.dropClient(c)
		return unavailableResult(fmt.Errorf("bridge: forward %s: %w", tool, err)), nil
	}
	return result, nil
}

// connect returns a ready client, dialing with fixed-interval retries
// under the overall budget.
func (b *Bridge) connect(ctx context.Context) (*mcpclient.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}

	deadline := time.Now().Add(b.cfg.Timeout)
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			wait := b.cfg.RetryInterval
			if wait > remaining {
				wait = remaining
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		c, err := b.dial(ctx)
		if err != nil {
			lastErr = err
			b.logger.Debug("bridge: connect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		b.client = c
		b.logger.Info("bridge: connected", "daemon", b.cfg.DaemonURL)
		return c, nil
	}
	return nil, fmt.Errorf("bridge: daemon unreachable after %s: %w", b.cfg.Timeout, lastErr)
}

func (b *Bridge) dial(ctx context.Context) (*mcpclient.Client, error) {
	headers := map[string]string{}
	if b.cfg.AuthToken != "" {
		headers["Authorization"] = "Bearer " + b.cfg.AuthToken
	}
	if b.cfg.AgentID != "" {
		headers["X-Decibel-Agent-ID"] = b.cfg.AgentID
	}

	c, err := mcpclient.NewStreamableHttpClient(
		b.cfg.DaemonURL+"/mcp",
		mcptransport.WithHTTPHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("bridge: create client: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, b.cfg.RetryInterval)
	defer cancel()
	_, err = c.Initialize(initCtx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "decibel-bridge", Version: b.cfg.Version},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("bridge: initialize: %w", err)
	}
	return c, nil
}

func (b *Bridge) dropClient(c *mcpclient.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == c {
		_ = c.Close()
		b.client = nil
	}
}

// Close releases the cached daemon connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		err := b.client.Close()
		b.client = nil
		return err
	}
	return nil
}

func unavailableResult(err error) *mcplib.CallToolResult {
	env := model.ErrorEnvelope(model.ErrCodeUnavailable, err.Error())
	data, _ := json.Marshal(env)
	return mcplib.NewToolResultError(string(data))
}
