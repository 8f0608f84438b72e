// Package mcp exposes the facade table over the Model Context Protocol.
//
// Every facade tool becomes one MCP tool whose handler funnels into the
// dispatch kernel, so MCP callers get the same envelopes, rate limits,
// and policy checks as HTTP callers.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/decibelsystems/decibel/internal/ctxutil"
	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/model"
)

// Server wraps the mcp-go server around the dispatch kernel.
type Server struct {
	mcpServer *mcpserver.MCPServer
	kernel    *kernel.Kernel
	table     *facade.Table
	logger    *slog.Logger

	// defaultRole applies when the transport did not attach a caller
	// context. Stdio injects trusted; HTTP injects at most agent.
	defaultRole model.CallerRole
}

// New creates an MCP server advertising the table at the given tier.
func New(k *kernel.Kernel, table *facade.Table, tier facade.Tier, version string, defaultRole model.CallerRole, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		kernel:      k,
		table:       table,
		logger:      logger,
		defaultRole: defaultRole,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"decibel",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools(tier)
	s.registerResources()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools(tier facade.Tier) {
	for _, tool := range s.table.MCPTools(tier) {
		name := tool.Name
		s.mcpServer.AddTool(tool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
			return s.handleCall(ctx, name, request)
		})
	}
}

func (s *Server) registerResources() {
	// decibel://records/recent mirrors the search facade's recent action
	// so resource-oriented clients can pull context without a tool call.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"decibel://records/recent",
			"Recent Records",
			mcplib.WithResourceDescription("Most recent project records across all kinds"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentResource,
	)
}

func (s *Server) handleCall(ctx context.Context, tool string, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	action := request.GetString("action", "")

	args, _ := request.GetArguments()["args"].(map[string]any)
	if args == nil {
		// Tolerate clients that flatten operation arguments into the
		// top-level object alongside "action".
		args = make(map[string]any)
		for k, v := range request.GetArguments() {
			if k != "action" {
				args[k] = v
			}
		}
	}

	caller := ctxutil.CallerFromContext(ctx)
	if caller.Role == "" {
		caller.Role = s.defaultRole
	}

	env := s.kernel.Dispatch(ctx, tool, action, args, caller)
	return envelopeResult(env), nil
}

func (s *Server) handleRecentResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	caller := ctxutil.CallerFromContext(ctx)
	if caller.Role == "" {
		caller.Role = s.defaultRole
	}

	env := s.kernel.Dispatch(ctx, "decibel_search", "recent", map[string]any{"limit": 20}, caller)
	if env.Status() != model.OutcomeExecuted {
		return nil, fmt.Errorf("mcp: recent records: %s", env.Code())
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal recent records: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "decibel://records/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// envelopeResult serializes an envelope into a tool result. Error
// envelopes set IsError so MCP clients surface them as failures while
// still carrying the structured body.
func envelopeResult(env model.Envelope) *mcplib.CallToolResult {
	data, err := json.Marshal(env)
	if err != nil {
		return mcplib.NewToolResultError(fmt.Sprintf(`{"status":"error","code":%q,"message":"envelope serialization failed"}`, model.ErrCodeExecutionError))
	}
	if env.Status() == model.OutcomeError {
		return mcplib.NewToolResultError(string(data))
	}
	return mcplib.NewToolResultText(string(data))
}
