// Package server implements the daemon's HTTP surface: the generic
// dispatch endpoint, REST aliases for common record writes, the tool
// catalog, and the MCP streamable transport.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/decibelsystems/decibel/internal/ctxutil"
	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/model"
)

// Server is the Decibel daemon HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds the dependencies and settings for creating a Server.
type Config struct {
	Kernel *kernel.Kernel
	Table  *facade.Table
	Logger *slog.Logger

	// MCPServer enables the /mcp streamable transport when non-nil.
	MCPServer *mcpserver.MCPServer

	// AuthToken, when non-empty, requires a matching bearer token on
	// every route except /health.
	AuthToken string

	// Tier is the default catalog tier for GET /tools.
	Tier facade.Tier

	Addr         string
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates the HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := &handlers{
		kernel:  cfg.Kernel,
		table:   cfg.Table,
		logger:  cfg.Logger,
		tier:    cfg.Tier,
		version: cfg.Version,
	}

	mux := http.NewServeMux()

	// Health (no auth).
	mux.HandleFunc("GET /health", h.handleHealth)

	// Tool catalog at any tier.
	mux.HandleFunc("GET /tools", h.handleTools)

	// Generic dispatch.
	mux.HandleFunc("POST /call", h.handleCall)

	// REST aliases for the common record writes and reads. Each alias
	// is sugar over the same facade dispatch, so limits and policy
	// apply identically.
	mux.Handle("POST /v1/decisions", h.aliasAppend("record_decision"))
	mux.Handle("POST /v1/issues", h.aliasAppend("log_issue"))
	mux.Handle("POST /v1/wishes", h.aliasAppend("add_wish"))
	mux.Handle("POST /v1/frictions", h.aliasAppend("log_friction"))
	mux.Handle("POST /v1/crits", h.aliasAppend("log_crit"))
	mux.Handle("POST /v1/learnings", h.aliasAppend("record_learning"))
	mux.HandleFunc("GET /v1/search", h.handleSearchAlias)
	mux.HandleFunc("GET /v1/recent", h.handleRecentAlias)

	// MCP StreamableHTTP transport. The context func maps transport
	// headers onto the caller identity before the MCP layer runs.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer,
			mcpserver.WithHTTPContextFunc(callerFromHeaders),
		)
		mux.Handle("/mcp", mcpHTTP)
	}

	// JSON 404 for everything else.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeUnknownTool,
			fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})

	// Middleware chain (outermost executes first):
	// request ID → CORS → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.AuthToken, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = corsMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// callerFromHeaders builds the caller identity for MCP-over-HTTP calls.
// HTTP callers never exceed the agent role; trusted is reserved for the
// local stdio pipe.
func callerFromHeaders(ctx context.Context, r *http.Request) context.Context {
	caller := model.CallerContext{
		Role:    model.RoleUnknown,
		AgentID: r.Header.Get("X-Decibel-Agent-ID"),
		RunID:   r.Header.Get("X-Decibel-Run-ID"),
	}
	if caller.AgentID != "" {
		caller.Role = model.RoleAgent
	}
	return ctxutil.WithCaller(ctx, caller)
}
