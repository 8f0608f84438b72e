// Package decibel is the public API for embedding the Decibel tool
// server inside another Go program.
//
// Host applications construct an App, optionally extend the tool
// surface, and serve it over the transport they control:
//
//	app, err := decibel.New(
//	    decibel.WithRoot(dir),
//	    decibel.WithLogger(logger),
//	    decibel.WithTool(myTool, myHandlers),
//	)
//	if err != nil { ... }
//	if err := app.ServeHTTP(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: decibel (root)
// imports internal/*, but internal/* never imports the root. Exported
// types here are standalone so embedders never touch internal packages.
// The singleton lock and crash window belong to the decibel binary, not
// to embedded use; hosts own their own process lifecycle.
package decibel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/decibelsystems/decibel/internal/config"
	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/mcp"
	"github.com/decibelsystems/decibel/internal/model"
	"github.com/decibelsystems/decibel/internal/ops"
	"github.com/decibelsystems/decibel/internal/policy"
	"github.com/decibelsystems/decibel/internal/ratelimit"
	"github.com/decibelsystems/decibel/internal/server"
	"github.com/decibelsystems/decibel/internal/stdio"
)

// HandlerFunc is a tool operation implementation supplied by the host.
type HandlerFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool declares an additional facade for the app's tool surface.
type Tool struct {
	Name          string
	Description   string // full-tier description
	Summary       string // one-line description for compact and micro tiers
	MicroEligible bool

	// Actions maps action names to internal operation names. Each
	// operation must have a handler registered via WithTool's handlers
	// argument or WithHandler.
	Actions map[string]string

	// ActionHelp optionally documents individual actions.
	ActionHelp map[string]string
}

// Caller identifies who is making an embedded call.
type Caller struct {
	Role    string // "trusted", "agent", or "unknown"
	AgentID string
	RunID   string
}

// Result is the normalized call envelope: "status" is "executed" or
// "error"; error results carry "code" and "message".
type Result map[string]any

// App is an embeddable Decibel instance.
type App struct {
	cfg     config.Config
	cfgSet  bool
	version string
	logger  *slog.Logger

	extraTools    []facade.Spec
	extraHandlers map[string]HandlerFunc

	table  *facade.Table
	kernel *kernel.Kernel
}

// New constructs an App. Configuration comes from the environment
// unless overridden by options.
func New(opts ...Option) (*App, error) {
	a := &App{
		version:       "dev",
		extraHandlers: make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	if !a.cfgSet {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		a.cfg = cfg
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	store, err := ops.NewStore(a.cfg.StateDir(), nil)
	if err != nil {
		return nil, err
	}
	registry := kernel.NewRegistry()
	if err := ops.RegisterAll(registry, store, a.version, time.Now()); err != nil {
		return nil, err
	}
	for op, fn := range a.extraHandlers {
		if err := registry.Register(op, kernel.HandlerFunc(fn)); err != nil {
			return nil, err
		}
	}

	specs := append(facade.Default().Specs(), a.extraTools...)
	table, err := facade.NewTable(specs)
	if err != nil {
		return nil, err
	}
	a.table = table

	a.kernel, err = kernel.New(kernel.Config{
		Table:    table,
		Registry: registry,
		Limiter:  ratelimit.New(ratelimit.DefaultConfig(), nil),
		Policy:   kernel.PolicyFunc(policy.ReadOnlyForUnknown()),
		Logger:   a.logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Call dispatches one tool call in process and returns its envelope.
func (a *App) Call(ctx context.Context, tool, action string, args map[string]any, caller Caller) Result {
	env := a.kernel.Dispatch(ctx, tool, action, args, model.CallerContext{
		Role:    model.CallerRole(caller.Role),
		AgentID: caller.AgentID,
		RunID:   caller.RunID,
	})
	return Result(env)
}

// Tools returns the advertised catalog at the given tier.
func (a *App) Tools(tier string) ([]ToolInfo, error) {
	parsed, err := facade.ParseTier(tier)
	if err != nil {
		return nil, err
	}
	var out []ToolInfo
	for _, d := range a.table.Describe(parsed) {
		out = append(out, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			Actions:     d.Actions,
		})
	}
	return out, nil
}

// ToolInfo is one catalog entry.
type ToolInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Actions     []string `json:"actions,omitempty"`
}

// ServeStdio serves MCP over the given streams. Stdio callers hold the
// trusted role.
func (a *App) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	tier, err := facade.ParseTier(a.cfg.Tier)
	if err != nil {
		return err
	}
	srv := mcp.New(a.kernel, a.table, tier, a.version, model.RoleTrusted, a.logger)
	return stdio.Serve(ctx, srv.MCPServer(), in, out, a.logger)
}

// ServeHTTP runs the HTTP transport (including /mcp) until ctx ends.
func (a *App) ServeHTTP(ctx context.Context) error {
	tier, err := facade.ParseTier(a.cfg.Tier)
	if err != nil {
		return err
	}
	mcpSrv := mcp.New(a.kernel, a.table, tier, a.version, model.RoleUnknown, a.logger)
	httpSrv := server.New(server.Config{
		Kernel:       a.kernel,
		Table:        a.table,
		Logger:       a.logger,
		MCPServer:    mcpSrv.MCPServer(),
		AuthToken:    a.cfg.AuthToken,
		Tier:         tier,
		Addr:         a.cfg.ListenAddr(),
		Version:      a.version,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Start() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("decibel: http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
