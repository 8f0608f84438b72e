package decibel

import (
	"fmt"
	"log/slog"

	"github.com/decibelsystems/decibel/internal/config"
	"github.com/decibelsystems/decibel/internal/facade"
)

// Option configures an App during construction.
type Option func(*App) error

// WithVersion sets the version string reported by the health operation
// and the MCP server info.
func WithVersion(v string) Option {
	return func(a *App) error {
		a.version = v
		return nil
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithRoot sets the project root directory holding the app's state.
func WithRoot(root string) Option {
	return func(a *App) error {
		cfg, err := a.loadConfig()
		if err != nil {
			return err
		}
		cfg.Root = root
		return nil
	}
}

// WithTier sets the advertised catalog tier: full, compact, or micro.
func WithTier(tier string) Option {
	return func(a *App) error {
		if _, err := facade.ParseTier(tier); err != nil {
			return err
		}
		cfg, err := a.loadConfig()
		if err != nil {
			return err
		}
		cfg.Tier = tier
		return nil
	}
}

// WithAuthToken sets the shared secret required on the HTTP transport.
func WithAuthToken(token string) Option {
	return func(a *App) error {
		cfg, err := a.loadConfig()
		if err != nil {
			return err
		}
		cfg.AuthToken = token
		return nil
	}
}

// loadConfig materializes the environment configuration once so option
// setters can layer on top of it.
func (a *App) loadConfig() (*config.Config, error) {
	if !a.cfgSet {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		a.cfg = cfg
		a.cfgSet = true
	}
	return &a.cfg, nil
}

// WithTool adds a facade to the tool surface. The handlers map binds
// each internal operation the tool's actions reference.
func WithTool(tool Tool, handlers map[string]HandlerFunc) Option {
	return func(a *App) error {
		if tool.Name == "" {
			return fmt.Errorf("decibel: tool name is required")
		}
		a.extraTools = append(a.extraTools, facade.Spec{
			Name:          tool.Name,
			Full:          tool.Description,
			Compact:       tool.Summary,
			MicroEligible: tool.MicroEligible,
			Actions:       tool.Actions,
			ActionHelp:    tool.ActionHelp,
		})
		for op, fn := range handlers {
			if _, dup := a.extraHandlers[op]; dup {
				return fmt.Errorf("decibel: duplicate handler for operation %q", op)
			}
			a.extraHandlers[op] = fn
		}
		return nil
	}
}

// WithHandler binds one internal operation without declaring a new
// facade, for overlaying actions onto tools added earlier.
func WithHandler(operation string, fn HandlerFunc) Option {
	return func(a *App) error {
		if _, dup := a.extraHandlers[operation]; dup {
			return fmt.Errorf("decibel: duplicate handler for operation %q", operation)
		}
		a.extraHandlers[operation] = fn
		return nil
	}
}
