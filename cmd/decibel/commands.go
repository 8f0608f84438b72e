package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/decibelsystems/decibel/internal/bridge"
	"github.com/decibelsystems/decibel/internal/config"
	"github.com/decibelsystems/decibel/internal/daemon"
	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/mcp"
	"github.com/decibelsystems/decibel/internal/model"
	"github.com/decibelsystems/decibel/internal/ops"
	"github.com/decibelsystems/decibel/internal/policy"
	"github.com/decibelsystems/decibel/internal/ratelimit"
	"github.com/decibelsystems/decibel/internal/stdio"
	"github.com/decibelsystems/decibel/internal/telemetry"
)

// newDaemonCmd runs the foreground supervisor: lock, crash window,
// HTTP + MCP transports, dispatch log.
func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the Decibel daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(flushCtx)
			}()

			sup := daemon.NewSupervisor(cfg, version)
			err = sup.Run(ctx)
			switch {
			case errors.Is(err, daemon.ErrCrashLoop):
				// Exit zero so process managers stop respawning.
				sup.Logger().Error("refusing to start", "error", err)
				return nil
			case errors.Is(err, daemon.ErrAlreadyRunning):
				// Exit non-zero: the caller asked for a daemon it did
				// not get.
				sup.Logger().Error("daemon already running", "error", err)
				return err
			}
			return err
		},
	}
}

// newServeCmd runs an in-process MCP server over stdio. The spawning
// client is the daemon's owner, so it gets the trusted role and is
// never rate limited.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio (trusted local pipe)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs go to stderr only.
			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

			store, err := ops.NewStore(cfg.StateDir(), nil)
			if err != nil {
				return err
			}
			registry := kernel.NewRegistry()
			if err := ops.RegisterAll(registry, store, version, time.Now()); err != nil {
				return err
			}
			k, err := kernel.New(kernel.Config{
				Table:    facade.Default(),
				Registry: registry,
				Limiter:  ratelimit.New(ratelimit.DefaultConfig(), nil),
				Policy:   kernel.PolicyFunc(policy.ReadOnlyForUnknown()),
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			tier, err := facade.ParseTier(cfg.Tier)
			if err != nil {
				return err
			}
			mcpSrv := mcp.New(k, facade.Default(), tier, version, model.RoleTrusted, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return stdio.Serve(ctx, mcpSrv.MCPServer(), os.Stdin, os.Stdout, logger)
		},
	}
}

// newBridgeCmd proxies stdio MCP to a running daemon over HTTP.
func newBridgeCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Proxy stdio MCP to a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

			tier, err := facade.ParseTier(cfg.Tier)
			if err != nil {
				return err
			}
			b := bridge.New(bridge.Config{
				DaemonURL:     cfg.DaemonURL,
				AuthToken:     cfg.AuthToken,
				AgentID:       agentID,
				RetryInterval: cfg.BridgeRetryInterval,
				Timeout:       cfg.BridgeTimeout,
				Tier:          tier,
				Version:       version,
				Logger:        logger,
			})
			defer func() { _ = b.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return b.Run(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent identity forwarded to the daemon")
	return cmd
}

// newToolsCmd prints the tool catalog at a tier.
func newToolsCmd() *cobra.Command {
	var tierFlag string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := facade.ParseTier(tierFlag)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(map[string]any{
				"tier":  string(tier),
				"tools": facade.Default().Describe(tier),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&tierFlag, "tier", "full", "Catalog tier: full, compact, or micro")
	return cmd
}
