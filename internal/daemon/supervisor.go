// Package daemon runs the long-lived Decibel process: singleton lock,
// crash-loop refusal, transports, and the dispatch log.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/decibelsystems/decibel/internal/config"
	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/mcp"
	"github.com/decibelsystems/decibel/internal/model"
	"github.com/decibelsystems/decibel/internal/ops"
	"github.com/decibelsystems/decibel/internal/policy"
	"github.com/decibelsystems/decibel/internal/ratelimit"
	"github.com/decibelsystems/decibel/internal/server"
)

// ErrCrashLoop reports that the crash window tripped and the supervisor
// refused to start. Callers should exit zero so process managers stop
// respawning.
var ErrCrashLoop = errors.New("daemon: crash loop detected, refusing to start")

// Supervisor owns the daemon lifecycle.
type Supervisor struct {
	cfg     config.Config
	version string
	logger  *slog.Logger

	procLog *lumberjack.Logger
}

// NewSupervisor creates a supervisor for the given configuration.
func NewSupervisor(cfg config.Config, version string) *Supervisor {
	return &Supervisor{cfg: cfg, version: version}
}

// Logger returns the supervisor's process logger. Until the singleton
// lock is held it writes to stderr only, so a refused start never
// touches the live daemon's log file; Run upgrades it to a rotated file
// once preflight succeeds.
func (s *Supervisor) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr,
			&slog.HandlerOptions{Level: s.logLevel()}))
	}
	return s.logger
}

func (s *Supervisor) logLevel() slog.Level {
	if s.cfg.LogLevel == "debug" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// enableFileLog switches logging to stderr plus a rotated file. Only
// called once this process owns the PID lock.
func (s *Supervisor) enableFileLog() *slog.Logger {
	s.procLog = &lumberjack.Logger{
		Filename:   filepath.Join(s.cfg.LogDir(), "decibel.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		Compress:   true,
	}
	s.logger = slog.New(slog.NewJSONHandler(
		io.MultiWriter(os.Stderr, s.procLog),
		&slog.HandlerOptions{Level: s.logLevel()},
	))
	return s.logger
}

// preflight takes the singleton lock and records this start in the
// crash window. Returns the lock on success.
func (s *Supervisor) preflight() (*PIDLock, *CrashWindow, error) {
	if err := os.MkdirAll(s.cfg.LogDir(), 0o755); err != nil {
		return nil, nil, fmt.Errorf("daemon: create state dirs: %w", err)
	}

	window := NewCrashWindow(s.cfg.CrashHistoryFile(), s.cfg.CrashWindow, s.cfg.CrashThreshold, nil)
	tripped, err := window.RecordStart()
	if err != nil {
		return nil, nil, err
	}
	if tripped {
		return nil, nil, ErrCrashLoop
	}

	lock, err := AcquirePIDLock(s.cfg.PIDFile())
	if err != nil {
		return nil, nil, err
	}
	return lock, window, nil
}

// Run starts the daemon and blocks until ctx is cancelled or a
// transport fails.
func (s *Supervisor) Run(ctx context.Context) error {
	lock, window, err := s.preflight()
	if err != nil {
		return err
	}
	logger := s.enableFileLog()
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("pid lock release failed", "error", err)
		}
	}()

	store, err := ops.NewStore(s.cfg.StateDir(), nil)
	if err != nil {
		return err
	}
	registry := kernel.NewRegistry()
	if err := ops.RegisterAll(registry, store, s.version, time.Now()); err != nil {
		return err
	}

	dispatchLog, err := NewDispatchLog(DispatchLogConfig{
		Path:        s.cfg.DispatchLogFile(),
		MaxBytes:    s.cfg.DispatchLogMaxBytes,
		MaxFiles:    s.cfg.DispatchLogMaxFiles,
		FlushBytes:  s.cfg.DispatchFlushBytes,
		FlushIdle:   s.cfg.DispatchFlushIdle,
		RotateCheck: s.cfg.RotateCheckInterval,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = dispatchLog.Close() }()

	limits := ratelimit.Config{
		model.RoleTrusted: {},
		model.RoleAgent: {
			MaxPerMinute:  s.cfg.AgentMaxPerMinute,
			MaxConcurrent: s.cfg.AgentMaxConcurrent,
		},
		model.RoleUnknown: {
			MaxPerMinute:  s.cfg.UnknownMaxPerMinute,
			MaxConcurrent: s.cfg.UnknownMaxConcurrent,
		},
	}

	table := facade.Default()
	k, err := kernel.New(kernel.Config{
		Table:    table,
		Registry: registry,
		Limiter:  ratelimit.New(limits, nil),
		Policy:   kernel.PolicyFunc(policy.ReadOnlyForUnknown()),
		Observer: kernel.MultiObserver(dispatchLog, kernel.NewMetricsObserver()),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tier, err := facade.ParseTier(s.cfg.Tier)
	if err != nil {
		return err
	}
	mcpSrv := mcp.New(k, table, tier, s.version, model.RoleUnknown, logger)

	httpSrv := server.New(server.Config{
		Kernel:       k,
		Table:        table,
		Logger:       logger,
		MCPServer:    mcpSrv.MCPServer(),
		AuthToken:    s.cfg.AuthToken,
		Tier:         tier,
		Addr:         s.cfg.ListenAddr(),
		Version:      s.version,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	})

	logger.Info("daemon starting",
		"version", s.version,
		"addr", s.cfg.ListenAddr(),
		"tier", string(tier),
		"pid", lock.PID(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// After surviving the grace period the crash window resets, so a
	// later crash is counted from a clean slate.
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-time.After(s.cfg.HealthyAfter):
			if err := window.MarkHealthy(); err != nil {
				logger.Warn("mark healthy failed", "error", err)
			} else {
				logger.Info("daemon healthy", "after", s.cfg.HealthyAfter.String())
			}
			return nil
		}
	})

	// SIGUSR1 forces rotation of the dispatch and process logs.
	g.Go(func() error {
		usr1 := make(chan os.Signal, 1)
		signal.Notify(usr1, syscall.SIGUSR1)
		defer signal.Stop(usr1)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-usr1:
				logger.Info("rotation signal received")
				if err := dispatchLog.Rotate(); err != nil {
					logger.Error("dispatch log rotation failed", "error", err)
				}
				if err := s.procLog.Rotate(); err != nil {
					logger.Error("process log rotation failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("daemon stopped")
	return err
}
