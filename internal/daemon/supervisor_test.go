package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decibelsystems/decibel/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Root:                t.TempDir(),
		Host:                "127.0.0.1",
		Port:                0,
		Tier:                "full",
		CrashWindow:         2 * time.Minute,
		CrashThreshold:      3,
		HealthyAfter:        time.Hour,
		DispatchLogMaxBytes: 1 << 20,
		DispatchLogMaxFiles: 3,
	}
}

func TestPreflightAcquiresLock(t *testing.T) {
	cfg := testConfig(t)
	s := NewSupervisor(cfg, "test")

	lock, window, err := s.preflight()
	require.NoError(t, err)
	require.NotNil(t, window)
	t.Cleanup(func() { _ = lock.Release() })

	// A second supervisor on the same root loses the lock race.
	other := NewSupervisor(cfg, "test")
	_, _, err = other.preflight()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRefusedStartWritesNoProcessLog(t *testing.T) {
	cfg := testConfig(t)

	holder := NewSupervisor(cfg, "test")
	lock, _, err := holder.preflight()
	require.NoError(t, err)
	t.Cleanup(func() { _ = lock.Release() })

	other := NewSupervisor(cfg, "test")
	err = other.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	other.Logger().Error("daemon already running", "error", err)

	// Refusal diagnostics go to stderr only; the live daemon's log file
	// is never created or appended by the loser.
	_, statErr := os.Stat(filepath.Join(cfg.LogDir(), "decibel.log"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPreflightRefusesCrashLoop(t *testing.T) {
	cfg := testConfig(t)

	for i := 0; i < 3; i++ {
		s := NewSupervisor(cfg, "test")
		lock, _, err := s.preflight()
		require.NoError(t, err, "start %d", i)
		require.NoError(t, lock.Release())
	}

	s := NewSupervisor(cfg, "test")
	_, _, err := s.preflight()
	assert.ErrorIs(t, err, ErrCrashLoop)
}

func TestPreflightAfterMarkHealthy(t *testing.T) {
	cfg := testConfig(t)

	for i := 0; i < 4; i++ {
		s := NewSupervisor(cfg, "test")
		lock, window, err := s.preflight()
		require.NoError(t, err, "start %d", i)
		require.NoError(t, window.MarkHealthy())
		require.NoError(t, lock.Release())
	}

	// With the history cleared each run, starts past the threshold are fine.
	s := NewSupervisor(cfg, "test")
	lock, _, err := s.preflight()
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}
