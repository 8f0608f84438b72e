package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/model"
	"github.com/decibelsystems/decibel/internal/testutil"
)

func newTestDispatchLog(t *testing.T, cfg DispatchLogConfig) *DispatchLog {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "dispatch.log")
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 1 << 20
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = 3
	}
	cfg.Logger = testutil.TestLogger()
	d, err := NewDispatchLog(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func resultEvent(tool string) kernel.Event {
	return kernel.Event{
		Kind: kernel.KindResult,
		Dispatch: model.DispatchEvent{
			RequestID: "req-1",
			Tool:      tool,
			Action:    "log_issue",
			Operation: "issue_log",
			Outcome:   model.OutcomeExecuted,
		},
	}
}

func TestDispatchLogFlushOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.log")
	d := newTestDispatchLog(t, DispatchLogConfig{
		Path:      path,
		FlushIdle: time.Hour, // only Close should flush
	})

	d.Observe(resultEvent("decibel_record"))
	require.NoError(t, d.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool":"decibel_record"`)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestDispatchLogIgnoresDispatchKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.log")
	d := newTestDispatchLog(t, DispatchLogConfig{Path: path, FlushIdle: time.Hour})

	d.Observe(kernel.Event{Kind: kernel.KindDispatch})
	assert.Zero(t, d.BufferedBytes())
}

func TestDispatchLogSizeTriggeredFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.log")
	d := newTestDispatchLog(t, DispatchLogConfig{
		Path:       path,
		FlushBytes: 64, // tiny, first event exceeds it
		FlushIdle:  time.Hour,
	})

	d.Observe(resultEvent("decibel_record"))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && len(data) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchLogRotatesWhenOversize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.log")
	d := newTestDispatchLog(t, DispatchLogConfig{
		Path:        path,
		MaxBytes:    1, // any flushed line is oversize
		MaxFiles:    2,
		FlushBytes:  1,
		FlushIdle:   5 * time.Millisecond,
		RotateCheck: 5 * time.Millisecond,
	})

	d.Observe(resultEvent("decibel_record"))

	// The periodic size check flushes the line and then rotates it out.
	require.Eventually(t, func() bool {
		_, err := os.Stat(path + ".1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	rotated, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Contains(t, string(rotated), `"tool":"decibel_record"`)

	// Nothing else was written, so a fresh active file has not appeared.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// The next event lands in a new active file, not the old generation.
	d.Observe(resultEvent("decibel_search"))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			data, err = os.ReadFile(path + ".1")
		}
		return err == nil && strings.Contains(string(data), `"tool":"decibel_search"`)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchLogRotationKeepsBoundedGenerations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.log")
	d := newTestDispatchLog(t, DispatchLogConfig{
		Path:      path,
		MaxFiles:  2,
		FlushIdle: time.Hour,
	})

	// Build four generations; only .1 and .2 may survive.
	for i := 0; i < 4; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("gen-%d\n", i)), 0o644))
		require.NoError(t, d.Rotate())
	}

	first, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "gen-3\n", string(first))

	second, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "gen-2\n", string(second))

	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDispatchLogObserveNeverBlocksOnDisk(t *testing.T) {
	d := newTestDispatchLog(t, DispatchLogConfig{
		FlushBytes: 1 << 20,
		FlushIdle:  time.Hour,
	})

	start := time.Now()
	for i := 0; i < 1000; i++ {
		d.Observe(resultEvent("decibel_record"))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Positive(t, d.BufferedBytes())
}
