package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/telemetry"
)

// DispatchLogConfig sizes the dispatch log buffer and its rotation.
type DispatchLogConfig struct {
	Path        string
	MaxBytes    int64         // active file size that triggers rotation
	MaxFiles    int           // retained generations beyond the active file
	FlushBytes  int           // buffered bytes that force a flush
	FlushIdle   time.Duration // max delay before an idle flush
	RotateCheck time.Duration // cadence of the size check

	Logger *slog.Logger
	Now    func() time.Time
}

// DispatchLog is a kernel observer that appends completed dispatch
// events to a JSONL file. Events buffer in memory so the dispatch path
// never waits on disk; the background loop flushes on size or idle and
// rotates the file with numbered generations (dispatch.log.1 newest).
type DispatchLog struct {
	cfg    DispatchLogConfig
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	buf bytes.Buffer

	// fileMu serializes flush writes and rotation.
	fileMu sync.Mutex

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
}

// NewDispatchLog creates the log and starts its flush loop.
func NewDispatchLog(cfg DispatchLogConfig) (*DispatchLog, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = 32 * 1024
	}
	if cfg.FlushIdle <= 0 {
		cfg.FlushIdle = 2 * time.Second
	}
	if cfg.RotateCheck <= 0 {
		cfg.RotateCheck = 30 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create log dir: %w", err)
	}

	d := &DispatchLog{
		cfg:     cfg,
		logger:  cfg.Logger,
		now:     cfg.Now,
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	d.registerMetrics()

	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancelLoop = cancel
	go d.flushLoop(loopCtx)

	return d, nil
}

// Observe implements kernel.Observer. Only completed dispatches are
// persisted; the dispatch-side event would double every line.
func (d *DispatchLog) Observe(ev kernel.Event) {
	if ev.Kind != kernel.KindResult && ev.Kind != kernel.KindError {
		return
	}
	line, err := json.Marshal(ev.Dispatch)
	if err != nil {
		d.logger.Error("dispatch log: marshal event", "error", err)
		return
	}

	d.mu.Lock()
	d.buf.Write(line)
	d.buf.WriteByte('\n')
	full := d.buf.Len() >= d.cfg.FlushBytes
	d.mu.Unlock()

	if full {
		select {
		case d.flushCh <- struct{}{}:
		default:
		}
	}
}

func (d *DispatchLog) flushLoop(ctx context.Context) {
	idle := time.NewTicker(d.cfg.FlushIdle)
	defer idle.Stop()
	rotate := time.NewTicker(d.cfg.RotateCheck)
	defer rotate.Stop()

	for {
		select {
		case <-ctx.Done():
			d.flush()
			close(d.done)
			return
		case <-d.flushCh:
			d.flush()
		case <-idle.C:
			d.flush()
		case <-rotate.C:
			d.flush()
			if err := d.rotateIfOversize(); err != nil {
				d.logger.Error("dispatch log: rotation check", "error", err)
			}
		}
	}
}

// flush appends the buffered lines to the active file. On write failure
// the batch is prepended back so the next flush retries it.
func (d *DispatchLog) flush() {
	d.mu.Lock()
	if d.buf.Len() == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]byte, d.buf.Len())
	copy(batch, d.buf.Bytes())
	d.buf.Reset()
	d.mu.Unlock()

	d.fileMu.Lock()
	err := appendFile(d.cfg.Path, batch)
	d.fileMu.Unlock()

	if err != nil {
		d.logger.Error("dispatch log: flush failed", "error", err, "batch_bytes", len(batch))
		d.mu.Lock()
		rest := make([]byte, d.buf.Len())
		copy(rest, d.buf.Bytes())
		d.buf.Reset()
		d.buf.Write(batch)
		d.buf.Write(rest)
		d.mu.Unlock()
	}
}

func (d *DispatchLog) rotateIfOversize() error {
	info, err := os.Stat(d.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < d.cfg.MaxBytes {
		return nil
	}
	return d.Rotate()
}

// Rotate shifts generations and starts a fresh active file. The oldest
// generation beyond MaxFiles is dropped.
func (d *DispatchLog) Rotate() error {
	d.fileMu.Lock()
	defer d.fileMu.Unlock()

	oldest := fmt.Sprintf("%s.%d", d.cfg.Path, d.cfg.MaxFiles)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: drop oldest dispatch log: %w", err)
	}
	for i := d.cfg.MaxFiles - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", d.cfg.Path, i)
		to := fmt.Sprintf("%s.%d", d.cfg.Path, i+1)
		if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("daemon: shift dispatch log generation: %w", err)
		}
	}
	if err := os.Rename(d.cfg.Path, d.cfg.Path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: rotate dispatch log: %w", err)
	}
	d.logger.Info("dispatch log rotated", "path", d.cfg.Path)
	return nil
}

// Close stops the flush loop after one final flush. Pending lines reach
// disk; no fsync is forced.
func (d *DispatchLog) Close() error {
	d.cancelLoop()
	select {
	case <-d.done:
	case <-time.After(10 * time.Second):
		d.logger.Warn("dispatch log: close timed out waiting for flush loop")
	}
	return nil
}

// BufferedBytes returns the current in-memory backlog.
func (d *DispatchLog) BufferedBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Len()
}

func (d *DispatchLog) registerMetrics() {
	meter := telemetry.Meter("decibel/dispatchlog")
	_, _ = meter.Int64ObservableGauge("decibel.dispatchlog.buffered_bytes",
		metric.WithDescription("Bytes buffered in memory awaiting flush"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(d.BufferedBytes()))
			return nil
		}),
	)
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
