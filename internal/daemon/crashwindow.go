package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CrashWindow tracks recent daemon starts in a JSON state file. A burst
// of starts inside the window means the process keeps dying early; the
// supervisor then refuses to start rather than loop forever under a
// process manager.
type CrashWindow struct {
	path      string
	window    time.Duration
	threshold int
	now       func() time.Time
}

// NewCrashWindow creates a tracker persisting to path.
func NewCrashWindow(path string, window time.Duration, threshold int, now func() time.Time) *CrashWindow {
	if now == nil {
		now = time.Now
	}
	return &CrashWindow{path: path, window: window, threshold: threshold, now: now}
}

// RecordStart appends the current start, prunes entries outside the
// window, and reports whether the threshold is now exceeded.
func (w *CrashWindow) RecordStart() (tripped bool, err error) {
	starts, err := w.load()
	if err != nil {
		return false, err
	}

	cutoff := w.now().Add(-w.window)
	kept := starts[:0]
	for _, t := range starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, w.now())

	if err := w.save(kept); err != nil {
		return false, err
	}
	// threshold starts are tolerated; one more trips refusal.
	return len(kept) > w.threshold, nil
}

// MarkHealthy clears the start history. Called once the process has
// survived long enough to count as a stable run.
func (w *CrashWindow) MarkHealthy() error {
	return w.save(nil)
}

func (w *CrashWindow) load() ([]time.Time, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("daemon: read crash window: %w", err)
	}
	var starts []time.Time
	if err := json.Unmarshal(data, &starts); err != nil {
		// Corrupt state resets the window rather than blocking startup.
		return nil, nil
	}
	return starts, nil
}

func (w *CrashWindow) save(starts []time.Time) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("daemon: create state dir: %w", err)
	}
	if starts == nil {
		starts = []time.Time{}
	}
	data, err := json.Marshal(starts)
	if err != nil {
		return fmt.Errorf("daemon: marshal crash window: %w", err)
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("daemon: write crash window: %w", err)
	}
	return nil
}
