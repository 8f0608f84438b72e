// Package testutil provides shared test infrastructure: a quiet logger
// and a manually-driven clock for code that takes an injected now func.
package testutil

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// Clock is a fake clock. Pass its Now method wherever a now func is
// injected and call Advance to move time forward.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock creates a clock frozen at t.
func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
