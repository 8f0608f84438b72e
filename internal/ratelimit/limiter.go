package ratelimit

import (
	"sync"
	"time"

	"github.com/decibelsystems/decibel/internal/model"
)

// bucket is the mutable state for one caller role.
type bucket struct {
	window     []time.Time // request-start timestamps, oldest first
	concurrent int
}

// Limiter arbitrates calls per caller role. Safe for concurrent use.
// State is in-memory only and resets on restart.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[model.CallerRole]*bucket
}

// New creates a limiter with the given quotas. The now function is
// injected so tests can drive the sliding window deterministically; pass
// nil for time.Now.
func New(cfg Config, now func() time.Time) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		cfg:     cfg,
		now:     now,
		buckets: make(map[model.CallerRole]*bucket),
	}
}

// Check prunes timestamps older than the window and reports whether a new
// call for role may start. It does not mutate counters; callers that get
// an allowed decision must follow with RecordStart.
func (l *Limiter) Check(role model.CallerRole) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(role)
}

// Acquire is Check plus RecordStart under one lock, so two concurrent
// callers cannot both pass the same last slot. Every allowed Acquire must
// be paired with a Release.
func (l *Limiter) Acquire(role model.CallerRole) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.checkLocked(role)
	if d.Allowed {
		l.recordStartLocked(role)
	}
	return d
}

// RecordStart appends a request-start timestamp and increments the
// concurrency counter. Must follow an allowed Check.
func (l *Limiter) RecordStart(role model.CallerRole) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordStartLocked(role)
}

// Release decrements the concurrency counter, clamped at zero so repeated
// releases never drive it negative.
func (l *Limiter) Release(role model.CallerRole) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(role)
	if b.concurrent > 0 {
		b.concurrent--
	}
}

// Concurrent returns the live concurrency count for role.
func (l *Limiter) Concurrent(role model.CallerRole) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bucketFor(role).concurrent
}

func (l *Limiter) checkLocked(role model.CallerRole) Decision {
	b := l.bucketFor(role)
	now := l.now()
	b.window = prune(b.window, now.Add(-Window))

	limits := l.cfg[role]

	if limits.MaxConcurrent > 0 && b.concurrent >= limits.MaxConcurrent {
		return Decision{RetryAfter: concurrencyRetryAfter}
	}
	if limits.MaxPerMinute > 0 && len(b.window) >= limits.MaxPerMinute {
		// The oldest in-window request ageing out is what frees a slot.
		retry := b.window[0].Add(Window).Sub(now)
		if retry <= 0 {
			retry = time.Millisecond
		}
		return Decision{RetryAfter: retry}
	}
	return Decision{Allowed: true}
}

func (l *Limiter) recordStartLocked(role model.CallerRole) {
	b := l.bucketFor(role)
	b.window = append(b.window, l.now())
	b.concurrent++
}

func (l *Limiter) bucketFor(role model.CallerRole) *bucket {
	b, ok := l.buckets[role]
	if !ok {
		b = &bucket{}
		l.buckets[role] = b
	}
	return b
}

// prune drops timestamps at or before cutoff, preserving order.
func prune(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}
