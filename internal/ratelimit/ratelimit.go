// Package ratelimit provides per-caller-role request arbitration.
//
// Each role gets one bucket: a sliding one-minute window of request-start
// timestamps plus a live concurrency counter. Automated callers are
// more concurrency-restricted than rate-restricted: the dangerous
// pattern is many parallel automated calls, not a single burst. The
// trusted role has unlimited quotas; its bucket does bookkeeping only.
package ratelimit

import (
	"time"

	"github.com/decibelsystems/decibel/internal/model"
)

// Window is the sliding window over which per-minute quotas apply.
const Window = time.Minute

// concurrencyRetryAfter is the advised retry delay when the rejection was
// caused by the concurrency gate rather than the per-minute window. Slots
// free as soon as in-flight calls finish, so the advice is short.
const concurrencyRetryAfter = time.Second

// Limits is the quota pair for one role. A zero value means unlimited.
type Limits struct {
	MaxPerMinute  int
	MaxConcurrent int
}

// Config maps each caller role to its quota. Roles absent from the map
// are unlimited.
type Config map[model.CallerRole]Limits

// DefaultConfig returns the built-in quotas: trusted unlimited, agent and
// unknown bounded, with concurrency tighter than rate.
func DefaultConfig() Config {
	return Config{
		model.RoleTrusted: {},
		model.RoleAgent:   {MaxPerMinute: 120, MaxConcurrent: 8},
		model.RoleUnknown: {MaxPerMinute: 30, MaxConcurrent: 2},
	}
}

// Decision is the outcome of a quota check. RetryAfter is populated only
// on rejection and is always in (0, Window].
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterMs returns the advised retry delay in milliseconds.
func (d Decision) RetryAfterMs() int64 {
	return d.RetryAfter.Milliseconds()
}
