// Package model defines the shared types of the dispatch core: caller
// identity, dispatch events, error codes, and the response envelope.
package model

import "time"

// CallerRole classifies the trust level of a caller. It drives rate-limit
// bucket selection and policy decisions only.
type CallerRole string

const (
	// RoleTrusted is the operator's own process (stdio, local CLI).
	// Trusted callers have unlimited rate-limit quotas.
	RoleTrusted CallerRole = "trusted"
	// RoleAgent is an identified automated caller.
	RoleAgent CallerRole = "agent"
	// RoleUnknown is any caller that did not identify itself. It is the
	// default and the least-trusted classification.
	RoleUnknown CallerRole = "unknown"
)

// ValidRole reports whether r is one of the known caller roles.
func ValidRole(r CallerRole) bool {
	switch r {
	case RoleTrusted, RoleAgent, RoleUnknown:
		return true
	}
	return false
}

// CallerContext identifies one call's origin. It is built per call and
// never persisted.
type CallerContext struct {
	Role    CallerRole `json:"role,omitempty"`
	AgentID string     `json:"agent_id,omitempty"`
	RunID   string     `json:"run_id,omitempty"`
}

// EffectiveRole returns the caller's role, defaulting to the least-trusted
// classification when unset or unrecognized.
func (c CallerContext) EffectiveRole() CallerRole {
	if ValidRole(c.Role) {
		return c.Role
	}
	return RoleUnknown
}

// Outcome is the terminal status of one dispatched call.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeError    Outcome = "error"
)

// DispatchEvent is the immutable audit record of one kernel call. It is
// emitted synchronously before the response returns and consumed
// asynchronously by the dispatch log.
type DispatchEvent struct {
	TS         time.Time  `json:"ts"`
	RequestID  string     `json:"request_id"`
	Tool       string     `json:"tool"`
	Action     string     `json:"action,omitempty"`
	Operation  string     `json:"operation"`
	CallerRole CallerRole `json:"caller_role"`
	AgentID    string     `json:"agent_id,omitempty"`
	RunID      string     `json:"run_id,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Outcome    Outcome    `json:"outcome"`
	ErrorCode  string     `json:"error_code,omitempty"`
}
