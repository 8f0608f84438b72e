// Package policy implements the access gate consulted by the kernel
// before a handler runs. The default posture is permissive for
// identified callers and read-only for unidentified ones.
package policy

import (
	"context"

	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/model"
)

// AllowAll permits every call. Used by the stdio transport, whose single
// caller is the operator.
func AllowAll() func(ctx context.Context, op string, caller model.CallerContext) error {
	return func(context.Context, string, model.CallerContext) error { return nil }
}

// readOnlyOps are the operations an unidentified caller may invoke.
var readOnlyOps = map[string]bool{
	facade.OpSearchQuery:     true,
	facade.OpSearchRecent:    true,
	facade.OpExperimentCheck: true,
	facade.OpHealth:          true,
}

// ReadOnlyForUnknown rejects mutating operations from the unknown role.
// Trusted and agent callers pass through.
func ReadOnlyForUnknown() func(ctx context.Context, op string, caller model.CallerContext) error {
	return func(_ context.Context, op string, caller model.CallerContext) error {
		if caller.EffectiveRole() != model.RoleUnknown {
			return nil
		}
		if readOnlyOps[op] {
			return nil
		}
		return model.NewCodedError(model.ErrCodeAccessDenied,
			"operation %q requires an identified caller", op)
	}
}
