// Package ctxutil provides shared context key accessors.
//
// This package exists to break the circular dependency between the
// transports and the MCP tool layer: transports populate the caller
// context that MCP handlers read back out. Both sides import ctxutil
// instead of each other.
package ctxutil

import (
	"context"

	"github.com/decibelsystems/decibel/internal/model"
)

type contextKey string

const (
	keyCaller    contextKey = "caller"
	keyRequestID contextKey = "request_id"
)

// WithCaller returns a new context carrying the given caller identity.
func WithCaller(ctx context.Context, caller model.CallerContext) context.Context {
	return context.WithValue(ctx, keyCaller, caller)
}

// CallerFromContext extracts the caller identity from the context.
// Returns a zero CallerContext (least-trusted role) when absent.
func CallerFromContext(ctx context.Context) model.CallerContext {
	if v, ok := ctx.Value(keyCaller).(model.CallerContext); ok {
		return v
	}
	return model.CallerContext{}
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request ID from the context, or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
