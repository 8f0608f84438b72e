package kernel

import (
	"context"
	"fmt"
	"sort"
)

// HandlerFunc is one internal operation: structured input in, structured
// result or error out, no side effects on dispatch itself.
type HandlerFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry maps internal operation names to handlers. Populate it before
// constructing the kernel; it is read-only afterwards.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds an operation name to a handler. Duplicate names are a
// programming error.
func (r *Registry) Register(op string, fn HandlerFunc) error {
	if op == "" {
		return fmt.Errorf("kernel: register with empty operation name")
	}
	if fn == nil {
		return fmt.Errorf("kernel: nil handler for %q", op)
	}
	if _, dup := r.handlers[op]; dup {
		return fmt.Errorf("kernel: duplicate handler %q", op)
	}
	r.handlers[op] = fn
	return nil
}

// MustRegister is Register that panics on error, for static wiring.
func (r *Registry) MustRegister(op string, fn HandlerFunc) {
	if err := r.Register(op, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for op.
func (r *Registry) Lookup(op string) (HandlerFunc, bool) {
	fn, ok := r.handlers[op]
	return fn, ok
}

// Has reports whether op has a registered handler.
func (r *Registry) Has(op string) bool {
	_, ok := r.handlers[op]
	return ok
}

// Names returns all registered operation names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		names = append(names, op)
	}
	sort.Strings(names)
	return names
}
