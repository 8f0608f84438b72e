// Package kernel resolves tool calls to handlers and runs them through
// the rate limiter and policy gate, normalizing every outcome into one
// response envelope.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/model"
	"github.com/decibelsystems/decibel/internal/ratelimit"
	"github.com/decibelsystems/decibel/internal/telemetry"
)

var tracer = telemetry.Tracer("decibel/kernel")

// Policy is the gate consulted after rate limiting and before the
// handler runs. Returning a CodedError with ACCESS_DENIED rejects the
// call; any other error is treated the same way with its message kept.
type Policy interface {
	Allow(ctx context.Context, op string, caller model.CallerContext) error
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(ctx context.Context, op string, caller model.CallerContext) error

// Allow calls f.
func (f PolicyFunc) Allow(ctx context.Context, op string, caller model.CallerContext) error {
	return f(ctx, op, caller)
}

// Config carries the kernel's collaborators. Table and Registry are
// required; the rest default to no-ops so tests can run isolated kernel
// instances without process-global state.
type Config struct {
	Table    *facade.Table
	Registry *Registry
	Limiter  *ratelimit.Limiter
	Policy   Policy
	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Kernel is the dispatch core. Construct with New; safe for concurrent
// use. The kernel never serializes handler execution; the rate limiter's
// concurrency gate is the only bound.
type Kernel struct {
	table    *facade.Table
	registry *Registry
	limiter  *ratelimit.Limiter
	policy   Policy
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a kernel and verifies that every operation the facade table
// maps to has a registered handler, so no mapping can dangle at runtime.
func New(cfg Config) (*Kernel, error) {
	if cfg.Table == nil {
		return nil, fmt.Errorf("kernel: facade table is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("kernel: handler registry is required")
	}
	if err := cfg.Table.Validate(cfg.Registry.Has); err != nil {
		return nil, err
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.DefaultConfig(), cfg.Now)
	}
	if cfg.Policy == nil {
		cfg.Policy = PolicyFunc(func(context.Context, string, model.CallerContext) error { return nil })
	}
	if cfg.Observer == nil {
		cfg.Observer = ObserverFunc(func(Event) {})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	k := &Kernel{
		table:    cfg.Table,
		registry: cfg.Registry,
		limiter:  cfg.Limiter,
		policy:   cfg.Policy,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}

	return k, nil
}

// Table returns the facade table for transport-side tool listings.
func (k *Kernel) Table() *facade.Table {
	return k.table
}

// DescribeTools renders the tool listing at the requested detail tier.
func (k *Kernel) DescribeTools(tier facade.Tier) []facade.ToolDescription {
	return k.table.Describe(tier)
}

// Dispatch resolves (tool, action) to a handler, applies the rate
// limiter and policy gate, runs the handler, and returns the normalized
// envelope. It never returns a Go error: every failure mode is an error
// envelope with a taxonomy code. The kernel applies no retry policy.
func (k *Kernel) Dispatch(ctx context.Context, tool, action string, args map[string]any, caller model.CallerContext) model.Envelope {
	start := k.now()
	role := caller.EffectiveRole()

	ev := model.DispatchEvent{
		TS:         start,
		RequestID:  uuid.NewString(),
		Tool:       tool,
		Action:     action,
		CallerRole: role,
		AgentID:    caller.AgentID,
		RunID:      caller.RunID,
	}

	op, err := k.table.Resolve(tool, action)
	if err != nil {
		return k.finish(ctx, ev, model.FromError(err))
	}
	ev.Operation = op

	handler, ok := k.registry.Lookup(op)
	if !ok {
		// Unreachable when the table was validated at construction, but a
		// hand-built table bypassing New must still fail closed.
		return k.finish(ctx, ev, model.ErrorEnvelope(model.ErrCodeUnknownTool,
			fmt.Sprintf("operation %q has no handler", op)))
	}

	if d := k.limiter.Acquire(role); !d.Allowed {
		env := model.ErrorEnvelope(model.ErrCodeRateLimited,
			fmt.Sprintf("role %q is over quota", role))
		env["retry_after_ms"] = d.RetryAfterMs()
		return k.finish(ctx, ev, env)
	}
	// The slot is held from here on; release exactly once, even if the
	// handler panics.
	defer k.limiter.Release(role)

	if err := k.policy.Allow(ctx, op, caller); err != nil {
		return k.finish(ctx, ev, denialEnvelope(err))
	}

	k.observer.Observe(Event{Kind: KindDispatch, Dispatch: ev})

	ctx, span := tracer.Start(ctx, "dispatch "+op,
		oteltrace.WithAttributes(
			attribute.String("decibel.operation", op),
			attribute.String("decibel.caller_role", string(role))))
	result, err := k.invoke(ctx, handler, args)
	span.End()

	switch {
	case err != nil:
		return k.finish(ctx, ev, model.FromError(err))
	case model.IsErrorShape(result):
		// The handler returned a ready-made error shape; pass it through
		// as the error envelope.
		return k.finish(ctx, ev, model.Envelope(result))
	default:
		return k.finish(ctx, ev, model.Executed(result))
	}
}

// invoke runs the handler, converting a panic into EXECUTION_ERROR so a
// misbehaving handler cannot take the daemon down.
func (k *Kernel) invoke(ctx context.Context, handler HandlerFunc, args map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("handler panic", "panic", r)
			err = model.NewCodedError(model.ErrCodeExecutionError, "handler panic: %v", r)
		}
	}()
	return handler(ctx, args)
}

// finish stamps the outcome on the event, emits it, and returns the
// envelope. Emission is synchronous: the event exists before the
// response returns to the transport.
func (k *Kernel) finish(ctx context.Context, ev model.DispatchEvent, env model.Envelope) model.Envelope {
	ev.DurationMs = k.now().Sub(ev.TS).Milliseconds()
	ev.Outcome = env.Status()
	ev.ErrorCode = env.Code()

	kind := KindResult
	if ev.Outcome == model.OutcomeError {
		kind = KindError
	}
	k.observer.Observe(Event{Kind: kind, Dispatch: ev})

	level := slog.LevelDebug
	if ev.Outcome == model.OutcomeError {
		level = slog.LevelWarn
	}
	k.logger.Log(ctx, level, "dispatch",
		"operation", ev.Operation,
		"tool", ev.Tool,
		"action", ev.Action,
		"caller_role", ev.CallerRole,
		"outcome", ev.Outcome,
		"error_code", ev.ErrorCode,
		"duration_ms", ev.DurationMs,
	)

	return env
}

// denialEnvelope keeps a CodedError's code and maps any other policy
// error to ACCESS_DENIED.
func denialEnvelope(err error) model.Envelope {
	env := model.FromError(err)
	if env.Code() == model.ErrCodeExecutionError {
		env = model.ErrorEnvelope(model.ErrCodeAccessDenied, err.Error())
	}
	return env
}
