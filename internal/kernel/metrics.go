package kernel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/decibelsystems/decibel/internal/telemetry"
)

// NewMetricsObserver returns an observer recording a dispatch counter
// and latency histogram for completed calls. Instruments are no-ops
// until the global meter provider is configured.
func NewMetricsObserver() Observer {
	meter := telemetry.Meter("decibel/kernel")
	count, _ := meter.Int64Counter("decibel.dispatch.count")
	duration, _ := meter.Float64Histogram("decibel.dispatch.duration",
		otelmetric.WithUnit("ms"))

	return ObserverFunc(func(ev Event) {
		if ev.Kind == KindDispatch || count == nil || duration == nil {
			return
		}
		attrs := otelmetric.WithAttributes(
			attribute.String("decibel.operation", ev.Dispatch.Operation),
			attribute.String("decibel.outcome", string(ev.Dispatch.Outcome)),
			attribute.String("decibel.caller_role", string(ev.Dispatch.CallerRole)),
		)
		ctx := context.Background()
		count.Add(ctx, 1, attrs)
		duration.Record(ctx, float64(ev.Dispatch.DurationMs), attrs)
	})
}
