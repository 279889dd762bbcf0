package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records an operation counter and a duration histogram. With no
// meter provider installed the instruments are noops.
func Metrics() Middleware {
	meter := otel.Meter("fleans/engine")

	counter, _ := meter.Int64Counter("workflow_operations_total",
		metric.WithDescription("Total engine operations processed"))
	duration, _ := meter.Float64Histogram("workflow_operation_duration_seconds",
		metric.WithDescription("Engine operation duration in seconds"))

	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation) error {
			start := time.Now()
			err := next(ctx, op)

			status := "ok"
			if err != nil {
				status = "error"
			}
			attrs := metric.WithAttributes(
				attribute.String("operation", op.Name),
				attribute.String("status", status),
			)
			counter.Add(ctx, 1, attrs)
			duration.Record(ctx, time.Since(start).Seconds(), attrs)
			return err
		}
	}
}
