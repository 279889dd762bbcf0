package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracing opens a span per operation. With no tracer provider installed
// the global provider is a noop.
func Tracing() Middleware {
	tracer := otel.Tracer("fleans/engine")
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation) error {
			ctx, span := tracer.Start(ctx, "engine."+op.Name,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("workflow.instance_id", op.InstanceID),
				),
			)
			defer span.End()

			err := next(ctx, op)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
