package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging logs every operation with its duration and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation) error {
			start := time.Now()
			err := next(ctx, op)
			attrs := []any{
				slog.String("operation", op.Name),
				slog.String("instance_id", op.InstanceID),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("operation failed", append(attrs, slog.String("error", err.Error()))...)
				return err
			}
			logger.Debug("operation completed", attrs...)
			return nil
		}
	}
}
