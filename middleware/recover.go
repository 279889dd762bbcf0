package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover converts a panic inside an operation into an error, keeping a
// misbehaving handler from taking down the instance's actor goroutine.
func Recover(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("operation panicked",
						slog.String("operation", op.Name),
						slog.String("instance_id", op.InstanceID),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("operation %s panicked: %v", op.Name, r)
				}
			}()
			return next(ctx, op)
		}
	}
}
