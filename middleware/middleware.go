package middleware

import "context"

// Operation describes one engine operation as seen by middleware.
type Operation struct {
	// Name is the operation name, e.g. "start_workflow".
	Name string
	// InstanceID is the workflow instance the operation targets.
	InstanceID string
}

// Handler executes one operation.
type Handler func(ctx context.Context, op Operation) error

// Middleware wraps a Handler with additional behavior.
type Middleware func(Handler) Handler

// Chain composes middlewares so the first argument is the outermost
// wrapper. Chain() with no arguments returns an identity middleware.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
