package engine

import (
	"log/slog"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/eval"
	"github.com/nightBaker/fleans-sub002/event"
	"github.com/nightBaker/fleans-sub002/middleware"
	"github.com/nightBaker/fleans-sub002/store"
)

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the engine configuration.
func WithConfig(cfg fleans.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBus sets the event bus. Defaults to an in-process MemoryBus.
func WithBus(bus event.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithStore sets the snapshot store. Defaults to the in-memory store.
func WithStore(st store.Store) Option {
	return func(e *Engine) { e.store = st }
}

// WithEvaluator installs a condition/script evaluator. When set, the
// engine runs an in-process evaluation worker pool; when absent,
// evaluation requests stay on the bus for external workers and results
// return through the ResultSink callbacks.
func WithEvaluator(ev eval.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// WithPoolOptions passes options to the in-process evaluation pool.
// Ignored unless an evaluator is installed.
func WithPoolOptions(opts ...eval.PoolOption) Option {
	return func(e *Engine) { e.poolOpts = append(e.poolOpts, opts...) }
}

// WithMiddleware replaces the operation middleware chain. The default
// chain is Recover followed by Logging.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.mw = middleware.Chain(mws...) }
}
