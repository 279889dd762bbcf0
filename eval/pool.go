package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nightBaker/fleans-sub002/backoff"
	"github.com/nightBaker/fleans-sub002/event"
	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/vars"
)

type requestKind int

const (
	kindCondition requestKind = iota
	kindScript
)

type request struct {
	kind       requestKind
	key        CorrelationKey
	expression string
	script     string
	format     string
	variables  vars.Map
}

// Pool manages a set of stateless evaluation workers. It subscribes to
// the EvaluateCondition and ExecuteScript topics, evaluates requests with
// unrestricted parallelism up to its concurrency, and delivers results to
// the ResultSink. Workers never touch workflow instance state.
type Pool struct {
	bus       event.Bus
	evaluator Evaluator
	sink      ResultSink
	logger    *slog.Logger

	concurrency int
	queueSize   int
	maxAttempts int
	retryDelay  backoff.Strategy
	limiter     *rate.Limiter

	queue  chan request
	stopCh chan struct{}
	unsubs []func()
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent evaluation workers.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithQueueSize sets the buffer size of the inbound request queue.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) { p.queueSize = n }
}

// WithRetry sets the retry budget for evaluator invocations: up to
// maxAttempts attempts, delayed per the strategy. One attempt means no
// retries. A nil strategy keeps backoff.DefaultStrategy.
func WithRetry(maxAttempts int, strategy backoff.Strategy) PoolOption {
	return func(p *Pool) {
		p.maxAttempts = maxAttempts
		if strategy != nil {
			p.retryDelay = strategy
		}
	}
}

// WithRateLimit caps evaluator invocations per second across all workers.
func WithRateLimit(perSecond float64, burst int) PoolOption {
	return func(p *Pool) { p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewPool creates an evaluation worker pool.
func NewPool(bus event.Bus, evaluator Evaluator, sink ResultSink, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		bus:         bus,
		evaluator:   evaluator,
		sink:        sink,
		logger:      logger,
		concurrency: 10,
		queueSize:   256,
		maxAttempts: 1,
		retryDelay:  backoff.DefaultStrategy(),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan request, p.queueSize)
	return p
}

// Start subscribes to the evaluation topics and launches the workers.
// It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("evaluation pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Int("max_attempts", p.maxAttempts),
	)

	p.unsubs = append(p.unsubs,
		p.bus.Subscribe(event.TopicEvaluateCondition, p.onCondition),
		p.bus.Subscribe(event.TopicExecuteScript, p.onScript),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return nil
}

// Stop unsubscribes from the bus and waits for in-flight evaluations.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	for _, unsub := range p.unsubs {
		unsub()
	}
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("evaluation pool stopped")
	case <-ctx.Done():
		p.logger.Warn("evaluation pool shutdown timed out")
	}
	return nil
}

func (p *Pool) onCondition(_ context.Context, payload any) {
	evt, ok := payload.(event.EvaluateCondition)
	if !ok {
		p.logger.Warn("evaluation pool: unexpected payload on condition topic",
			slog.String("type", typeName(payload)))
		return
	}
	actInstID, err := id.ParseActivityInstanceID(evt.ActivityInstanceID)
	if err != nil {
		p.logger.Warn("evaluation pool: invalid activity instance id",
			slog.String("activity_instance_id", evt.ActivityInstanceID))
		return
	}
	p.enqueue(request{
		kind:       kindCondition,
		key:        ConditionKey(actInstID, evt.SequenceFlowID),
		expression: evt.Expression,
		variables:  evt.Variables,
	})
}

func (p *Pool) onScript(_ context.Context, payload any) {
	evt, ok := payload.(event.ExecuteScript)
	if !ok {
		p.logger.Warn("evaluation pool: unexpected payload on script topic",
			slog.String("type", typeName(payload)))
		return
	}
	actInstID, err := id.ParseActivityInstanceID(evt.ActivityInstanceID)
	if err != nil {
		p.logger.Warn("evaluation pool: invalid activity instance id",
			slog.String("activity_instance_id", evt.ActivityInstanceID))
		return
	}
	p.enqueue(request{
		kind:      kindScript,
		key:       ScriptKey(actInstID),
		script:    evt.Script,
		format:    evt.ScriptFormat,
		variables: evt.Variables,
	})
}

// enqueue hands a request to the workers without blocking the publisher's
// turn: if the queue is full the hand-off moves to its own goroutine.
func (p *Pool) enqueue(r request) {
	select {
	case p.queue <- r:
	case <-p.stopCh:
	default:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			select {
			case p.queue <- r:
			case <-p.stopCh:
			}
		}()
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case r := <-p.queue:
			p.process(r)
		}
	}
}

func (p *Pool) process(r request) {
	ctx := context.Background()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		var err error
		switch r.kind {
		case kindCondition:
			var result bool
			result, err = p.evaluator.EvaluateCondition(ctx, r.expression, r.variables)
			if err == nil {
				p.deliverCondition(ctx, r.key, result)
				return
			}
		case kindScript:
			var updated vars.Map
			updated, err = p.evaluator.ExecuteScript(ctx, r.script, r.format, r.variables)
			if err == nil {
				p.deliverScript(ctx, r.key, updated)
				return
			}
		}

		lastErr = err
		if attempt < p.maxAttempts {
			p.logger.Debug("evaluation attempt failed, retrying",
				slog.String("correlation_key", r.key.String()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			select {
			case <-time.After(p.retryDelay.Delay(attempt)):
			case <-p.stopCh:
				return
			}
		}
	}

	p.logger.Warn("evaluation failed",
		slog.String("correlation_key", r.key.String()),
		slog.String("error", lastErr.Error()),
	)
	if err := p.sink.EvaluationFailed(ctx, r.key, lastErr); err != nil {
		p.logger.Warn("evaluation failure not applied",
			slog.String("correlation_key", r.key.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) deliverCondition(ctx context.Context, key CorrelationKey, result bool) {
	if err := p.sink.ConditionEvaluated(ctx, key, result); err != nil {
		p.logger.Warn("condition result not applied",
			slog.String("correlation_key", key.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) deliverScript(ctx context.Context, key CorrelationKey, updated vars.Map) {
	if err := p.sink.ScriptExecuted(ctx, key, updated); err != nil {
		p.logger.Warn("script result not applied",
			slog.String("correlation_key", key.String()),
			slog.String("error", err.Error()),
		)
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
