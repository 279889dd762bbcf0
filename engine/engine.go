package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/definition"
	"github.com/nightBaker/fleans-sub002/eval"
	"github.com/nightBaker/fleans-sub002/event"
	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/instance"
	"github.com/nightBaker/fleans-sub002/middleware"
	"github.com/nightBaker/fleans-sub002/routing"
	"github.com/nightBaker/fleans-sub002/store"
	"github.com/nightBaker/fleans-sub002/store/memory"
	"github.com/nightBaker/fleans-sub002/vars"
)

// Ensure the engine can serve as the evaluation result sink.
var _ eval.ResultSink = (*Engine)(nil)

// Engine orchestrates workflow instances: it hosts one actor per
// instance, routes activity completions and failures, exchanges
// evaluation requests and results with the evaluation pipeline, and
// checkpoints a snapshot after every committed turn.
type Engine struct {
	cfg       fleans.Config
	logger    *slog.Logger
	bus       event.Bus
	store     store.Store
	evaluator eval.Evaluator
	poolOpts  []eval.PoolOption
	mw        middleware.Middleware

	registry *Registry
	pool     *eval.Pool

	mu           sync.RWMutex
	actors       map[string]*actor
	correlations map[string]id.InstanceID
	running      bool
	stopped      bool
	unsubs       []func()
	wg           sync.WaitGroup
}

// New creates an engine. Without options it runs fully in-process: memory
// bus, memory store, no evaluator pool.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:          fleans.DefaultConfig(),
		logger:       slog.Default(),
		registry:     NewRegistry(),
		actors:       make(map[string]*actor),
		correlations: make(map[string]id.InstanceID),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = event.NewMemoryBus()
	}
	if e.store == nil {
		e.store = memory.New()
	}
	if e.mw == nil {
		e.mw = middleware.Chain(middleware.Recover(e.logger), middleware.Logging(e.logger))
	}
	return e
}

// Registry returns the engine's definition registry.
func (e *Engine) Registry() *Registry { return e.registry }

// RegisterDefinition validates and registers a process definition.
func (e *Engine) RegisterDefinition(def *definition.ProcessDefinition) error {
	return e.registry.Register(def)
}

// Start migrates the store, subscribes to the child-workflow topics, and
// starts the in-process evaluation pool when an evaluator is installed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("engine: migrate store: %w", err)
	}

	e.unsubs = append(e.unsubs,
		e.bus.Subscribe(event.TopicChildWorkflowCompleted, e.onChildCompleted),
		e.bus.Subscribe(event.TopicChildWorkflowFailed, e.onChildFailed),
	)

	if e.evaluator != nil {
		opts := append([]eval.PoolOption{eval.WithConcurrency(e.cfg.EvalConcurrency)}, e.poolOpts...)
		e.pool = eval.NewPool(e.bus, e.evaluator, e, e.logger, opts...)
		if err := e.pool.Start(ctx); err != nil {
			return err
		}
	}

	e.logger.Info("engine started",
		slog.Int("eval_concurrency", e.cfg.EvalConcurrency),
		slog.Bool("in_process_evaluator", e.evaluator != nil),
	)
	return nil
}

// Stop drains the engine: no new operations are accepted, the evaluation
// pool shuts down, and actor goroutines exit. In-flight turns finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	actors := make([]*actor, 0, len(e.actors))
	for _, a := range e.actors {
		actors = append(actors, a)
	}
	e.mu.Unlock()

	if e.pool != nil {
		if err := e.pool.Stop(ctx); err != nil {
			return err
		}
	}
	for _, unsub := range e.unsubs {
		unsub()
	}
	for _, a := range actors {
		close(a.stopCh)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timeout := e.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		e.logger.Info("engine stopped")
	case <-ctx.Done():
		e.logger.Warn("engine shutdown interrupted")
	case <-time.After(timeout):
		e.logger.Warn("engine shutdown timed out")
	}
	return nil
}

// CreateInstance creates an empty, unbound workflow instance and its
// actor, and persists the initial snapshot.
func (e *Engine) CreateInstance(ctx context.Context) (id.InstanceID, error) {
	e.mu.RLock()
	stopped := e.stopped
	e.mu.RUnlock()
	if stopped {
		return id.ID{}, fleans.ErrEngineStopped
	}

	wf := instance.New()
	e.newActor(wf)
	if err := e.do(ctx, wf.ID, "create_instance", true, func(context.Context, *actor) error { return nil }); err != nil {
		return id.ID{}, err
	}
	return wf.ID, nil
}

// SetWorkflow binds a registered process definition to the instance.
// Version zero resolves to the latest registered version.
func (e *Engine) SetWorkflow(ctx context.Context, instID id.InstanceID, key string, version int) error {
	def, err := e.registry.Get(key, version)
	if err != nil {
		return err
	}
	return e.do(ctx, instID, "set_workflow", true, func(_ context.Context, a *actor) error {
		return a.wf.SetDefinition(def)
	})
}

// StartWorkflow starts the bound definition: one activity instance per
// start event, each published as ActivityExecuted and advanced through
// its kind-specific behavior.
func (e *Engine) StartWorkflow(ctx context.Context, instID id.InstanceID) error {
	return e.do(ctx, instID, "start_workflow", true, e.startTurn)
}

// CompleteActivity completes the executing activity instance for the
// given activity id, merges the caller's variables, and routes the
// completion. It fails with ErrUnknownActivity when no executing instance
// exists for the activity.
func (e *Engine) CompleteActivity(ctx context.Context, instID id.InstanceID, activityID string, variables vars.Map) error {
	return e.do(ctx, instID, "complete_activity", true, func(ctx context.Context, a *actor) error {
		ai, err := e.executingActivity(a, activityID)
		if err != nil {
			return err
		}
		a.wf.Variables.Merge(variables)
		return e.routeCompletion(ctx, a, ai, nil)
	})
}

// FailActivity fails the executing activity instance for the given
// activity id with an activity error and runs error-connection routing.
func (e *Engine) FailActivity(ctx context.Context, instID id.InstanceID, activityID string, code int, message string) error {
	return e.do(ctx, instID, "fail_activity", true, func(ctx context.Context, a *actor) error {
		ai, err := e.executingActivity(a, activityID)
		if err != nil {
			return err
		}
		return e.failActivity(ctx, a, ai, fleans.NewActivityError(code, message))
	})
}

// Snapshot returns the instance's current snapshot. Live instances are
// read inside their own turn; instances without a live actor are served
// from the store.
func (e *Engine) Snapshot(ctx context.Context, instID id.InstanceID) (*instance.Snapshot, error) {
	var snap *instance.Snapshot
	err := e.do(ctx, instID, "snapshot", false, func(_ context.Context, a *actor) error {
		snap = a.wf.Snapshot()
		return nil
	})
	if errors.Is(err, fleans.ErrInstanceNotFound) {
		return e.store.GetSnapshot(ctx, instID)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ConditionEvaluated resumes the routing decision parked under the
// correlation key. Unmatched or duplicate results are dropped with a
// warning, never applied.
func (e *Engine) ConditionEvaluated(ctx context.Context, key eval.CorrelationKey, result bool) error {
	instID, ok := e.lookupCorrelation(key)
	if !ok {
		e.logger.Warn("dropping unmatched condition result",
			slog.String("correlation_key", key.String()))
		return nil
	}
	return e.do(ctx, instID, "condition_evaluated", true, func(ctx context.Context, a *actor) error {
		p, ok := e.unpark(a, key)
		if !ok {
			e.logger.Warn("dropping duplicate condition result",
				slog.String("correlation_key", key.String()))
			return nil
		}
		a.wf.SetConditionResult(key.ActivityInstanceID, key.SequenceFlowID, result)
		if p.errorRoute {
			return e.routeFailure(ctx, a, p.ai)
		}
		return e.routeCompletion(ctx, a, p.ai, p.result)
	})
}

// ScriptExecuted completes the script task parked under the correlation
// key, replacing the instance variables with the script's full resulting
// mapping.
func (e *Engine) ScriptExecuted(ctx context.Context, key eval.CorrelationKey, variables vars.Map) error {
	instID, ok := e.lookupCorrelation(key)
	if !ok {
		e.logger.Warn("dropping unmatched script result",
			slog.String("correlation_key", key.String()))
		return nil
	}
	return e.do(ctx, instID, "script_executed", true, func(ctx context.Context, a *actor) error {
		p, ok := e.unpark(a, key)
		if !ok {
			e.logger.Warn("dropping duplicate script result",
				slog.String("correlation_key", key.String()))
			return nil
		}
		// A script may legitimately produce an empty mapping; the bag must
		// stay writable for later merges.
		updated := variables.Clone()
		if updated == nil {
			updated = vars.Map{}
		}
		a.wf.Variables = updated
		return e.routeCompletion(ctx, a, p.ai, nil)
	})
}

// EvaluationFailed fails the activity whose decision was parked under the
// correlation key. A failure during error-connection routing propagates
// the original activity failure to the instance level.
func (e *Engine) EvaluationFailed(ctx context.Context, key eval.CorrelationKey, evalErr error) error {
	instID, ok := e.lookupCorrelation(key)
	if !ok {
		e.logger.Warn("dropping unmatched evaluation failure",
			slog.String("correlation_key", key.String()))
		return nil
	}
	return e.do(ctx, instID, "evaluation_failed", true, func(ctx context.Context, a *actor) error {
		p, ok := e.unpark(a, key)
		if !ok {
			e.logger.Warn("dropping duplicate evaluation failure",
				slog.String("correlation_key", key.String()))
			return nil
		}
		if p.errorRoute {
			return e.failInstance(ctx, a, p.ai)
		}
		return e.failActivity(ctx, a, p.ai, fleans.NewActivityError(fleans.EvaluationFailedCode, evalErr.Error()))
	})
}

// --- turn internals ---

func (e *Engine) startTurn(ctx context.Context, a *actor) error {
	started, err := a.wf.Start()
	if err != nil {
		return err
	}
	for _, ai := range started {
		if err := e.activityStarted(ctx, a, ai); err != nil {
			return err
		}
	}
	return nil
}

// activityStarted publishes ActivityExecuted and applies kind-specific
// behavior: tasks wait for an external completion, script tasks request a
// script execution, sub-workflow calls spawn a child instance, and
// pass-through kinds (events, gateways) route immediately.
func (e *Engine) activityStarted(ctx context.Context, a *actor, ai *instance.ActivityInstance) error {
	err := e.bus.Publish(ctx, event.TopicActivityExecuted, event.ActivityExecuted{
		WorkflowInstanceID: a.wf.ID.String(),
		WorkflowID:         a.wf.Definition.ID.String(),
		ActivityInstanceID: ai.ID.String(),
		ActivityID:         ai.ActivityID,
	})
	if err != nil {
		return fmt.Errorf("engine: publish activity executed: %w", err)
	}

	switch ai.Kind {
	case definition.KindTask:
		return nil
	case definition.KindScriptTask:
		return e.startScript(ctx, a, ai)
	case definition.KindSubWorkflowCall:
		return e.spawnChild(ctx, a, ai)
	default:
		return e.routeCompletion(ctx, a, ai, nil)
	}
}

// routeCompletion routes an executing activity instance forward. The
// instance commits its completion only once routing resolves; a pending
// conditional keeps it executing and parks the decision.
func (e *Engine) routeCompletion(ctx context.Context, a *actor, ai *instance.ActivityInstance, result any) error {
	d, err := routing.New(a.wf.Definition).Route(a.wf, ai)
	if errors.Is(err, fleans.ErrNoMatchingFlow) {
		return e.failActivity(ctx, a, ai, fleans.NewNoMatchingFlowError(ai.ActivityID))
	}
	if err != nil {
		return err
	}

	if d.Pending != nil {
		e.park(a, ai, d.Pending.SequenceFlowID, false, result)
		return e.publishConditionRequest(ctx, a, ai, d.Pending)
	}

	if err := ai.Complete(result); err != nil {
		return err
	}
	return e.advance(ctx, a, ai, d.Targets)
}

// failActivity records the activity error on the instance and runs
// error-connection routing.
func (e *Engine) failActivity(ctx context.Context, a *actor, ai *instance.ActivityInstance, actErr *fleans.ActivityError) error {
	if ai.State == instance.StateExecuting {
		if err := ai.Fail(instance.ErrorState{Code: actErr.Code, Message: actErr.Message}); err != nil {
			return err
		}
	}
	return e.routeFailure(ctx, a, ai)
}

// routeFailure runs error-connection routing for a failed activity
// instance. An unrouted failure propagates to the instance level.
func (e *Engine) routeFailure(ctx context.Context, a *actor, ai *instance.ActivityInstance) error {
	d, err := routing.New(a.wf.Definition).RouteError(a.wf, ai)
	if err != nil {
		return err
	}
	if d.Pending != nil {
		e.park(a, ai, d.Pending.SequenceFlowID, true, nil)
		return e.publishConditionRequest(ctx, a, ai, d.Pending)
	}
	if len(d.Targets) > 0 {
		return e.advance(ctx, a, ai, d.Targets)
	}
	return e.failInstance(ctx, a, ai)
}

// advance archives the routed activity instance and activates its
// targets. Fan-in is idempotent: a target with a live instance is left
// untouched.
func (e *Engine) advance(ctx context.Context, a *actor, ai *instance.ActivityInstance, targets []string) error {
	a.wf.Archive(ai)
	for _, targetID := range targets {
		act, ok := a.wf.Definition.ActivityByID(targetID)
		if !ok {
			return fmt.Errorf("engine: definition has no activity %q", targetID)
		}
		next, created := a.wf.Activate(act)
		if !created {
			continue
		}
		if err := next.Start(); err != nil {
			return err
		}
		if err := e.activityStarted(ctx, a, next); err != nil {
			return err
		}
	}
	return nil
}

// failInstance records an unrouted failure as the instance's terminal
// state: remaining live activities are cancelled, pending evaluations are
// dropped, and the failure is published (to the parent context too, when
// this instance is a child workflow, with the code and message unchanged).
func (e *Engine) failInstance(ctx context.Context, a *actor, ai *instance.ActivityInstance) error {
	if ai.Error == nil {
		return fmt.Errorf("engine: activity instance %s has no error state", ai.ID)
	}
	errState := *ai.Error

	a.wf.Archive(ai)
	for _, other := range a.wf.Active() {
		if other.Live() {
			if err := other.Cancel("workflow failed"); err != nil {
				return err
			}
		}
		a.wf.Archive(other)
	}
	e.dropPending(a)
	a.wf.RecordFailure(errState)

	err := e.bus.Publish(ctx, event.TopicWorkflowFailed, event.WorkflowFailed{
		WorkflowInstanceID: a.wf.ID.String(),
		WorkflowID:         a.wf.Definition.ID.String(),
		ErrorCode:          errState.Code,
		ErrorMessage:       errState.Message,
	})
	if err != nil {
		return err
	}

	if a.wf.Parent != nil {
		return e.bus.Publish(ctx, event.TopicChildWorkflowFailed, event.ChildWorkflowFailed{
			ParentInstanceID: a.wf.Parent.InstanceID.String(),
			ParentActivityID: a.wf.Parent.ActivityID,
			WorkflowID:       a.wf.Definition.ID.String(),
			ChildInstanceID:  a.wf.ID.String(),
			ErrorCode:        errState.Code,
			ErrorMessage:     errState.Message,
		})
	}
	return nil
}

// finishTurn closes out a committed mutating turn: exactly-once
// completion detection, then a snapshot checkpoint.
func (e *Engine) finishTurn(ctx context.Context, a *actor) error {
	if a.wf.MarkCompleted() {
		err := e.bus.Publish(ctx, event.TopicWorkflowCompleted, event.WorkflowCompleted{
			WorkflowInstanceID: a.wf.ID.String(),
			WorkflowID:         a.wf.Definition.ID.String(),
		})
		if err != nil {
			return err
		}
		if a.wf.Parent != nil {
			err := e.bus.Publish(ctx, event.TopicChildWorkflowCompleted, event.ChildWorkflowCompleted{
				ParentInstanceID: a.wf.Parent.InstanceID.String(),
				ParentActivityID: a.wf.Parent.ActivityID,
				WorkflowID:       a.wf.Definition.ID.String(),
				ChildInstanceID:  a.wf.ID.String(),
				ChildVariables:   a.wf.Variables.Clone(),
			})
			if err != nil {
				return err
			}
		}
	}
	return e.checkpoint(ctx, a)
}

func (e *Engine) checkpoint(ctx context.Context, a *actor) error {
	a.wf.Version++
	if err := e.store.SaveSnapshot(ctx, a.wf.Snapshot()); err != nil {
		e.logger.Error("snapshot checkpoint failed",
			slog.String("instance_id", a.wf.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// --- script tasks and sub-workflows ---

func (e *Engine) startScript(ctx context.Context, a *actor, ai *instance.ActivityInstance) error {
	act, ok := a.wf.Definition.ActivityByID(ai.ActivityID)
	if !ok {
		return fmt.Errorf("engine: definition has no activity %q", ai.ActivityID)
	}
	e.park(a, ai, "", false, nil)
	return e.bus.Publish(ctx, event.TopicExecuteScript, event.ExecuteScript{
		WorkflowInstanceID: a.wf.ID.String(),
		ActivityInstanceID: ai.ID.String(),
		Script:             act.Script,
		ScriptFormat:       act.ScriptFormat,
		Variables:          a.wf.Variables.Clone(),
	})
}

func (e *Engine) spawnChild(ctx context.Context, a *actor, ai *instance.ActivityInstance) error {
	act, ok := a.wf.Definition.ActivityByID(ai.ActivityID)
	if !ok {
		return fmt.Errorf("engine: definition has no activity %q", ai.ActivityID)
	}
	def, err := e.registry.Get(act.WorkflowKey, 0)
	if err != nil {
		return e.failActivity(ctx, a, ai,
			fleans.NewActivityError(fleans.NoMatchingFlowCode, fmt.Sprintf("unknown workflow %q", act.WorkflowKey)))
	}

	child := instance.New()
	child.Parent = &instance.ParentLink{InstanceID: a.wf.ID, ActivityID: ai.ActivityID}
	if err := child.SetDefinition(def); err != nil {
		return err
	}
	child.Variables = a.wf.Variables.Clone()
	ai.ChildInstanceID = child.ID

	e.newActor(child)
	e.goDo(child.ID, "start_workflow", e.startTurn)
	return nil
}

func (e *Engine) onChildCompleted(_ context.Context, payload any) {
	evt, ok := payload.(event.ChildWorkflowCompleted)
	if !ok {
		e.logger.Warn("unexpected payload on child completed topic")
		return
	}
	parentID, err := id.ParseInstanceID(evt.ParentInstanceID)
	if err != nil {
		e.logger.Warn("invalid parent instance id on child completion",
			slog.String("parent_instance_id", evt.ParentInstanceID))
		return
	}
	e.goDo(parentID, "child_completed", func(ctx context.Context, a *actor) error {
		ai, ok := e.childCallActivity(a, evt.ParentActivityID, evt.ChildInstanceID)
		if !ok {
			return nil
		}
		a.wf.Variables.Merge(evt.ChildVariables)
		return e.routeCompletion(ctx, a, ai, nil)
	})
}

func (e *Engine) onChildFailed(_ context.Context, payload any) {
	evt, ok := payload.(event.ChildWorkflowFailed)
	if !ok {
		e.logger.Warn("unexpected payload on child failed topic")
		return
	}
	parentID, err := id.ParseInstanceID(evt.ParentInstanceID)
	if err != nil {
		e.logger.Warn("invalid parent instance id on child failure",
			slog.String("parent_instance_id", evt.ParentInstanceID))
		return
	}
	e.goDo(parentID, "child_failed", func(ctx context.Context, a *actor) error {
		ai, ok := e.childCallActivity(a, evt.ParentActivityID, evt.ChildInstanceID)
		if !ok {
			return nil
		}
		// The child's code and message re-enter the parent's error routing
		// unchanged.
		return e.failActivity(ctx, a, ai, fleans.NewActivityError(evt.ErrorCode, evt.ErrorMessage))
	})
}

// childCallActivity locates the executing sub-workflow-call instance a
// child notification belongs to. Stale notifications are dropped with a
// warning.
func (e *Engine) childCallActivity(a *actor, parentActivityID, childInstanceID string) (*instance.ActivityInstance, bool) {
	ai, ok := a.wf.ActiveByActivityID(parentActivityID)
	if !ok || ai.State != instance.StateExecuting || ai.ChildInstanceID.String() != childInstanceID {
		e.logger.Warn("dropping child notification with no matching call activity",
			slog.String("parent_activity_id", parentActivityID),
			slog.String("child_instance_id", childInstanceID),
		)
		return nil, false
	}
	return ai, true
}

// --- pending decisions and correlation ---

func (e *Engine) park(a *actor, ai *instance.ActivityInstance, flowID string, errorRoute bool, result any) {
	p := &pendingWork{ai: ai, flowID: flowID, errorRoute: errorRoute, result: result}
	a.pending[ai.ID.String()] = p

	key := eval.CorrelationKey{ActivityInstanceID: ai.ID, SequenceFlowID: flowID}
	e.mu.Lock()
	e.correlations[key.String()] = a.wf.ID
	e.mu.Unlock()

	if e.cfg.EvalTimeout > 0 {
		timeout := e.cfg.EvalTimeout
		p.timer = time.AfterFunc(timeout, func() {
			_ = e.EvaluationFailed(context.Background(), key,
				fmt.Errorf("evaluation timed out after %s", timeout))
		})
	}
}

// unpark claims the pending decision for a correlation key. It returns
// false when no decision is parked under the key, which covers duplicate
// and stale results.
func (e *Engine) unpark(a *actor, key eval.CorrelationKey) (*pendingWork, bool) {
	p, ok := a.pending[key.ActivityInstanceID.String()]
	if !ok || p.flowID != key.SequenceFlowID {
		return nil, false
	}
	delete(a.pending, key.ActivityInstanceID.String())
	if p.timer != nil {
		p.timer.Stop()
	}
	e.mu.Lock()
	delete(e.correlations, key.String())
	e.mu.Unlock()
	return p, true
}

func (e *Engine) dropPending(a *actor) {
	e.mu.Lock()
	for _, p := range a.pending {
		key := eval.CorrelationKey{ActivityInstanceID: p.ai.ID, SequenceFlowID: p.flowID}
		delete(e.correlations, key.String())
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	e.mu.Unlock()
	clear(a.pending)
}

func (e *Engine) lookupCorrelation(key eval.CorrelationKey) (id.InstanceID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	instID, ok := e.correlations[key.String()]
	return instID, ok
}

func (e *Engine) publishConditionRequest(ctx context.Context, a *actor, ai *instance.ActivityInstance, pending *routing.PendingEvaluation) error {
	return e.bus.Publish(ctx, event.TopicEvaluateCondition, event.EvaluateCondition{
		WorkflowInstanceID: a.wf.ID.String(),
		ActivityInstanceID: ai.ID.String(),
		SequenceFlowID:     pending.SequenceFlowID,
		Expression:         pending.Expression,
		Variables:          a.wf.Variables.Clone(),
	})
}

// --- turn plumbing ---

func (e *Engine) executingActivity(a *actor, activityID string) (*instance.ActivityInstance, error) {
	if a.wf.Definition == nil {
		return nil, fleans.ErrWorkflowNotSet
	}
	ai, ok := a.wf.ActiveByActivityID(activityID)
	if !ok || ai.State != instance.StateExecuting {
		return nil, fmt.Errorf("%w: %q", fleans.ErrUnknownActivity, activityID)
	}
	if _, busy := a.pending[ai.ID.String()]; busy {
		return nil, fmt.Errorf("%w: activity %q is awaiting an evaluation result",
			fleans.ErrInvalidTransition, activityID)
	}
	return ai, nil
}

// do submits a turn to the instance's actor and waits for the outcome.
// Once the mailbox accepts the turn it will run even if the caller's
// context expires first.
func (e *Engine) do(ctx context.Context, instID id.InstanceID, name string, mutating bool, fn func(context.Context, *actor) error) error {
	e.mu.RLock()
	a, ok := e.actors[instID.String()]
	stopped := e.stopped
	e.mu.RUnlock()
	if stopped {
		return fleans.ErrEngineStopped
	}
	if !ok {
		return fleans.ErrInstanceNotFound
	}

	t := &turn{name: name, mutating: mutating, fn: fn, errc: make(chan error, 1)}
	select {
	case a.mailbox <- t:
	case <-a.stopCh:
		return fleans.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.errc:
		return err
	case <-a.stopCh:
		return fleans.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goDo submits a turn from a bus handler or timer without blocking the
// publisher. Failures are logged; there is no caller to return them to.
func (e *Engine) goDo(instID id.InstanceID, name string, fn func(context.Context, *actor) error) {
	go func() {
		if err := e.do(context.Background(), instID, name, true, fn); err != nil {
			e.logger.Warn("async operation failed",
				slog.String("operation", name),
				slog.String("instance_id", instID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}
