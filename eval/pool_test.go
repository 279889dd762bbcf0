package eval_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nightBaker/fleans-sub002/backoff"
	"github.com/nightBaker/fleans-sub002/eval"
	"github.com/nightBaker/fleans-sub002/event"
	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/vars"
)

type stubEvaluator struct {
	mu             sync.Mutex
	conditionCalls int
	scriptCalls    int
	failUntil      int
	result         bool
}

func (s *stubEvaluator) EvaluateCondition(_ context.Context, _ string, _ vars.Map) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditionCalls++
	if s.conditionCalls <= s.failUntil {
		return false, errors.New("evaluator unavailable")
	}
	return s.result, nil
}

func (s *stubEvaluator) ExecuteScript(_ context.Context, _, _ string, variables vars.Map) (vars.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scriptCalls++
	out := variables.Clone()
	out["touched"] = true
	return out, nil
}

type recordingSink struct {
	mu         sync.Mutex
	conditions map[string]bool
	scripts    map[string]vars.Map
	failures   map[string]error
	notify     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		conditions: make(map[string]bool),
		scripts:    make(map[string]vars.Map),
		failures:   make(map[string]error),
		notify:     make(chan struct{}, 16),
	}
}

func (r *recordingSink) ConditionEvaluated(_ context.Context, key eval.CorrelationKey, result bool) error {
	r.mu.Lock()
	r.conditions[key.String()] = result
	r.mu.Unlock()
	r.notify <- struct{}{}
	return nil
}

func (r *recordingSink) ScriptExecuted(_ context.Context, key eval.CorrelationKey, variables vars.Map) error {
	r.mu.Lock()
	r.scripts[key.String()] = variables
	r.mu.Unlock()
	r.notify <- struct{}{}
	return nil
}

func (r *recordingSink) EvaluationFailed(_ context.Context, key eval.CorrelationKey, evalErr error) error {
	r.mu.Lock()
	r.failures[key.String()] = evalErr
	r.mu.Unlock()
	r.notify <- struct{}{}
	return nil
}

func (r *recordingSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for evaluation result")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_ConditionRequestRoundTrip(t *testing.T) {
	bus := event.NewMemoryBus()
	evaluator := &stubEvaluator{result: true}
	sink := newRecordingSink()

	pool := eval.NewPool(bus, evaluator, sink, testLogger(), eval.WithConcurrency(2))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(context.Background())

	actInstID := id.NewActivityInstanceID()
	err := bus.Publish(context.Background(), event.TopicEvaluateCondition, event.EvaluateCondition{
		WorkflowInstanceID: id.NewInstanceID().String(),
		ActivityInstanceID: actInstID.String(),
		SequenceFlowID:     "f1",
		Expression:         "amount > 100",
		Variables:          vars.Map{"amount": 200.0},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	sink.wait(t)

	key := eval.ConditionKey(actInstID, "f1").String()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	got, ok := sink.conditions[key]
	if !ok {
		t.Fatalf("no result delivered for %s", key)
	}
	if !got {
		t.Error("result = false, want true")
	}
}

func TestPool_ScriptRequestReturnsFullMapping(t *testing.T) {
	bus := event.NewMemoryBus()
	sink := newRecordingSink()

	pool := eval.NewPool(bus, &stubEvaluator{}, sink, testLogger())
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(context.Background())

	actInstID := id.NewActivityInstanceID()
	err := bus.Publish(context.Background(), event.TopicExecuteScript, event.ExecuteScript{
		ActivityInstanceID: actInstID.String(),
		Script:             "touched = true",
		ScriptFormat:       "javascript",
		Variables:          vars.Map{"existing": "kept"},
	})
	if err != nil {
		t.Fatal(err)
	}

	sink.wait(t)

	key := eval.ScriptKey(actInstID).String()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	updated, ok := sink.scripts[key]
	if !ok {
		t.Fatalf("no script result delivered for %s", key)
	}
	if got, _ := updated.GetString("existing"); got != "kept" {
		t.Error("script result must carry the full mapping, not a delta")
	}
	if got, _ := updated.GetBool("touched"); !got {
		t.Error("script effect missing from result")
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	bus := event.NewMemoryBus()
	evaluator := &stubEvaluator{result: true, failUntil: 2}
	sink := newRecordingSink()

	pool := eval.NewPool(bus, evaluator, sink, testLogger(),
		eval.WithRetry(3, backoff.NewConstant(time.Millisecond)))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(context.Background())

	actInstID := id.NewActivityInstanceID()
	if err := bus.Publish(context.Background(), event.TopicEvaluateCondition, event.EvaluateCondition{
		ActivityInstanceID: actInstID.String(),
		SequenceFlowID:     "f1",
		Expression:         "true",
	}); err != nil {
		t.Fatal(err)
	}

	sink.wait(t)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.failures) != 0 {
		t.Errorf("unexpected failures: %v", sink.failures)
	}
	if got := sink.conditions[eval.ConditionKey(actInstID, "f1").String()]; !got {
		t.Error("expected a successful result after retries")
	}
	evaluator.mu.Lock()
	defer evaluator.mu.Unlock()
	if evaluator.conditionCalls != 3 {
		t.Errorf("evaluator calls = %d, want 3", evaluator.conditionCalls)
	}
}

func TestPool_ExhaustedRetriesReportFailure(t *testing.T) {
	bus := event.NewMemoryBus()
	evaluator := &stubEvaluator{failUntil: 100}
	sink := newRecordingSink()

	pool := eval.NewPool(bus, evaluator, sink, testLogger(),
		eval.WithRetry(2, backoff.NewConstant(time.Millisecond)))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop(context.Background())

	actInstID := id.NewActivityInstanceID()
	if err := bus.Publish(context.Background(), event.TopicEvaluateCondition, event.EvaluateCondition{
		ActivityInstanceID: actInstID.String(),
		SequenceFlowID:     "f1",
		Expression:         "boom",
	}); err != nil {
		t.Fatal(err)
	}

	sink.wait(t)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if _, ok := sink.failures[eval.ConditionKey(actInstID, "f1").String()]; !ok {
		t.Error("expected EvaluationFailed after retry budget exhausted")
	}
}

func TestCorrelationKey_RoundTrip(t *testing.T) {
	actInstID := id.NewActivityInstanceID()

	cond := eval.ConditionKey(actInstID, "f9")
	parsed, err := eval.ParseCorrelationKey(cond.String())
	if err != nil {
		t.Fatalf("parse condition key: %v", err)
	}
	if parsed != cond {
		t.Errorf("parsed = %+v, want %+v", parsed, cond)
	}

	script := eval.ScriptKey(actInstID)
	parsed, err = eval.ParseCorrelationKey(script.String())
	if err != nil {
		t.Fatalf("parse script key: %v", err)
	}
	if parsed.SequenceFlowID != "" || parsed.ActivityInstanceID != actInstID {
		t.Errorf("parsed script key = %+v", parsed)
	}
}
