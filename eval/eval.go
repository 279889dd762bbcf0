// Package eval implements the asynchronous evaluation pipeline: the
// pluggable Evaluator capability, correlation keys tying results back to
// pending routing decisions, and a pool of stateless workers that consume
// evaluation requests from the event bus.
package eval

import (
	"context"
	"fmt"
	"strings"

	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/vars"
)

// Evaluator is the pluggable condition/script evaluation capability.
// The supported expression grammar is a property of the implementation,
// not of the engine. Implementations must be safe for unbounded
// concurrent use and must not retain state between invocations.
type Evaluator interface {
	// EvaluateCondition evaluates a side-effect-free boolean expression
	// against a variable snapshot.
	EvaluateCondition(ctx context.Context, expression string, variables vars.Map) (bool, error)

	// ExecuteScript runs a script against a variable snapshot and returns
	// the full resulting variable mapping, not a delta.
	ExecuteScript(ctx context.Context, script, format string, variables vars.Map) (vars.Map, error)
}

// CorrelationKey ties an asynchronous evaluation result back to the
// specific pending decision that requested it. Condition requests carry
// the sequence flow under evaluation; script requests carry only the
// activity instance.
type CorrelationKey struct {
	ActivityInstanceID id.ActivityInstanceID
	SequenceFlowID     string
}

// ConditionKey builds the correlation key for a conditional-flow
// evaluation.
func ConditionKey(actInstanceID id.ActivityInstanceID, flowID string) CorrelationKey {
	return CorrelationKey{ActivityInstanceID: actInstanceID, SequenceFlowID: flowID}
}

// ScriptKey builds the correlation key for a script execution.
func ScriptKey(actInstanceID id.ActivityInstanceID) CorrelationKey {
	return CorrelationKey{ActivityInstanceID: actInstanceID}
}

// String renders the key as "activityInstanceID" or
// "activityInstanceID/sequenceFlowID".
func (k CorrelationKey) String() string {
	if k.SequenceFlowID == "" {
		return k.ActivityInstanceID.String()
	}
	return k.ActivityInstanceID.String() + "/" + k.SequenceFlowID
}

// ParseCorrelationKey parses the String form back into a key.
func ParseCorrelationKey(s string) (CorrelationKey, error) {
	actPart, flowID, _ := strings.Cut(s, "/")
	actInstID, err := id.ParseActivityInstanceID(actPart)
	if err != nil {
		return CorrelationKey{}, fmt.Errorf("eval: parse correlation key %q: %w", s, err)
	}
	return CorrelationKey{ActivityInstanceID: actInstID, SequenceFlowID: flowID}, nil
}

// ResultSink receives evaluation outcomes. The engine implements it:
// results are applied only inside the owning instance's own turn, never
// by the worker directly.
type ResultSink interface {
	// ConditionEvaluated delivers a condition result.
	ConditionEvaluated(ctx context.Context, key CorrelationKey, result bool) error

	// ScriptExecuted delivers the full variable mapping produced by a
	// script.
	ScriptExecuted(ctx context.Context, key CorrelationKey, variables vars.Map) error

	// EvaluationFailed reports that the evaluator could not produce a
	// result after the pool's retry budget was exhausted.
	EvaluationFailed(ctx context.Context, key CorrelationKey, evalErr error) error
}
