// Package routing decides, given a just-completed or just-failed activity
// instance, which outgoing connections fire next. Routing is synchronous
// over the definition graph and the instance's condition cache; when a
// conditional flow has no cached result yet, the router reports the
// evaluation it needs and the engine resumes the decision once the result
// arrives.
package routing

import (
	"fmt"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/definition"
	"github.com/nightBaker/fleans-sub002/instance"
)

// PendingEvaluation identifies the conditional expression whose result is
// required before a routing decision can proceed.
type PendingEvaluation struct {
	SequenceFlowID string
	Expression     string
}

// Decision is the outcome of one routing pass.
//
// When Pending is non-nil the decision is suspended: the engine must
// obtain the evaluation result, cache it on the instance, and route
// again. Otherwise Targets lists the activity ids to activate, possibly
// empty (nothing downstream).
type Decision struct {
	Targets []string
	Pending *PendingEvaluation
}

// Router routes completions and failures over one process definition.
// It is stateless and safe for concurrent use.
type Router struct {
	def *definition.ProcessDefinition
}

// New creates a router over the given definition.
func New(def *definition.ProcessDefinition) *Router {
	return &Router{def: def}
}

// Route computes normal-flow routing for a completed activity instance.
//
// Exclusive semantics (gateways and plain tasks alike): the first
// conditional flow, in declaration order, whose evaluated result is true
// wins; if none matches, the default flow is taken; if neither exists the
// router fails with ErrNoMatchingFlow. Parallel gateways activate every
// outgoing flow unconditionally.
func (r *Router) Route(wf *instance.WorkflowInstance, ai *instance.ActivityInstance) (Decision, error) {
	flows := r.def.OutgoingFlows(ai.ActivityID)
	if len(flows) == 0 {
		return Decision{}, nil
	}

	if ai.Kind == definition.KindParallelGateway {
		targets := make([]string, 0, len(flows))
		for _, f := range flows {
			targets = append(targets, f.TargetID)
		}
		return Decision{Targets: targets}, nil
	}

	// A single unconditional flow needs no evaluation.
	if len(flows) == 1 && flows[0].IsDefault() {
		return Decision{Targets: []string{flows[0].TargetID}}, nil
	}

	var defaultFlow *definition.SequenceFlow
	for i, f := range flows {
		if f.IsDefault() {
			if defaultFlow == nil {
				defaultFlow = &flows[i]
			}
			continue
		}

		cs := wf.ConditionResult(ai.ID, f.ID)
		if !cs.Evaluated {
			return Decision{Pending: &PendingEvaluation{SequenceFlowID: f.ID, Expression: f.Expression}}, nil
		}
		if cs.Result {
			return Decision{Targets: []string{f.TargetID}}, nil
		}
	}

	if defaultFlow != nil {
		return Decision{Targets: []string{defaultFlow.TargetID}}, nil
	}

	return Decision{}, fmt.Errorf("%w: activity %q instance %s",
		fleans.ErrNoMatchingFlow, ai.ActivityID, ai.ID)
}

// RouteError computes error-flow routing for a failed activity instance.
// Error connections are tried in declaration order; the first whose code
// matches the failure (zero matches any) and whose optional condition
// evaluates true wins. An empty decision with no pending evaluation means
// the failure is unrouted and propagates to the workflow instance level.
func (r *Router) RouteError(wf *instance.WorkflowInstance, ai *instance.ActivityInstance) (Decision, error) {
	if ai.Error == nil {
		return Decision{}, fmt.Errorf("routing: activity instance %s has no error state", ai.ID)
	}

	for _, conn := range r.def.OutgoingErrorConnections(ai.ActivityID) {
		if conn.ErrorCode != 0 && conn.ErrorCode != ai.Error.Code {
			continue
		}
		if conn.Expression == "" {
			return Decision{Targets: []string{conn.TargetID}}, nil
		}

		cs := wf.ConditionResult(ai.ID, conn.ID)
		if !cs.Evaluated {
			return Decision{Pending: &PendingEvaluation{SequenceFlowID: conn.ID, Expression: conn.Expression}}, nil
		}
		if cs.Result {
			return Decision{Targets: []string{conn.TargetID}}, nil
		}
	}

	return Decision{}, nil
}
