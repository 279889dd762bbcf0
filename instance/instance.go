package instance

import (
	"time"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/definition"
	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/vars"
)

// ConditionState is the cached outcome of one conditional-flow evaluation,
// scoped to the gateway occurrence that requested it.
type ConditionState struct {
	Evaluated bool
	Result    bool
}

// ParentLink identifies the parent workflow activity that spawned this
// instance as a sub-workflow.
type ParentLink struct {
	InstanceID id.InstanceID
	ActivityID string
}

// WorkflowInstance is one running execution of a process definition. It
// is not safe for concurrent use: the engine serializes all mutations of
// an instance through its mailbox.
type WorkflowInstance struct {
	ID          id.InstanceID
	Definition  *definition.ProcessDefinition
	IsStarted   bool
	IsCompleted bool

	// Failure is the terminal error recorded when an activity failure
	// could not be routed. A failed instance never sets IsCompleted.
	Failure *ErrorState

	// Parent is set when this instance was spawned by a sub-workflow call.
	Parent *ParentLink

	Variables vars.Map

	CreatedAt          time.Time
	ExecutionStartedAt *time.Time
	CompletedAt        *time.Time

	// Version is the optimistic-concurrency token, incremented by the
	// engine after each committed turn.
	Version int64

	active     []*ActivityInstance
	archived   []*ActivityInstance
	conditions map[string]ConditionState // key: actInstanceID + "/" + flowID
}

// New creates an empty, unbound workflow instance.
func New() *WorkflowInstance {
	return &WorkflowInstance{
		ID:         id.NewInstanceID(),
		Variables:  vars.Map{},
		CreatedAt:  time.Now().UTC(),
		conditions: make(map[string]ConditionState),
	}
}

// SetDefinition binds the process definition. It must be called before
// Start; rebinding an already started instance is rejected.
func (w *WorkflowInstance) SetDefinition(def *definition.ProcessDefinition) error {
	if w.IsStarted {
		return fleans.ErrAlreadyStarted
	}
	w.Definition = def
	return nil
}

// Start creates and starts an activity instance for every start event.
// It fails with ErrWorkflowNotSet before binding and with
// ErrAlreadyStarted on a second call.
func (w *WorkflowInstance) Start() ([]*ActivityInstance, error) {
	if w.Definition == nil {
		return nil, fleans.ErrWorkflowNotSet
	}
	if w.IsStarted {
		return nil, fleans.ErrAlreadyStarted
	}

	now := time.Now().UTC()
	w.IsStarted = true
	w.ExecutionStartedAt = &now

	starts := w.Definition.StartActivities()
	started := make([]*ActivityInstance, 0, len(starts))
	for _, act := range starts {
		ai := NewActivityInstance(act)
		if err := ai.Start(); err != nil {
			return nil, err
		}
		w.active = append(w.active, ai)
		started = append(started, ai)
	}
	return started, nil
}

// ActiveByActivityID returns the live activity instance for the given
// activity id, if one exists.
func (w *WorkflowInstance) ActiveByActivityID(activityID string) (*ActivityInstance, bool) {
	for _, ai := range w.active {
		if ai.ActivityID == activityID && ai.Live() {
			return ai, true
		}
	}
	return nil, false
}

// ActiveByID returns the live activity instance with the given instance id.
func (w *WorkflowInstance) ActiveByID(actInstanceID id.ActivityInstanceID) (*ActivityInstance, bool) {
	for _, ai := range w.active {
		if ai.ID == actInstanceID {
			return ai, true
		}
	}
	return nil, false
}

// Active returns the live activity instances in activation order.
func (w *WorkflowInstance) Active() []*ActivityInstance {
	out := make([]*ActivityInstance, len(w.active))
	copy(out, w.active)
	return out
}

// Archived returns the terminal activity instances in archival order.
func (w *WorkflowInstance) Archived() []*ActivityInstance {
	out := make([]*ActivityInstance, len(w.archived))
	copy(out, w.archived)
	return out
}

// Activate creates a new activity instance for the given activity unless
// one is already live (idempotent fan-in: a target is never activated
// twice for the same completion event). The bool reports whether a new
// instance was created.
func (w *WorkflowInstance) Activate(act definition.Activity) (*ActivityInstance, bool) {
	if existing, ok := w.ActiveByActivityID(act.ID); ok {
		return existing, false
	}
	ai := NewActivityInstance(act)
	w.active = append(w.active, ai)
	return ai, true
}

// Archive moves a terminal activity instance out of the active set.
func (w *WorkflowInstance) Archive(ai *ActivityInstance) {
	for i, cur := range w.active {
		if cur.ID == ai.ID {
			w.active = append(w.active[:i], w.active[i+1:]...)
			w.archived = append(w.archived, ai)
			return
		}
	}
}

// MarkCompleted flips IsCompleted exactly once, when the active set is
// empty after the instance has been started and has not failed. The bool
// reports whether the flag flipped on this call.
func (w *WorkflowInstance) MarkCompleted() bool {
	if !w.IsStarted || w.IsCompleted || w.Failure != nil || len(w.active) > 0 {
		return false
	}
	now := time.Now().UTC()
	w.IsCompleted = true
	w.CompletedAt = &now
	return true
}

// RecordFailure records a terminal, unrouted failure. The instance does
// not complete; the failure surfaces through its snapshot and, for child
// workflows, through the parent notification.
func (w *WorkflowInstance) RecordFailure(errState ErrorState) {
	now := time.Now().UTC()
	w.Failure = &errState
	w.CompletedAt = &now
}

// ConditionResult returns the cached evaluation outcome for a
// (gateway occurrence, sequence flow) pair.
func (w *WorkflowInstance) ConditionResult(actInstanceID id.ActivityInstanceID, flowID string) ConditionState {
	return w.conditions[conditionKey(actInstanceID, flowID)]
}

// SetConditionResult caches an evaluation outcome so repeated routing
// decisions for the same gateway occurrence never re-invoke the evaluator.
func (w *WorkflowInstance) SetConditionResult(actInstanceID id.ActivityInstanceID, flowID string, result bool) {
	w.conditions[conditionKey(actInstanceID, flowID)] = ConditionState{Evaluated: true, Result: result}
}

func conditionKey(actInstanceID id.ActivityInstanceID, flowID string) string {
	return actInstanceID.String() + "/" + flowID
}
