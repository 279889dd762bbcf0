// Package instance holds the runtime state of workflow instances: the
// per-occurrence activity instance state machine, the workflow instance
// aggregate, and the lossless snapshot representation used by stores.
package instance

import (
	"fmt"
	"time"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/definition"
	"github.com/nightBaker/fleans-sub002/id"
)

// ActivityState is the lifecycle state of one activity instance.
type ActivityState string

// Activity instance states. Created and Executing are live; Completed,
// Failed, and Cancelled are terminal.
const (
	StateCreated   ActivityState = "created"
	StateExecuting ActivityState = "executing"
	StateCompleted ActivityState = "completed"
	StateFailed    ActivityState = "failed"
	StateCancelled ActivityState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s ActivityState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrorState records why an activity instance failed. Code and Message
// cross child/parent workflow boundaries unchanged.
type ErrorState struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ActivityInstance is one runtime occurrence of an activity within a
// workflow instance. Instances are never reused: a loop back to the same
// activity produces a fresh instance with a fresh ID.
type ActivityInstance struct {
	ID         id.ActivityInstanceID
	ActivityID string
	Kind       definition.Kind
	State      ActivityState

	// Result is the execution result used for gateway matching.
	Result any

	// Error is set when the instance failed.
	Error *ErrorState

	// CancellationReason is set when a sibling branch pre-empted this one.
	CancellationReason string

	// ChildInstanceID links a sub-workflow call to the child it spawned.
	ChildInstanceID id.InstanceID

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewActivityInstance creates an instance of the given activity in the
// Created state.
func NewActivityInstance(act definition.Activity) *ActivityInstance {
	return &ActivityInstance{
		ID:         id.NewActivityInstanceID(),
		ActivityID: act.ID,
		Kind:       act.Kind,
		State:      StateCreated,
		CreatedAt:  time.Now().UTC(),
	}
}

// Start transitions Created → Executing.
func (a *ActivityInstance) Start() error {
	if a.State != StateCreated {
		return a.transitionErr("start")
	}
	now := time.Now().UTC()
	a.State = StateExecuting
	a.StartedAt = &now
	return nil
}

// Complete transitions Executing → Completed, storing the execution
// result. Re-applying completion to a non-Executing instance is rejected,
// never silently merged.
func (a *ActivityInstance) Complete(result any) error {
	if a.State != StateExecuting {
		return a.transitionErr("complete")
	}
	now := time.Now().UTC()
	a.State = StateCompleted
	a.Result = result
	a.CompletedAt = &now
	return nil
}

// Fail transitions Executing → Failed, recording the error state.
func (a *ActivityInstance) Fail(errState ErrorState) error {
	if a.State != StateExecuting {
		return a.transitionErr("fail")
	}
	now := time.Now().UTC()
	a.State = StateFailed
	a.Error = &errState
	a.CompletedAt = &now
	return nil
}

// Cancel transitions Created or Executing → Cancelled. Used when a
// sibling branch pre-empts this one.
func (a *ActivityInstance) Cancel(reason string) error {
	if a.State.Terminal() {
		return a.transitionErr("cancel")
	}
	now := time.Now().UTC()
	a.State = StateCancelled
	a.CancellationReason = reason
	a.CompletedAt = &now
	return nil
}

// Live reports whether the instance is Created or Executing.
func (a *ActivityInstance) Live() bool {
	return !a.State.Terminal()
}

func (a *ActivityInstance) transitionErr(op string) error {
	return fmt.Errorf("%w: cannot %s activity %q instance %s in state %q",
		fleans.ErrInvalidTransition, op, a.ActivityID, a.ID, a.State)
}
