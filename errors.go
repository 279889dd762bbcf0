package fleans

import (
	"errors"
	"fmt"
)

var (
	// Definition errors.
	ErrDefinitionNotFound = errors.New("fleans: process definition not found")

	// Instance lifecycle errors.
	ErrWorkflowNotSet  = errors.New("fleans: workflow definition not set")
	ErrAlreadyStarted  = errors.New("fleans: workflow instance already started")
	ErrInstanceNotFound = errors.New("fleans: workflow instance not found")

	// State machine errors.
	ErrInvalidTransition = errors.New("fleans: invalid activity state transition")
	ErrUnknownActivity   = errors.New("fleans: no executing activity instance for activity")

	// Routing errors.
	ErrNoMatchingFlow = errors.New("fleans: no matching sequence flow")

	// Store errors.
	ErrSnapshotNotFound = errors.New("fleans: snapshot not found")
	ErrStaleSnapshot    = errors.New("fleans: stale snapshot write rejected")

	// Engine errors.
	ErrEngineStopped = errors.New("fleans: engine stopped")
)

// ActivityError is a failure raised by (or attributed to) an activity
// instance. It carries a numeric code used by error-connection routing and
// a human-readable message. The code and message cross child/parent
// workflow boundaries unchanged.
type ActivityError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ActivityError) Error() string {
	return fmt.Sprintf("fleans: activity error %d: %s", e.Code, e.Message)
}

// NewActivityError creates an ActivityError with the given code and message.
func NewActivityError(code int, message string) *ActivityError {
	return &ActivityError{Code: code, Message: message}
}

// NoMatchingFlowCode is the ActivityError code assigned when gateway
// routing finds no matching conditional flow and no default flow.
const NoMatchingFlowCode = 404

// EvaluationFailedCode is the ActivityError code assigned when an
// asynchronous evaluation cannot produce a result (evaluator failure
// after the retry budget, or a timed-out round-trip).
const EvaluationFailedCode = 500

// NewNoMatchingFlowError creates the ActivityError recorded on a gateway
// instance whose routing dead-ends.
func NewNoMatchingFlowError(activityID string) *ActivityError {
	return &ActivityError{
		Code:    NoMatchingFlowCode,
		Message: fmt.Sprintf("no matching sequence flow out of activity %q", activityID),
	}
}

// DefinitionError reports an invalid process graph. It is surfaced at
// registration time and is fatal to registration.
type DefinitionError struct {
	DefinitionID string
	Reason       string
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	return fmt.Sprintf("fleans: invalid definition %q: %s", e.DefinitionID, e.Reason)
}
