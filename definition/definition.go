// Package definition defines the immutable process definition graph:
// activities, sequence flows, error connections, and graph validation.
package definition

import (
	"github.com/nightBaker/fleans-sub002/id"
)

// Kind identifies the variant of an activity node.
type Kind string

// Activity kinds.
const (
	KindStartEvent       Kind = "start_event"
	KindEndEvent         Kind = "end_event"
	KindTask             Kind = "task"
	KindScriptTask       Kind = "script_task"
	KindExclusiveGateway Kind = "exclusive_gateway"
	KindParallelGateway  Kind = "parallel_gateway"
	KindSubWorkflowCall  Kind = "sub_workflow_call"
)

// Activity is a node in the process graph.
type Activity struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"`

	// Script and ScriptFormat apply to KindScriptTask only. The script is
	// executed through the evaluation pipeline when the activity starts.
	Script       string `json:"script,omitempty"`
	ScriptFormat string `json:"script_format,omitempty"`

	// WorkflowKey applies to KindSubWorkflowCall only: the definition key
	// of the child workflow to spawn.
	WorkflowKey string `json:"workflow_key,omitempty"`
}

// SequenceFlow is a directed edge between two activities. A flow with an
// empty Expression is the unconditional default; a non-empty Expression
// makes the flow conditional on the evaluated result.
type SequenceFlow struct {
	ID         string `json:"id"`
	SourceID   string `json:"source_id"`
	TargetID   string `json:"target_id"`
	Expression string `json:"expression,omitempty"`
}

// IsDefault reports whether the flow is unconditional.
func (f SequenceFlow) IsDefault() bool { return f.Expression == "" }

// ErrorConnection is a directed edge taken only when the source activity
// instance fails. It matches when the failure's code equals ErrorCode
// (zero matches any code) and, if Expression is set, when the expression
// evaluates true against the instance variables.
type ErrorConnection struct {
	ID         string `json:"id"`
	SourceID   string `json:"source_id"`
	TargetID   string `json:"target_id"`
	ErrorCode  int    `json:"error_code,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// ProcessDefinition is an immutable, versioned graph of activities and
// sequence flows. Construct one, call Validate, then treat it as
// read-only: the engine shares a single definition across all of its
// instances and across goroutines.
type ProcessDefinition struct {
	ID      id.DefinitionID `json:"id"`
	Key     string          `json:"key"`
	Version int             `json:"version"`

	Activities       []Activity        `json:"activities"`
	Flows            []SequenceFlow    `json:"flows"`
	ErrorConnections []ErrorConnection `json:"error_connections,omitempty"`
}

// New creates a process definition with a fresh definition ID.
func New(key string, version int) *ProcessDefinition {
	return &ProcessDefinition{
		ID:      id.NewDefinitionID(),
		Key:     key,
		Version: version,
	}
}

// ActivityByID returns the activity with the given id.
func (d *ProcessDefinition) ActivityByID(activityID string) (Activity, bool) {
	for _, a := range d.Activities {
		if a.ID == activityID {
			return a, true
		}
	}
	return Activity{}, false
}

// StartActivities returns all start-event activities in declaration order.
func (d *ProcessDefinition) StartActivities() []Activity {
	var starts []Activity
	for _, a := range d.Activities {
		if a.Kind == KindStartEvent {
			starts = append(starts, a)
		}
	}
	return starts
}

// OutgoingFlows returns the sequence flows leaving the given activity, in
// declaration order. Declaration order is the tie-break used by routing.
func (d *ProcessDefinition) OutgoingFlows(activityID string) []SequenceFlow {
	var out []SequenceFlow
	for _, f := range d.Flows {
		if f.SourceID == activityID {
			out = append(out, f)
		}
	}
	return out
}

// OutgoingErrorConnections returns the error connections leaving the given
// activity, in declaration order.
func (d *ProcessDefinition) OutgoingErrorConnections(activityID string) []ErrorConnection {
	var out []ErrorConnection
	for _, c := range d.ErrorConnections {
		if c.SourceID == activityID {
			out = append(out, c)
		}
	}
	return out
}

// FlowByID returns the sequence flow with the given id.
func (d *ProcessDefinition) FlowByID(flowID string) (SequenceFlow, bool) {
	for _, f := range d.Flows {
		if f.ID == flowID {
			return f, true
		}
	}
	return SequenceFlow{}, false
}
