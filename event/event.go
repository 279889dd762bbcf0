// Package event provides the event fabric for workflow coordination:
// typed topics, domain event payloads, and the publish/subscribe Bus
// contract with an in-process implementation for tests and development.
package event

import "github.com/nightBaker/fleans-sub002/vars"

// Topics for all domain events published by the engine.
const (
	// TopicActivityExecuted fires once per activity instance that starts
	// executing.
	TopicActivityExecuted = "workflow.activity.executed"

	// TopicEvaluateCondition carries condition evaluation requests for the
	// stateless evaluation workers.
	TopicEvaluateCondition = "evaluation.condition.requested"

	// TopicExecuteScript carries script execution requests for the
	// stateless evaluation workers.
	TopicExecuteScript = "evaluation.script.requested"

	// TopicWorkflowCompleted fires exactly once when an instance's active
	// set first drains after start.
	TopicWorkflowCompleted = "workflow.completed"

	// TopicWorkflowFailed fires when an instance records an unrouted
	// terminal failure.
	TopicWorkflowFailed = "workflow.failed"

	// TopicChildWorkflowCompleted notifies the parent context that a
	// sub-workflow finished.
	TopicChildWorkflowCompleted = "workflow.child.completed"

	// TopicChildWorkflowFailed notifies the parent context that a
	// sub-workflow failed, carrying the original code and message.
	TopicChildWorkflowFailed = "workflow.child.failed"
)

// ActivityExecuted is published when an activity instance starts executing.
type ActivityExecuted struct {
	WorkflowInstanceID string `json:"workflow_instance_id"`
	WorkflowID         string `json:"workflow_id"`
	ActivityInstanceID string `json:"activity_instance_id"`
	ActivityID         string `json:"activity_id"`
}

// EvaluateCondition requests a side-effect-free condition evaluation.
// Variables are a snapshot taken inside the requesting instance's turn so
// workers stay stateless.
type EvaluateCondition struct {
	WorkflowInstanceID string   `json:"workflow_instance_id"`
	ActivityInstanceID string   `json:"activity_instance_id"`
	SequenceFlowID     string   `json:"sequence_flow_id"`
	Expression         string   `json:"expression"`
	Variables          vars.Map `json:"variables"`
}

// ExecuteScript requests a script execution. The worker returns the full
// resulting variable mapping, not a delta.
type ExecuteScript struct {
	WorkflowInstanceID string   `json:"workflow_instance_id"`
	ActivityInstanceID string   `json:"activity_instance_id"`
	Script             string   `json:"script"`
	ScriptFormat       string   `json:"script_format"`
	Variables          vars.Map `json:"variables"`
}

// WorkflowCompleted is published exactly once per instance, when the
// active set first becomes empty after the instance was started.
type WorkflowCompleted struct {
	WorkflowInstanceID string `json:"workflow_instance_id"`
	WorkflowID         string `json:"workflow_id"`
}

// WorkflowFailed is published when an instance records an unrouted
// terminal failure.
type WorkflowFailed struct {
	WorkflowInstanceID string `json:"workflow_instance_id"`
	WorkflowID         string `json:"workflow_id"`
	ErrorCode          int    `json:"error_code"`
	ErrorMessage       string `json:"error_message"`
}

// ChildWorkflowCompleted notifies the parent workflow that the child
// instance spawned by one of its activities completed.
type ChildWorkflowCompleted struct {
	ParentInstanceID string   `json:"parent_instance_id"`
	ParentActivityID string   `json:"parent_activity_id"`
	WorkflowID       string   `json:"workflow_id"`
	ChildInstanceID  string   `json:"child_instance_id"`
	ChildVariables   vars.Map `json:"child_variables"`
}

// ChildWorkflowFailed notifies the parent workflow that the child
// instance spawned by one of its activities failed. ErrorCode and
// ErrorMessage carry the original failure unchanged.
type ChildWorkflowFailed struct {
	ParentInstanceID string `json:"parent_instance_id"`
	ParentActivityID string `json:"parent_activity_id"`
	WorkflowID       string `json:"workflow_id"`
	ChildInstanceID  string `json:"child_instance_id"`
	ErrorCode        int    `json:"error_code"`
	ErrorMessage     string `json:"error_message"`
}
