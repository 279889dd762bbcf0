package instance

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nightBaker/fleans-sub002/definition"
	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/vars"
)

// Snapshot is the persisted/query shape of a workflow instance. It
// round-trips losslessly through Restore.
type Snapshot struct {
	ID                string `json:"id"`
	DefinitionID      string `json:"definition_id,omitempty"`
	DefinitionKey     string `json:"definition_key,omitempty"`
	DefinitionVersion int    `json:"definition_version,omitempty"`

	IsStarted   bool        `json:"is_started"`
	IsCompleted bool        `json:"is_completed"`
	Failure     *ErrorState `json:"failure,omitempty"`

	ParentInstanceID string `json:"parent_instance_id,omitempty"`
	ParentActivityID string `json:"parent_activity_id,omitempty"`

	CreatedAt          time.Time  `json:"created_at"`
	ExecutionStartedAt *time.Time `json:"execution_started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	ActiveActivities        []ActivitySnapshot       `json:"active_activities"`
	CompletedActivities     []ActivitySnapshot       `json:"completed_activities"`
	VariableStates          []VariableState          `json:"variable_states"`
	ConditionSequenceStates []ConditionSequenceState `json:"condition_sequence_states"`

	ConcurrencyToken int64 `json:"concurrency_token"`
}

// ActivitySnapshot is the persisted shape of one activity instance.
type ActivitySnapshot struct {
	ID           string `json:"id"`
	ActivityID   string `json:"activity_id"`
	ActivityType string `json:"activity_type"`

	IsExecuting bool `json:"is_executing"`
	IsCompleted bool `json:"is_completed"`
	IsFailed    bool `json:"is_failed"`
	IsCancelled bool `json:"is_cancelled"`

	Result             any         `json:"result,omitempty"`
	ErrorState         *ErrorState `json:"error_state,omitempty"`
	CancellationReason string      `json:"cancellation_reason,omitempty"`

	ChildWorkflowInstanceID string `json:"child_workflow_instance_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// VariableState is one entry of the instance variable mapping.
type VariableState struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ConditionSequenceState is one cached condition evaluation, keyed by the
// gateway occurrence and sequence flow that produced it.
type ConditionSequenceState struct {
	ActivityInstanceID string `json:"activity_instance_id"`
	SequenceFlowID     string `json:"sequence_flow_id"`
	Evaluated          bool   `json:"evaluated"`
	Result             bool   `json:"result"`
}

// Snapshot captures the instance's full persisted state. Variable states
// are emitted in sorted key order for determinism.
func (w *WorkflowInstance) Snapshot() *Snapshot {
	s := &Snapshot{
		ID:                 w.ID.String(),
		IsStarted:          w.IsStarted,
		IsCompleted:        w.IsCompleted,
		Failure:            w.Failure,
		CreatedAt:          w.CreatedAt,
		ExecutionStartedAt: w.ExecutionStartedAt,
		CompletedAt:        w.CompletedAt,
		ConcurrencyToken:   w.Version,
	}
	if w.Definition != nil {
		s.DefinitionID = w.Definition.ID.String()
		s.DefinitionKey = w.Definition.Key
		s.DefinitionVersion = w.Definition.Version
	}
	if w.Parent != nil {
		s.ParentInstanceID = w.Parent.InstanceID.String()
		s.ParentActivityID = w.Parent.ActivityID
	}

	s.ActiveActivities = make([]ActivitySnapshot, 0, len(w.active))
	for _, ai := range w.active {
		s.ActiveActivities = append(s.ActiveActivities, snapshotActivity(ai))
	}
	s.CompletedActivities = make([]ActivitySnapshot, 0, len(w.archived))
	for _, ai := range w.archived {
		s.CompletedActivities = append(s.CompletedActivities, snapshotActivity(ai))
	}

	keys := make([]string, 0, len(w.Variables))
	for k := range w.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.VariableStates = make([]VariableState, 0, len(keys))
	for _, k := range keys {
		s.VariableStates = append(s.VariableStates, VariableState{Key: k, Value: w.Variables[k]})
	}

	condKeys := make([]string, 0, len(w.conditions))
	for k := range w.conditions {
		condKeys = append(condKeys, k)
	}
	sort.Strings(condKeys)
	s.ConditionSequenceStates = make([]ConditionSequenceState, 0, len(condKeys))
	for _, k := range condKeys {
		actInstID, flowID, _ := strings.Cut(k, "/")
		cs := w.conditions[k]
		s.ConditionSequenceStates = append(s.ConditionSequenceStates, ConditionSequenceState{
			ActivityInstanceID: actInstID,
			SequenceFlowID:     flowID,
			Evaluated:          cs.Evaluated,
			Result:             cs.Result,
		})
	}

	return s
}

// Restore reconstructs a workflow instance from its snapshot and the
// definition it was bound to. The definition may be nil when the snapshot
// was taken before binding.
func Restore(s *Snapshot, def *definition.ProcessDefinition) (*WorkflowInstance, error) {
	instID, err := id.ParseInstanceID(s.ID)
	if err != nil {
		return nil, fmt.Errorf("instance: restore: %w", err)
	}

	w := &WorkflowInstance{
		ID:                 instID,
		Definition:         def,
		IsStarted:          s.IsStarted,
		IsCompleted:        s.IsCompleted,
		Failure:            s.Failure,
		Variables:          vars.Map{},
		CreatedAt:          s.CreatedAt,
		ExecutionStartedAt: s.ExecutionStartedAt,
		CompletedAt:        s.CompletedAt,
		Version:            s.ConcurrencyToken,
		conditions:         make(map[string]ConditionState, len(s.ConditionSequenceStates)),
	}

	if s.ParentInstanceID != "" {
		parentID, err := id.ParseInstanceID(s.ParentInstanceID)
		if err != nil {
			return nil, fmt.Errorf("instance: restore parent: %w", err)
		}
		w.Parent = &ParentLink{InstanceID: parentID, ActivityID: s.ParentActivityID}
	}

	for _, vs := range s.VariableStates {
		w.Variables[vs.Key] = vs.Value
	}
	for _, cs := range s.ConditionSequenceStates {
		w.conditions[cs.ActivityInstanceID+"/"+cs.SequenceFlowID] = ConditionState{
			Evaluated: cs.Evaluated,
			Result:    cs.Result,
		}
	}

	for _, as := range s.ActiveActivities {
		ai, err := restoreActivity(as)
		if err != nil {
			return nil, err
		}
		w.active = append(w.active, ai)
	}
	for _, as := range s.CompletedActivities {
		ai, err := restoreActivity(as)
		if err != nil {
			return nil, err
		}
		w.archived = append(w.archived, ai)
	}

	return w, nil
}

func snapshotActivity(ai *ActivityInstance) ActivitySnapshot {
	as := ActivitySnapshot{
		ID:                 ai.ID.String(),
		ActivityID:         ai.ActivityID,
		ActivityType:       string(ai.Kind),
		IsExecuting:        ai.State == StateExecuting,
		IsCompleted:        ai.State == StateCompleted,
		IsFailed:           ai.State == StateFailed,
		IsCancelled:        ai.State == StateCancelled,
		Result:             ai.Result,
		ErrorState:         ai.Error,
		CancellationReason: ai.CancellationReason,
		CreatedAt:          ai.CreatedAt,
		StartedAt:          ai.StartedAt,
		CompletedAt:        ai.CompletedAt,
	}
	if !ai.ChildInstanceID.IsNil() {
		as.ChildWorkflowInstanceID = ai.ChildInstanceID.String()
	}
	return as
}

func restoreActivity(as ActivitySnapshot) (*ActivityInstance, error) {
	actInstID, err := id.ParseActivityInstanceID(as.ID)
	if err != nil {
		return nil, fmt.Errorf("instance: restore activity: %w", err)
	}

	state := StateCreated
	switch {
	case as.IsCancelled:
		state = StateCancelled
	case as.IsFailed:
		state = StateFailed
	case as.IsCompleted:
		state = StateCompleted
	case as.IsExecuting:
		state = StateExecuting
	}

	ai := &ActivityInstance{
		ID:                 actInstID,
		ActivityID:         as.ActivityID,
		Kind:               definition.Kind(as.ActivityType),
		State:              state,
		Result:             as.Result,
		Error:              as.ErrorState,
		CancellationReason: as.CancellationReason,
		CreatedAt:          as.CreatedAt,
		StartedAt:          as.StartedAt,
		CompletedAt:        as.CompletedAt,
	}
	if as.ChildWorkflowInstanceID != "" {
		childID, err := id.ParseInstanceID(as.ChildWorkflowInstanceID)
		if err != nil {
			return nil, fmt.Errorf("instance: restore child link: %w", err)
		}
		ai.ChildInstanceID = childID
	}
	return ai, nil
}
