package instance_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/definition"
	"github.com/nightBaker/fleans-sub002/instance"
	"github.com/nightBaker/fleans-sub002/vars"
)

func chainDefinition() *definition.ProcessDefinition {
	def := definition.New("order", 1)
	def.Activities = []definition.Activity{
		{ID: "start", Kind: definition.KindStartEvent},
		{ID: "task", Kind: definition.KindTask},
		{ID: "end", Kind: definition.KindEndEvent},
	}
	def.Flows = []definition.SequenceFlow{
		{ID: "f1", SourceID: "start", TargetID: "task"},
		{ID: "f2", SourceID: "task", TargetID: "end"},
	}
	return def
}

func TestWorkflowInstance_StartRequiresDefinition(t *testing.T) {
	w := instance.New()

	if _, err := w.Start(); !errors.Is(err, fleans.ErrWorkflowNotSet) {
		t.Fatalf("Start before SetDefinition = %v, want ErrWorkflowNotSet", err)
	}
}

func TestWorkflowInstance_StartOnce(t *testing.T) {
	w := instance.New()
	if err := w.SetDefinition(chainDefinition()); err != nil {
		t.Fatalf("SetDefinition: %v", err)
	}

	started, err := w.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(started) != 1 || started[0].ActivityID != "start" {
		t.Fatalf("started = %+v, want single start event instance", started)
	}
	if !w.IsStarted || w.ExecutionStartedAt == nil {
		t.Error("IsStarted/ExecutionStartedAt not set")
	}

	if _, err := w.Start(); !errors.Is(err, fleans.ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestWorkflowInstance_ActivateIsIdempotentFanIn(t *testing.T) {
	w := instance.New()
	if err := w.SetDefinition(chainDefinition()); err != nil {
		t.Fatal(err)
	}

	task, _ := w.Definition.ActivityByID("task")
	first, created := w.Activate(task)
	if !created {
		t.Fatal("first Activate should create an instance")
	}
	second, created := w.Activate(task)
	if created {
		t.Error("second Activate created a duplicate live instance")
	}
	if second.ID != first.ID {
		t.Error("second Activate should return the existing live instance")
	}
}

func TestWorkflowInstance_MarkCompletedExactlyOnce(t *testing.T) {
	w := instance.New()
	if err := w.SetDefinition(chainDefinition()); err != nil {
		t.Fatal(err)
	}
	started, err := w.Start()
	if err != nil {
		t.Fatal(err)
	}

	// Still active: must not complete.
	if w.MarkCompleted() {
		t.Fatal("MarkCompleted with live activities")
	}

	ai := started[0]
	if err := ai.Complete(nil); err != nil {
		t.Fatal(err)
	}
	w.Archive(ai)

	if !w.MarkCompleted() {
		t.Fatal("MarkCompleted should flip when active set drains")
	}
	if w.MarkCompleted() {
		t.Fatal("MarkCompleted flipped twice")
	}
	if !w.IsCompleted || w.CompletedAt == nil {
		t.Error("completion state not recorded")
	}
}

func TestWorkflowInstance_FailureBlocksCompletion(t *testing.T) {
	w := instance.New()
	if err := w.SetDefinition(chainDefinition()); err != nil {
		t.Fatal(err)
	}
	started, err := w.Start()
	if err != nil {
		t.Fatal(err)
	}

	errState := instance.ErrorState{Code: 400, Message: "bad request"}
	if err := started[0].Fail(errState); err != nil {
		t.Fatal(err)
	}
	w.Archive(started[0])
	w.RecordFailure(errState)

	if w.MarkCompleted() {
		t.Fatal("a failed instance must never set IsCompleted")
	}
	if w.Failure == nil || w.Failure.Code != 400 {
		t.Errorf("Failure = %+v", w.Failure)
	}
}

func TestWorkflowInstance_ConditionCache(t *testing.T) {
	w := instance.New()
	ai := instance.NewActivityInstance(definition.Activity{ID: "gw", Kind: definition.KindExclusiveGateway})

	if cs := w.ConditionResult(ai.ID, "f1"); cs.Evaluated {
		t.Fatal("unexpected cached result")
	}

	w.SetConditionResult(ai.ID, "f1", true)
	cs := w.ConditionResult(ai.ID, "f1")
	if !cs.Evaluated || !cs.Result {
		t.Fatalf("cached = %+v, want evaluated true result", cs)
	}

	// Scoped to the gateway occurrence: a different instance misses.
	other := instance.NewActivityInstance(definition.Activity{ID: "gw", Kind: definition.KindExclusiveGateway})
	if cs := w.ConditionResult(other.ID, "f1"); cs.Evaluated {
		t.Fatal("cache leaked across gateway occurrences")
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	def := chainDefinition()
	w := instance.New()
	if err := w.SetDefinition(def); err != nil {
		t.Fatal(err)
	}
	started, err := w.Start()
	if err != nil {
		t.Fatal(err)
	}

	w.Variables.Merge(vars.Map{"amount": 42.5, "user": "ada"})
	w.SetConditionResult(started[0].ID, "f1", true)
	if err := started[0].Complete(nil); err != nil {
		t.Fatal(err)
	}
	w.Archive(started[0])
	task, _ := def.ActivityByID("task")
	w.Activate(task)
	w.Version = 3

	snap := w.Snapshot()

	// Snapshots must survive JSON serialization (the store boundary).
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded instance.Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored, err := instance.Restore(&decoded, def)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if restored.ID != w.ID {
		t.Errorf("ID = %s, want %s", restored.ID, w.ID)
	}
	if restored.Version != 3 {
		t.Errorf("Version = %d, want 3", restored.Version)
	}
	if !restored.IsStarted || restored.IsCompleted {
		t.Errorf("flags: started=%v completed=%v", restored.IsStarted, restored.IsCompleted)
	}
	if got, _ := restored.Variables.GetString("user"); got != "ada" {
		t.Errorf("variable user = %q", got)
	}
	if cs := restored.ConditionResult(started[0].ID, "f1"); !cs.Evaluated || !cs.Result {
		t.Errorf("condition cache lost: %+v", cs)
	}
	if len(restored.Active()) != 1 || restored.Active()[0].ActivityID != "task" {
		t.Errorf("active set lost: %+v", restored.Active())
	}
	if len(restored.Archived()) != 1 || restored.Archived()[0].State != instance.StateCompleted {
		t.Errorf("archived set lost: %+v", restored.Archived())
	}

	// A second snapshot of the restored instance must match the first.
	again := restored.Snapshot()
	data2, err := json.Marshal(again)
	if err != nil {
		t.Fatal(err)
	}
	var first, second map[string]any
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data2, &second); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("snapshot round-trip is not lossless")
	}
}
