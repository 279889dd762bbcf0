package vars_test

import (
	"encoding/json"
	"testing"

	"github.com/nightBaker/fleans-sub002/vars"
)

func TestCloneIsolation(t *testing.T) {
	m := vars.Map{
		"amount": 42.5,
		"user":   map[string]any{"name": "ada"},
	}

	cp := m.Clone()
	cp["amount"] = 1.0
	cp["user"].(map[string]any)["name"] = "bob"

	if got, _ := m.GetNumber("amount"); got != 42.5 {
		t.Errorf("original amount mutated: %v", got)
	}
	if m["user"].(map[string]any)["name"] != "ada" {
		t.Error("nested value mutated through clone")
	}
}

func TestMergeOverwrites(t *testing.T) {
	m := vars.Map{"a": 1.0, "b": "keep"}
	m.Merge(vars.Map{"a": 2.0, "c": true})

	if got, _ := m.GetNumber("a"); got != 2.0 {
		t.Errorf("a = %v, want 2.0", got)
	}
	if got, _ := m.GetString("b"); got != "keep" {
		t.Errorf("b = %q, want %q", got, "keep")
	}
	if got, _ := m.GetBool("c"); !got {
		t.Error("c should be true after merge")
	}
}

func TestTypedAccessors(t *testing.T) {
	m := vars.Map{"n": 7, "s": "x", "b": false}

	if got, ok := m.GetNumber("n"); !ok || got != 7 {
		t.Errorf("GetNumber = %v, %v", got, ok)
	}
	if _, ok := m.GetNumber("s"); ok {
		t.Error("GetNumber should reject a string value")
	}
	if _, ok := m.GetString("missing"); ok {
		t.Error("GetString should report missing keys")
	}
}

func TestNilMapMarshalsAsEmptyObject(t *testing.T) {
	var m vars.Map

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("nil map marshals as %s, want {}", data)
	}
}
