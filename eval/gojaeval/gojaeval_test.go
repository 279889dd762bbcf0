package gojaeval_test

import (
	"context"
	"testing"

	"github.com/nightBaker/fleans-sub002/eval/gojaeval"
	"github.com/nightBaker/fleans-sub002/vars"
)

func TestEvaluateCondition(t *testing.T) {
	ev := gojaeval.New()
	ctx := context.Background()

	variables := vars.Map{"amount": float64(150), "tier": "gold"}

	cases := []struct {
		expression string
		want       bool
	}{
		{"amount > 100", true},
		{"amount > 200", false},
		{"tier === 'gold' && amount > 100", true},
		{"tier === 'silver'", false},
	}
	for _, tc := range cases {
		got, err := ev.EvaluateCondition(ctx, tc.expression, variables)
		if err != nil {
			t.Fatalf("EvaluateCondition(%q): %v", tc.expression, err)
		}
		if got != tc.want {
			t.Errorf("EvaluateCondition(%q) = %v, want %v", tc.expression, got, tc.want)
		}
	}
}

func TestEvaluateCondition_NonBooleanRejected(t *testing.T) {
	ev := gojaeval.New()
	if _, err := ev.EvaluateCondition(context.Background(), "1 + 1", vars.Map{}); err == nil {
		t.Fatal("non-boolean condition result must be an error")
	}
}

func TestEvaluateCondition_UndefinedIsFalse(t *testing.T) {
	ev := gojaeval.New()
	got, err := ev.EvaluateCondition(context.Background(), "undefined", vars.Map{})
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Fatal("undefined must evaluate to false")
	}
}

func TestExecuteScript_ReturnsFullMapping(t *testing.T) {
	ev := gojaeval.New()

	updated, err := ev.ExecuteScript(context.Background(),
		"variables.total = variables.price * variables.qty",
		"javascript",
		vars.Map{"price": float64(7), "qty": float64(6)},
	)
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}

	total, ok := updated.GetNumber("total")
	if !ok || total != 42 {
		t.Errorf("total = %v (%v), want 42", total, ok)
	}
	// The full mapping comes back, not a delta.
	if _, ok := updated.GetNumber("price"); !ok {
		t.Error("existing variables missing from the result mapping")
	}
}

func TestExecuteScript_UnsupportedFormat(t *testing.T) {
	ev := gojaeval.New()
	if _, err := ev.ExecuteScript(context.Background(), "x = 1", "lua", vars.Map{}); err == nil {
		t.Fatal("unsupported format must be rejected")
	}
}

func TestExecuteScript_SyntaxError(t *testing.T) {
	ev := gojaeval.New()
	if _, err := ev.ExecuteScript(context.Background(), "this is not javascript", "js", vars.Map{}); err == nil {
		t.Fatal("invalid script must fail")
	}
}
