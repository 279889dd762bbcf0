// Package gojaeval provides a JavaScript Evaluator backed by the goja
// interpreter. Every invocation runs in a fresh VM so evaluations share
// no state, which keeps the evaluator safe for unbounded concurrent use.
package gojaeval

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/nightBaker/fleans-sub002/eval"
	"github.com/nightBaker/fleans-sub002/vars"
)

// Ensure Evaluator satisfies the pipeline contract.
var _ eval.Evaluator = (*Evaluator)(nil)

// Evaluator evaluates JavaScript conditions and scripts over the
// workflow variable bag.
//
// Conditions see each variable as a global and must produce a boolean.
// Scripts see the bag as a mutable `variables` object; the object's state
// after the run becomes the instance's full variable mapping.
type Evaluator struct{}

// New creates a goja-backed evaluator.
func New() *Evaluator { return &Evaluator{} }

// EvaluateCondition runs a boolean expression against the variables.
// A non-boolean result is an error, not a truthiness coercion.
func (e *Evaluator) EvaluateCondition(ctx context.Context, expression string, variables vars.Map) (bool, error) {
	vm := goja.New()
	stop := interruptOnCancel(ctx, vm)
	defer stop()

	for k, v := range variables {
		if err := vm.Set(k, v); err != nil {
			return false, fmt.Errorf("gojaeval: bind variable %q: %w", k, err)
		}
	}

	val, err := vm.RunString(expression)
	if err != nil {
		return false, fmt.Errorf("gojaeval: evaluate condition: %w", err)
	}
	if goja.IsUndefined(val) || goja.IsNull(val) {
		return false, nil
	}
	result, ok := val.Export().(bool)
	if !ok {
		return false, fmt.Errorf("gojaeval: condition %q did not produce a boolean", expression)
	}
	return result, nil
}

// ExecuteScript runs a script and returns the resulting variable
// mapping. Only the javascript format is supported.
func (e *Evaluator) ExecuteScript(ctx context.Context, script, format string, variables vars.Map) (vars.Map, error) {
	switch format {
	case "", "js", "javascript":
	default:
		return nil, fmt.Errorf("gojaeval: unsupported script format %q", format)
	}

	vm := goja.New()
	stop := interruptOnCancel(ctx, vm)
	defer stop()

	obj := vm.NewObject()
	for k, v := range variables {
		if err := obj.Set(k, vm.ToValue(v)); err != nil {
			return nil, fmt.Errorf("gojaeval: bind variable %q: %w", k, err)
		}
	}
	if err := vm.Set("variables", obj); err != nil {
		return nil, fmt.Errorf("gojaeval: bind variables object: %w", err)
	}

	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("gojaeval: execute script: %w", err)
	}

	val := vm.Get("variables")
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return variables.Clone(), nil
	}
	exported, ok := val.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("gojaeval: script replaced the variables object with a non-object")
	}
	return vars.Map(exported), nil
}

// interruptOnCancel aborts the VM when the context is cancelled. The
// returned stop function must be called once the run finishes.
func interruptOnCancel(ctx context.Context, vm *goja.Runtime) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() { close(done) }
}
