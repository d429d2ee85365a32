// Package expr evaluates definition expressions (transition conditions,
// step conditions) against a context document.
package expr

import (
	"fmt"

	"github.com/dop251/goja"
)

// Eval runs expression with the document bound as $ and each top level
// key bound as a global, so both "$.input.x == true" and
// "input.x == true" work.
func Eval(expression string, doc map[string]any) (any, error) {
	vm := goja.New()
	if err := vm.Set("$", doc); err != nil {
		return nil, err
	}
	for k, v := range doc {
		if err := vm.Set(k, v); err != nil {
			return nil, err
		}
	}
	val, err := vm.RunString(expression)
	if err != nil {
		return nil, fmt.Errorf("error evaluating expression %q: %w", expression, err)
	}
	return val.Export(), nil
}

// EvalBool evaluates expression and coerces the result with javascript
// truthiness.
func EvalBool(expression string, doc map[string]any) (bool, error) {
	vm := goja.New()
	if err := vm.Set("$", doc); err != nil {
		return false, err
	}
	for k, v := range doc {
		if err := vm.Set(k, v); err != nil {
			return false, err
		}
	}
	val, err := vm.RunString(expression)
	if err != nil {
		return false, fmt.Errorf("error evaluating expression %q: %w", expression, err)
	}
	return val.ToBoolean(), nil
}
