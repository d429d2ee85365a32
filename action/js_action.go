package action

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/goccy/go-json"
	"github.com/weftlabs/weft/model"
)

// jsAction runs a javascript snippet against the step input bound as $.
// The final value of $ is the action output.
type jsAction struct {
	name   string
	script string
}

var _ Action = new(jsAction)

func NewJsAction(name string, script string) *jsAction {
	return &jsAction{name: name, script: script}
}

func (a *jsAction) Name() string { return a.name }

func (a *jsAction) Execute(_ context.Context, input map[string]any) (map[string]any, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, model.ActionError{Action: a.name, Message: err.Error()}
	}
	program := fmt.Sprintf("var $ = %s;\n%s\n$", data, a.script)
	vm := goja.New()
	val, err := vm.RunString(program)
	if err != nil {
		return nil, model.ActionError{Action: a.name, Message: fmt.Sprintf("error executing javascript: %v", err)}
	}
	exported := val.Export()
	output, ok := exported.(map[string]any)
	if !ok {
		return nil, model.ActionError{Action: a.name, Message: fmt.Sprintf("script left $ as %T, expected object", exported)}
	}
	return output, nil
}
