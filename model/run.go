package model

type RunState string

const RUN_PENDING RunState = "pending"
const RUN_RUNNING RunState = "running"
const RUN_WAITING_TASK RunState = "waiting_task"
const RUN_COMPLETED RunState = "completed"
const RUN_FAILED RunState = "failed"
const RUN_CANCELLED RunState = "cancelled"

func (s RunState) Terminal() bool {
	return s == RUN_COMPLETED || s == RUN_FAILED || s == RUN_CANCELLED
}

// RunContext is the hierarchical document owned by exactly one run
// coordinator for the run's lifetime. It is mutated only through node
// output projections.
type RunContext struct {
	Input  map[string]any `json:"input"`
	State  map[string]any `json:"state"`
	Output map[string]any `json:"output"`
}

func NewRunContext(input map[string]any) *RunContext {
	if input == nil {
		input = map[string]any{}
	}
	return &RunContext{
		Input:  input,
		State:  map[string]any{},
		Output: map[string]any{},
	}
}

// Document exposes the context as one tree for path lookup and mutation.
// The returned map shares the underlying input/state/output maps.
func (c *RunContext) Document() map[string]any {
	return map[string]any{
		"input":  c.Input,
		"state":  c.State,
		"output": c.Output,
	}
}

func (c *RunContext) DeepCopy() *RunContext {
	return &RunContext{
		Input:  deepCopyMap(c.Input),
		State:  deepCopyMap(c.State),
		Output: deepCopyMap(c.Output),
	}
}

// CopyDocument deep copies a tree shaped document.
func CopyDocument(m map[string]any) map[string]any {
	return deepCopyMap(m)
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// Token points at the current node of a run. Single active node, no
// fan-out.
type Token struct {
	NodeID string `json:"node_id"`
}

type RunStatus struct {
	RunID           string         `json:"run_id"`
	WorkflowID      string         `json:"workflow_id"`
	WorkflowVersion int            `json:"workflow_version"`
	State           RunState       `json:"state"`
	CurrentNode     string         `json:"current_node,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	Error           *RunError      `json:"error,omitempty"`
}

type RunRequest struct {
	WorkflowID      string         `json:"workflow_id"`
	WorkflowVersion int            `json:"workflow_version"`
	Input           map[string]any `json:"input"`
}
