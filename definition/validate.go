package definition

import (
	"fmt"

	"github.com/weftlabs/weft/model"
)

// Validate checks a workflow definition at deploy time. Runtime never
// sees an invalid graph.
func Validate(wf *model.WorkflowDefinition) error {
	if len(wf.Nodes) == 0 {
		return model.DefinitionError{Message: "workflow has no nodes"}
	}
	nodeIds := make(map[string]struct{}, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if n.ID == "" {
			return model.DefinitionError{Message: "node with empty id"}
		}
		if _, ok := nodeIds[n.ID]; ok {
			return model.DefinitionError{Message: fmt.Sprintf("node id %s is duplicate", n.ID)}
		}
		nodeIds[n.ID] = struct{}{}
		if n.Task.ID == "" {
			return model.DefinitionError{Message: fmt.Sprintf("node %s references no task", n.ID)}
		}
	}
	if _, ok := nodeIds[wf.StartNode]; !ok {
		return model.DefinitionError{Message: fmt.Sprintf("no node with start node id %s in workflow", wf.StartNode)}
	}
	for _, t := range wf.Transitions {
		if _, ok := nodeIds[t.From]; !ok {
			return model.DefinitionError{Message: fmt.Sprintf("transition from unknown node %s", t.From)}
		}
		if _, ok := nodeIds[t.To]; !ok {
			return model.DefinitionError{Message: fmt.Sprintf("transition to unknown node %s", t.To)}
		}
	}
	if cycle := findUnguardedCycle(wf); cycle != "" {
		return model.DefinitionError{Message: fmt.Sprintf("cycle through node %s has no conditional transition", cycle)}
	}
	return nil
}

// findUnguardedCycle looks for a cycle in the subgraph of condition free
// transitions. Any such cycle can never terminate, so it is rejected
// here rather than guarded against at runtime. Returns a node on the
// cycle, or "".
func findUnguardedCycle(wf *model.WorkflowDefinition) string {
	adj := make(map[string][]string)
	for _, t := range wf.Transitions {
		if t.Condition == "" {
			adj[t.From] = append(adj[t.From], t.To)
		}
	}
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	color := make(map[string]int)
	var visit func(string) string
	visit = func(node string) string {
		color[node] = inStack
		for _, next := range adj[node] {
			switch color[next] {
			case inStack:
				return next
			case unvisited:
				if found := visit(next); found != "" {
					return found
				}
			}
		}
		color[node] = done
		return ""
	}
	for _, n := range wf.Nodes {
		if color[n.ID] == unvisited {
			if found := visit(n.ID); found != "" {
				return found
			}
		}
	}
	return ""
}

// ValidateTask checks a task definition: dense unique ordinals, known
// policies and branch outcomes, sane retry bounds.
func ValidateTask(task *model.TaskDefinition) error {
	if len(task.Steps) == 0 {
		return model.DefinitionError{Message: fmt.Sprintf("task %s has no steps", task.ID)}
	}
	seen := make(map[int]struct{}, len(task.Steps))
	for _, s := range task.Steps {
		if s.Ordinal < 0 || s.Ordinal >= len(task.Steps) {
			return model.DefinitionError{Message: fmt.Sprintf("task %s step ordinal %d out of range", task.ID, s.Ordinal)}
		}
		if _, ok := seen[s.Ordinal]; ok {
			return model.DefinitionError{Message: fmt.Sprintf("task %s step ordinal %d is duplicate", task.ID, s.Ordinal)}
		}
		seen[s.Ordinal] = struct{}{}
		if s.Action == "" {
			return model.DefinitionError{Message: fmt.Sprintf("task %s step %d references no action", task.ID, s.Ordinal)}
		}
		switch s.OnFailure {
		case "", model.FAILURE_ABORT, model.FAILURE_RETRY, model.FAILURE_CONTINUE:
		default:
			return model.DefinitionError{Message: fmt.Sprintf("task %s step %d has unknown on_failure %q", task.ID, s.Ordinal, s.OnFailure)}
		}
		if s.Condition != nil {
			if s.Condition.If == "" {
				return model.DefinitionError{Message: fmt.Sprintf("task %s step %d condition without expression", task.ID, s.Ordinal)}
			}
			for _, branch := range []model.BranchOutcome{s.Condition.Then, s.Condition.Else} {
				switch branch {
				case model.BRANCH_CONTINUE, model.BRANCH_SKIP, model.BRANCH_SUCCEED, model.BRANCH_FAIL:
				default:
					return model.DefinitionError{Message: fmt.Sprintf("task %s step %d has unknown branch outcome %q", task.ID, s.Ordinal, branch)}
				}
			}
		}
	}
	if task.Retry.MaxAttempts < 1 {
		return model.DefinitionError{Message: fmt.Sprintf("task %s max_attempts must be at least 1", task.ID)}
	}
	switch task.Retry.Policy {
	case "", model.RETRY_POLICY_FIXED, model.RETRY_POLICY_BACKOFF:
	default:
		return model.DefinitionError{Message: fmt.Sprintf("task %s has unknown retry policy %q", task.ID, task.Retry.Policy)}
	}
	return nil
}
