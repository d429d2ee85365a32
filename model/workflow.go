package model

// TaskRef points to one immutable TaskDefinition version.
type TaskRef struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// Mapping projects a value from a source path to a target path. Paths are
// dot separated relative to the owning context document, e.g.
// "state.raw_content" or "input.url".
type Mapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type Node struct {
	ID            string    `json:"id"`
	Task          TaskRef   `json:"task"`
	InputMapping  []Mapping `json:"input_mapping,omitempty"`
	OutputMapping []Mapping `json:"output_mapping,omitempty"`
	// OutputToRun is applied from run context into the run's output
	// document when the run completes at this node.
	OutputToRun []Mapping `json:"output_to_run,omitempty"`
}

// Transition is a prioritized, optionally conditional edge. An empty
// Condition means the transition is always eligible.
type Transition struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Priority  int    `json:"priority"`
	Condition string `json:"condition,omitempty"`
}

type WorkflowDefinition struct {
	ID            string       `json:"id"`
	Version       int          `json:"version"`
	StartNode     string       `json:"start_node"`
	RequiredInput []string     `json:"required_input,omitempty"`
	Nodes         []Node       `json:"nodes"`
	Transitions   []Transition `json:"transitions"`
}

func (w *WorkflowDefinition) Node(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Adjacency returns the node id to outgoing transitions index. Slices
// preserve definition order, which is the tie break for equal priorities.
func (w *WorkflowDefinition) Adjacency() map[string][]Transition {
	out := make(map[string][]Transition, len(w.Nodes))
	for _, n := range w.Nodes {
		out[n.ID] = nil
	}
	for _, t := range w.Transitions {
		out[t.From] = append(out[t.From], t)
	}
	return out
}
