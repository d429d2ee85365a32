package model

import "time"

type EventType string

const EVENT_RUN_STARTED EventType = "run_started"
const EVENT_TASK_DISPATCHED EventType = "task_dispatched"
const EVENT_TASK_COMPLETED EventType = "task_completed"
const EVENT_TASK_FAILED EventType = "task_failed"
const EVENT_RUN_COMPLETED EventType = "run_completed"
const EVENT_RUN_FAILED EventType = "run_failed"
const EVENT_RUN_CANCELLED EventType = "run_cancelled"

// EventPayload carries the type specific fields of an event. Unused
// fields stay empty for a given event type.
type EventPayload struct {
	WorkflowID      string         `json:"workflow_id,omitempty"`
	WorkflowVersion int            `json:"workflow_version,omitempty"`
	Input           map[string]any `json:"input,omitempty"`
	NodeID          string         `json:"node_id,omitempty"`
	Task            TaskRef        `json:"task,omitempty"`
	Attempt         int            `json:"attempt,omitempty"`
	DispatchKey     string         `json:"dispatch_key,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	Error           *RunError      `json:"error,omitempty"`
}

// Event is an immutable record of a state changing occurrence in a run.
// Sequence is strictly increasing and gapless per run.
type Event struct {
	RunID     string       `json:"run_id"`
	Sequence  int64        `json:"sequence"`
	Type      EventType    `json:"type"`
	Payload   EventPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

// Snapshot captures reconstructed run state at a known event position.
// AfterSequence never exceeds the highest persisted sequence at capture
// time; the snapshot is an optimization over replay, never authoritative.
type Snapshot struct {
	WorkflowID      string      `json:"workflow_id"`
	WorkflowVersion int         `json:"workflow_version"`
	Context         *RunContext `json:"context"`
	Token           Token       `json:"token"`
	State           RunState    `json:"state"`
	Error           *RunError   `json:"error,omitempty"`
	AfterSequence   int64       `json:"after_sequence"`
}
