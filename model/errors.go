package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the taxonomy carried on terminal run failures and in
// task_failed events.
type ErrorKind string

const ERROR_KIND_DEFINITION ErrorKind = "definition"
const ERROR_KIND_MAPPING ErrorKind = "mapping"
const ERROR_KIND_ACTION ErrorKind = "action"
const ERROR_KIND_RETRY_EXHAUSTED ErrorKind = "retry_exhausted"
const ERROR_KIND_TIMEOUT ErrorKind = "timeout"
const ERROR_KIND_RECOVERY ErrorKind = "recovery"
const ERROR_KIND_NO_TRANSITION ErrorKind = "no_eligible_transition"
const ERROR_KIND_STORAGE ErrorKind = "storage"
const ERROR_KIND_INTERNAL ErrorKind = "internal"

// DefinitionError marks an invalid graph or task definition. Rejected at
// validation time, never at run time.
type DefinitionError struct {
	Message string
}

func (e DefinitionError) Error() string {
	return fmt.Sprintf("invalid definition: %s", e.Message)
}

// MappingError marks a declared path absent from the source document
// during projection. Aborts the run, non retryable.
type MappingError struct {
	Path    string
	Message string
}

func (e MappingError) Error() string {
	return fmt.Sprintf("mapping error at path %q: %s", e.Path, e.Message)
}

// ActionError is a failure reported by an invoked action, classified
// retryable or not by the invoker.
type ActionError struct {
	Action    string
	Message   string
	Retryable bool
}

func (e ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %s", e.Action, e.Message)
}

type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e RetryExhaustedError) Unwrap() error { return e.Last }

type TimeoutError struct {
	Message string
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s", e.Message)
}

// RecoveryError is fatal: the run cannot be safely resumed and must be
// surfaced for operator intervention.
type RecoveryError struct {
	RunID   string
	Message string
}

func (e RecoveryError) Error() string {
	return fmt.Sprintf("run %s cannot be recovered: %s", e.RunID, e.Message)
}

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

// RunError is the failure detail attached to a failed run: the kind, the
// node and, when applicable, the step at which it occurred.
type RunError struct {
	Kind        ErrorKind `json:"kind"`
	NodeID      string    `json:"node_id,omitempty"`
	StepOrdinal int       `json:"step_ordinal,omitempty"`
	Message     string    `json:"message"`
}

func (e RunError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s error at node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// KindOf classifies an error into the taxonomy.
func KindOf(err error) ErrorKind {
	var de DefinitionError
	var me MappingError
	var ae ActionError
	var re RetryExhaustedError
	var te TimeoutError
	var ve RecoveryError
	var se StorageLayerError
	switch {
	case errors.As(err, &de):
		return ERROR_KIND_DEFINITION
	case errors.As(err, &me):
		return ERROR_KIND_MAPPING
	case errors.As(err, &te):
		return ERROR_KIND_TIMEOUT
	case errors.As(err, &re):
		return ERROR_KIND_RETRY_EXHAUSTED
	case errors.As(err, &ae):
		return ERROR_KIND_ACTION
	case errors.As(err, &ve):
		return ERROR_KIND_RECOVERY
	case errors.As(err, &se):
		return ERROR_KIND_STORAGE
	default:
		return ERROR_KIND_INTERNAL
	}
}
