// Package analytics records per-task run history for offline analysis,
// separate from the event log that drives recovery.
package analytics

import (
	"sync"
	"time"
)

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const NO_OP_DATA_COLLECTOR DataCollectorType = "NO_OP_DATA_COLLECTOR"

// RunDataCollector receives task level run history. Implementations
// must not block the caller.
type RunDataCollector interface {
	RecordTaskSuccess(workflowID string, runID string, nodeID string, output map[string]any)
	RecordTaskFailure(workflowID string, runID string, nodeID string, reason string)
	Stop()
}

type record struct {
	Timestamp  int64          `json:"ts"`
	WorkflowID string         `json:"workflow_id"`
	RunID      string         `json:"run_id"`
	NodeID     string         `json:"node_id"`
	Outcome    string         `json:"outcome"`
	Output     map[string]any `json:"output,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

var (
	mu           sync.RWMutex
	runCollector RunDataCollector
)

func InitDataCollector(config DataCollectorConfig) error {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		c, err := NewLogFileDataCollector(config.FileName)
		if err != nil {
			return err
		}
		mu.Lock()
		runCollector = c
		mu.Unlock()
	}
	return nil
}

func RecordTaskSuccess(workflowID string, runID string, nodeID string, output map[string]any) {
	mu.RLock()
	c := runCollector
	mu.RUnlock()
	if c != nil {
		c.RecordTaskSuccess(workflowID, runID, nodeID, output)
	}
}

func RecordTaskFailure(workflowID string, runID string, nodeID string, reason string) {
	mu.RLock()
	c := runCollector
	mu.RUnlock()
	if c != nil {
		c.RecordTaskFailure(workflowID, runID, nodeID, reason)
	}
}

func StopDataCollector() {
	mu.Lock()
	c := runCollector
	runCollector = nil
	mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

func now() int64 {
	return time.Now().UnixMilli()
}
