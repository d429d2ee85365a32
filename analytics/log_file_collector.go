package analytics

import (
	"os"
	"sync"

	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/util"
	"go.uber.org/zap"
)

// logFileDataCollector appends one JSON line per record. Writes go
// through a single worker so callers never wait on the file.
type logFileDataCollector struct {
	file   *os.File
	codec  util.EncoderDecoder[record]
	worker *util.Worker
	wg     sync.WaitGroup
}

func NewLogFileDataCollector(fileName string) (*logFileDataCollector, error) {
	file, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	c := &logFileDataCollector{
		file:  file,
		codec: util.NewJsonEncoderDecoder[record](),
	}
	c.worker = util.NewWorker("analytics-writer", &c.wg, c.write, 1024)
	c.worker.Start()
	return c, nil
}

func (c *logFileDataCollector) write(job util.Job) error {
	rec := job.(record)
	data, err := c.codec.Encode(rec)
	if err != nil {
		return err
	}
	if _, err := c.file.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (c *logFileDataCollector) RecordTaskSuccess(workflowID string, runID string, nodeID string, output map[string]any) {
	c.submit(record{
		Timestamp:  now(),
		WorkflowID: workflowID,
		RunID:      runID,
		NodeID:     nodeID,
		Outcome:    "success",
		Output:     output,
	})
}

func (c *logFileDataCollector) RecordTaskFailure(workflowID string, runID string, nodeID string, reason string) {
	c.submit(record{
		Timestamp:  now(),
		WorkflowID: workflowID,
		RunID:      runID,
		NodeID:     nodeID,
		Outcome:    "failure",
		Reason:     reason,
	})
}

func (c *logFileDataCollector) submit(rec record) {
	select {
	case c.worker.Sender() <- rec:
	default:
		logger.Warn("dropping analytics record, writer saturated", zap.String("runId", rec.RunID))
	}
}

func (c *logFileDataCollector) Stop() {
	c.worker.Stop()
	c.wg.Wait()
	if err := c.file.Close(); err != nil {
		logger.Error("error closing analytics file", zap.Error(err))
	}
}
