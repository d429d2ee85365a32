package persistence

import (
	"sync"
	"time"

	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/util"
	"go.uber.org/zap"
)

// BufferedLog batches one run's events before handing them to the
// durable log, trading a bounded replay gap on crash for write
// throughput. The delegate's batch append is atomic, so the gapless
// sequence invariant holds: either the whole batch is durable or none
// of it is.
type BufferedLog struct {
	mu          sync.Mutex
	delegate    EventLog
	runID       string
	buf         []model.Event
	batchSize   int
	lastFlushed int64
	flusher     *util.TickWorker
	flusherWg   sync.WaitGroup
}

// NewBufferedLog wraps delegate for one run. lastFlushed seeds the
// durable position, non zero when resuming a recovered run.
func NewBufferedLog(delegate EventLog, runID string, batchSize int, flushInterval time.Duration, lastFlushed int64) *BufferedLog {
	if batchSize < 1 {
		batchSize = 1
	}
	b := &BufferedLog{
		delegate:    delegate,
		runID:       runID,
		batchSize:   batchSize,
		lastFlushed: lastFlushed,
	}
	if flushInterval > 0 {
		b.flusher = util.NewTickWorker("event-flusher-"+runID, flushInterval, make(chan struct{}), func() {
			if err := b.Flush(); err != nil {
				logger.Error("error flushing event buffer", zap.String("runId", b.runID), zap.Error(err))
			}
		}, &b.flusherWg)
		b.flusher.Start()
	}
	return b
}

// Append buffers one event, flushing when the batch bound is reached.
func (b *BufferedLog) Append(event model.Event) error {
	b.mu.Lock()
	b.buf = append(b.buf, event)
	full := len(b.buf) >= b.batchSize
	b.mu.Unlock()
	if full {
		return b.Flush()
	}
	return nil
}

// Flush writes the buffered batch to the durable log.
func (b *BufferedLog) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.delegate.Append(b.runID, b.buf); err != nil {
		return err
	}
	b.lastFlushed = b.buf[len(b.buf)-1].Sequence
	b.buf = b.buf[:0]
	return nil
}

// LastFlushed is the highest sequence known durable. Snapshots must not
// claim a position beyond it.
func (b *BufferedLog) LastFlushed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFlushed
}

// Close flushes remaining events and stops the background flusher.
func (b *BufferedLog) Close() error {
	if b.flusher != nil && b.flusher.IsRunning() {
		b.flusher.Stop()
		b.flusherWg.Wait()
	}
	return b.Flush()
}
