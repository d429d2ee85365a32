package coordinator

import (
	"errors"
	"fmt"

	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/persistence"
	"github.com/weftlabs/weft/telemetry"
	"go.uber.org/zap"
)

// Recover rebuilds a run from its latest snapshot plus replay of every
// event recorded after it, then resumes where the run left off. A
// missing snapshot degrades to a full replay from sequence one. Gaps in
// the log are fatal for the run and reported as a RecoveryError rather
// than guessed around.
func Recover(runID string, deps Deps, opts Options) (*Coordinator, error) {
	c := New(runID, deps, opts)

	var replayFrom int64 = 1
	snap, err := deps.Snapshots.GetLatest(runID)
	switch {
	case err == nil:
		wf, lerr := c.loader.GetWorkflowDefinition(snap.WorkflowID, snap.WorkflowVersion)
		if lerr != nil {
			return nil, model.RecoveryError{RunID: runID, Message: lerr.Error()}
		}
		c.mu.Lock()
		c.wf = wf
		c.adjacency = wf.Adjacency()
		c.runCtx = snap.Context.DeepCopy()
		c.token = snap.Token
		c.state = snap.State
		c.failure = snap.Error
		c.seq = snap.AfterSequence
		c.lastSnapshotSeq = snap.AfterSequence
		c.mu.Unlock()
		replayFrom = snap.AfterSequence + 1
	case errors.Is(err, persistence.ErrNoSnapshot):
		// full replay below
	default:
		return nil, model.RecoveryError{RunID: runID, Message: err.Error()}
	}

	events, err := deps.EventLog.Read(runID, replayFrom)
	if err != nil {
		return nil, model.RecoveryError{RunID: runID, Message: err.Error()}
	}
	if replayFrom == 1 {
		if len(events) == 0 {
			return nil, model.RecoveryError{RunID: runID, Message: "no snapshot and no events"}
		}
		if events[0].Type != model.EVENT_RUN_STARTED {
			return nil, model.RecoveryError{RunID: runID, Message: "log does not begin with run_started"}
		}
		wf, lerr := c.loader.GetWorkflowDefinition(events[0].Payload.WorkflowID, events[0].Payload.WorkflowVersion)
		if lerr != nil {
			return nil, model.RecoveryError{RunID: runID, Message: lerr.Error()}
		}
		c.mu.Lock()
		c.wf = wf
		c.adjacency = wf.Adjacency()
		c.mu.Unlock()
	}

	expected := replayFrom
	var last *model.Event
	for i := range events {
		ev := events[i]
		if ev.Sequence != expected {
			return nil, model.RecoveryError{
				RunID:   runID,
				Message: fmt.Sprintf("gap in event log: expected sequence %d, found %d", expected, ev.Sequence),
			}
		}
		if aerr := c.apply(ev); aerr != nil {
			return nil, model.RecoveryError{RunID: runID, Message: aerr.Error()}
		}
		expected++
		last = &events[i]
	}

	c.mu.Lock()
	c.log = persistence.NewBufferedLog(deps.EventLog, runID, c.opts.EventBatchSize, c.opts.EventFlushEvery, c.seq)
	state := c.state
	token := c.token
	attempt := c.attempt
	c.mu.Unlock()

	telemetry.Count(telemetry.MRunsRecovered, 1)
	logger.Info("run recovered",
		zap.String("runId", runID),
		zap.String("state", string(state)),
		zap.Int64("sequence", c.seq))

	if state.Terminal() {
		if cerr := c.log.Close(); cerr != nil {
			logger.Error("error closing event log", zap.String("runId", runID), zap.Error(cerr))
		}
		close(c.doneCh)
		return c, nil
	}

	c.startLoop()
	switch {
	case state == model.RUN_WAITING_TASK:
		// dangling dispatch: re-fire with the idempotency key already
		// on the log
		node, ok := c.wf.Node(token.NodeID)
		if !ok {
			c.failRun(&model.RunError{Kind: model.ERROR_KIND_RECOVERY, NodeID: token.NodeID, Message: "token node not in definition"})
			c.finalize()
			return c, nil
		}
		key := fmt.Sprintf("%s:%s:%d", runID, node.ID, attempt)
		if lerr := c.launch(node, attempt, key); lerr != nil {
			c.failNode(node.ID, lerr)
		}
	case last != nil && last.Type == model.EVENT_TASK_FAILED:
		c.failRun(c.failureOrUnknown(token.NodeID))
		c.finalize()
	case last != nil && last.Type == model.EVENT_TASK_COMPLETED:
		go c.advance()
	case last != nil && last.Type == model.EVENT_RUN_STARTED:
		// crashed between run_started and the first dispatch
		node, _ := c.wf.Node(token.NodeID)
		if derr := c.dispatch(node, 1); derr != nil {
			c.failNode(node.ID, derr)
		}
	case state == model.RUN_RUNNING:
		// snapshot taken between a task result and the next dispatch,
		// with nothing after it on the log
		if failure := c.recordedFailure(); failure != nil {
			c.failRun(failure)
			c.finalize()
			return c, nil
		}
		go c.advance()
	default:
		c.failRun(&model.RunError{Kind: model.ERROR_KIND_RECOVERY, Message: fmt.Sprintf("unexpected resume state %s", state)})
		c.finalize()
	}
	return c, nil
}

func (c *Coordinator) recordedFailure() *model.RunError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

func (c *Coordinator) failureOrUnknown(nodeID string) *model.RunError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return c.failure
	}
	return &model.RunError{Kind: model.ERROR_KIND_INTERNAL, NodeID: nodeID, Message: "task failed before shutdown"}
}
