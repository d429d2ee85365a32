package coordinator

import (
	"time"

	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/mapping"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/telemetry"
	"go.uber.org/zap"
)

// append assigns the next sequence, applies the event to the in-memory
// state and then writes it through the buffered log. Live execution and
// replay both go through apply, so recovery reproduces exactly the state
// the live path built. Apply runs first: an event apply rejects is never
// persisted, the sequence is not consumed, and the follow-up failure
// event takes its place in the log.
func (c *Coordinator) append(eventType model.EventType, payload model.EventPayload) error {
	c.mu.Lock()
	next := c.seq + 1
	c.mu.Unlock()
	ev := model.Event{
		RunID:     c.runID,
		Sequence:  next,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if err := c.apply(ev); err != nil {
		return err
	}
	if err := c.log.Append(ev); err != nil {
		return err
	}
	telemetry.Count(telemetry.MEventsAppended, 1)
	return nil
}

// apply is the only place run state changes. It must stay deterministic:
// everything it needs is carried on the event.
func (c *Coordinator) apply(ev model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Type {
	case model.EVENT_RUN_STARTED:
		c.runCtx = model.NewRunContext(model.CopyDocument(ev.Payload.Input))
		c.token = model.Token{NodeID: ev.Payload.NodeID}
		c.state = model.RUN_RUNNING
	case model.EVENT_TASK_DISPATCHED:
		c.token = model.Token{NodeID: ev.Payload.NodeID}
		c.attempt = ev.Payload.Attempt
		c.state = model.RUN_WAITING_TASK
	case model.EVENT_TASK_COMPLETED:
		node, ok := c.wf.Node(ev.Payload.NodeID)
		if !ok {
			return model.DefinitionError{Message: "event references unknown node " + ev.Payload.NodeID}
		}
		if len(node.OutputMapping) > 0 {
			if err := mapping.MergeInto(node.OutputMapping, ev.Payload.Output, c.runCtx.Document()); err != nil {
				return err
			}
		} else if len(ev.Payload.Output) > 0 {
			// no declared projection: task output lands under state
			// keyed by node id
			c.runCtx.State[ev.Payload.NodeID] = model.CopyDocument(ev.Payload.Output)
		}
		c.state = model.RUN_RUNNING
	case model.EVENT_TASK_FAILED:
		c.failure = ev.Payload.Error
		c.state = model.RUN_RUNNING
	case model.EVENT_RUN_COMPLETED:
		c.runCtx.Output = model.CopyDocument(ev.Payload.Output)
		c.state = model.RUN_COMPLETED
	case model.EVENT_RUN_FAILED:
		c.failure = ev.Payload.Error
		c.state = model.RUN_FAILED
	case model.EVENT_RUN_CANCELLED:
		c.state = model.RUN_CANCELLED
	default:
		logger.Warn("ignoring unknown event type", zap.String("runId", c.runID), zap.String("type", string(ev.Type)))
	}
	c.seq = ev.Sequence
	return nil
}
