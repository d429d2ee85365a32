// Package coordinator drives one running workflow instance: it loads the
// definition graph, owns the authoritative in-memory context, selects
// and fires transitions, dispatches tasks, writes events and snapshots,
// and recovers interrupted runs from the event log.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/weftlabs/weft/action"
	"github.com/weftlabs/weft/analytics"
	"github.com/weftlabs/weft/definition"
	"github.com/weftlabs/weft/executor"
	"github.com/weftlabs/weft/expr"
	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/mapping"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/persistence"
	"github.com/weftlabs/weft/telemetry"
	"github.com/weftlabs/weft/timers"
	"go.uber.org/zap"
)

// Options tunes persistence batching, snapshot cadence and timeout
// handling for every coordinator an engine creates.
type Options struct {
	// SnapshotEvery triggers a snapshot after this many new events.
	// Zero disables count based snapshots.
	SnapshotEvery int64
	// SnapshotInterval triggers time based snapshots. Zero disables.
	SnapshotInterval time.Duration
	EventBatchSize   int
	EventFlushEvery  time.Duration
	// TaskGracePeriod is how long after a dispatch deadline expires and
	// the cancellation signal is sent before the coordinator synthesizes
	// a timeout failure itself.
	TaskGracePeriod time.Duration
}

func (o Options) withDefaults() Options {
	if o.EventBatchSize <= 0 {
		o.EventBatchSize = 1
	}
	if o.TaskGracePeriod <= 0 {
		o.TaskGracePeriod = 5 * time.Second
	}
	return o
}

// Deps are the external collaborators a coordinator consumes.
type Deps struct {
	Loader    definition.Loader
	EventLog  persistence.EventLog
	Snapshots persistence.SnapshotStore
	Invoker   action.Invoker
	Timers    *timers.TimerManager
}

type taskResult struct {
	nodeID  string
	attempt int
	output  map[string]any
	err     error
}

type outstandingTask struct {
	nodeID        string
	attempt       int
	cancel        context.CancelFunc
	deadlineTimer *timingwheel.Timer
	graceTimer    *timingwheel.Timer
}

type deadlineExpiry struct {
	nodeID  string
	attempt int
}

// Coordinator owns one run. It is the sole writer of the run's context;
// all mutation happens on the drive loop goroutine through event
// application, so live execution and replay share one code path.
type Coordinator struct {
	runID  string
	deps   Deps
	opts   Options
	loader *definition.CachingLoader
	exec   *executor.TaskExecutor
	log    *persistence.BufferedLog

	mu              sync.Mutex
	wf              *model.WorkflowDefinition
	adjacency       map[string][]model.Transition
	runCtx          *model.RunContext
	token           model.Token
	state           model.RunState
	seq             int64
	lastSnapshotSeq int64
	failure         *model.RunError
	attempt         int
	outstanding     *outstandingTask

	resultCh   chan taskResult
	cancelCh   chan struct{}
	deadlineCh chan deadlineExpiry
	snapshotCh chan struct{}
	doneCh     chan struct{}
	snapTick   *snapshotTicker
	wg         sync.WaitGroup

	snapMu       sync.Mutex
	snapWritten  int64
	finalizeOnce sync.Once
}

// snapshotTicker keeps the optional snapshot ticker together with its stop
// channel.
type snapshotTicker struct {
	stop   chan struct{}
	ticker *time.Ticker
}

// New builds a coordinator for a fresh run. The definition cache is
// scoped to this run and discarded with it.
func New(runID string, deps Deps, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		runID:      runID,
		deps:       deps,
		opts:       opts,
		loader:     definition.NewCachingLoader(deps.Loader),
		exec:       executor.NewTaskExecutor(deps.Invoker),
		state:      model.RUN_PENDING,
		resultCh:   make(chan taskResult, 16),
		cancelCh:   make(chan struct{}, 1),
		deadlineCh: make(chan deadlineExpiry, 4),
		snapshotCh: make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}
}

func (c *Coordinator) RunID() string { return c.runID }

// Done is closed when the run reaches a terminal state.
func (c *Coordinator) Done() <-chan struct{} { return c.doneCh }

// Start validates the input, seeds the run context, records run_started
// and dispatches the start node's task, then hands control to the drive
// loop.
func (c *Coordinator) Start(workflowID string, workflowVersion int, input map[string]any) error {
	wf, err := c.loader.GetWorkflowDefinition(workflowID, workflowVersion)
	if err != nil {
		return err
	}
	for _, key := range wf.RequiredInput {
		if _, ok := input[key]; !ok {
			return model.DefinitionError{Message: fmt.Sprintf("input is missing required key %q", key)}
		}
	}
	c.mu.Lock()
	c.wf = wf
	c.adjacency = wf.Adjacency()
	c.log = persistence.NewBufferedLog(c.deps.EventLog, c.runID, c.opts.EventBatchSize, c.opts.EventFlushEvery, 0)
	c.mu.Unlock()

	if err := c.append(model.EVENT_RUN_STARTED, model.EventPayload{
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		Input:           input,
		NodeID:          wf.StartNode,
	}); err != nil {
		c.log.Close()
		return err
	}
	telemetry.Count(telemetry.MRunsStarted, 1)
	logger.Info("run started", zap.String("runId", c.runID), zap.String("workflow", wf.ID))

	node, _ := c.wf.Node(wf.StartNode)
	if err := c.dispatch(node, 1); err != nil {
		c.failRun(&model.RunError{Kind: model.KindOf(err), NodeID: node.ID, Message: err.Error()})
		c.finalize()
		return nil
	}
	c.startLoop()
	return nil
}

func (c *Coordinator) startLoop() {
	if c.opts.SnapshotInterval > 0 {
		st := &snapshotTicker{
			stop:   make(chan struct{}),
			ticker: time.NewTicker(c.opts.SnapshotInterval),
		}
		c.snapTick = st
		go func() {
			for {
				select {
				case <-st.ticker.C:
					select {
					case c.snapshotCh <- struct{}{}:
					default:
					}
				case <-st.stop:
					st.ticker.Stop()
					return
				}
			}
		}()
	}
	go c.run()
}

// run is the drive loop: one goroutine per run, no shared mutable state
// across runs.
func (c *Coordinator) run() {
	for {
		select {
		case res := <-c.resultCh:
			c.onTaskResult(res)
		case exp := <-c.deadlineCh:
			c.onDeadline(exp)
		case <-c.cancelCh:
			c.onCancel()
		case <-c.snapshotCh:
			c.snapshot()
		case <-c.doneCh:
			return
		}
	}
}

// dispatch projects context into task input and hands the task to the
// executor across the asynchronous boundary, parking the run in
// waiting_task.
func (c *Coordinator) dispatch(node *model.Node, attempt int) error {
	key := fmt.Sprintf("%s:%s:%d", c.runID, node.ID, attempt)
	if err := c.append(model.EVENT_TASK_DISPATCHED, model.EventPayload{
		NodeID:      node.ID,
		Task:        node.Task,
		Attempt:     attempt,
		DispatchKey: key,
	}); err != nil {
		return err
	}
	telemetry.Count(telemetry.MTasksDispatched, 1)
	return c.launch(node, attempt, key)
}

// launch hands the task to the executor with the given idempotency key.
// Recovery reuses it to re-fire a dispatch already on the log with the
// original key, so a task completed before the crash is a no-op for
// idempotent actions.
func (c *Coordinator) launch(node *model.Node, attempt int, key string) error {
	taskDef, err := c.loader.GetTaskDefinition(node.Task.ID, node.Task.Version)
	if err != nil {
		return err
	}
	c.mu.Lock()
	doc := c.runCtx.Document()
	c.mu.Unlock()
	input, err := mapping.Apply(node.InputMapping, doc)
	if err != nil {
		return err
	}
	dispatchCtx, cancel := context.WithCancel(context.Background())
	out := &outstandingTask{nodeID: node.ID, attempt: attempt, cancel: cancel}
	if taskDef.TimeoutMs > 0 && c.deps.Timers != nil {
		deadline := time.Duration(taskDef.TimeoutMs) * time.Millisecond
		out.deadlineTimer = c.deps.Timers.AfterFunc(deadline, func() {
			// best effort cancellation first, synthesized failure only
			// after the grace period
			cancel()
			grace := c.deps.Timers.AfterFunc(c.opts.TaskGracePeriod, func() {
				select {
				case c.deadlineCh <- deadlineExpiry{nodeID: node.ID, attempt: attempt}:
				case <-c.doneCh:
				}
			})
			c.mu.Lock()
			if c.outstanding == out {
				out.graceTimer = grace
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			grace.Stop()
		})
	}
	c.mu.Lock()
	c.outstanding = out
	c.mu.Unlock()

	go func() {
		output, execErr := c.exec.Execute(dispatchCtx, taskDef, input, key)
		select {
		case c.resultCh <- taskResult{nodeID: node.ID, attempt: attempt, output: output, err: execErr}:
		case <-c.doneCh:
		}
	}()
	return nil
}

func (c *Coordinator) onTaskResult(res taskResult) {
	c.mu.Lock()
	out := c.outstanding
	stale := c.state != model.RUN_WAITING_TASK || out == nil || out.nodeID != res.nodeID || out.attempt != res.attempt
	c.mu.Unlock()
	if stale {
		logger.Debug("dropping stale task result", zap.String("runId", c.runID), zap.String("node", res.nodeID))
		return
	}
	c.clearOutstanding()

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			// the run was cancelled or timed out while the task was in
			// flight; the deadline or cancel path owns the outcome
			return
		}
		c.failNode(res.nodeID, res.err)
		return
	}
	if err := c.append(model.EVENT_TASK_COMPLETED, model.EventPayload{
		NodeID: res.nodeID,
		Output: res.output,
	}); err != nil {
		c.failNode(res.nodeID, err)
		return
	}
	analytics.RecordTaskSuccess(c.wf.ID, c.runID, res.nodeID, res.output)
	c.maybeSnapshot()
	c.advance()
}

func (c *Coordinator) onDeadline(exp deadlineExpiry) {
	c.mu.Lock()
	out := c.outstanding
	stale := c.state != model.RUN_WAITING_TASK || out == nil || out.nodeID != exp.nodeID || out.attempt != exp.attempt
	c.mu.Unlock()
	if stale {
		return
	}
	c.clearOutstanding()
	telemetry.Count(telemetry.MTaskTimeouts, 1)
	logger.Warn("task dispatch deadline expired", zap.String("runId", c.runID), zap.String("node", exp.nodeID))
	c.failNode(exp.nodeID, model.TimeoutError{Message: "no completion within deadline and grace period"})
}

func (c *Coordinator) onCancel() {
	c.mu.Lock()
	terminal := c.state.Terminal()
	out := c.outstanding
	c.mu.Unlock()
	if terminal {
		return
	}
	if out != nil && out.cancel != nil {
		out.cancel()
	}
	c.clearOutstanding()
	if err := c.append(model.EVENT_RUN_CANCELLED, model.EventPayload{}); err != nil {
		logger.Error("error recording cancellation", zap.String("runId", c.runID), zap.Error(err))
	}
	telemetry.Count(telemetry.MRunsCancelled, 1)
	logger.Info("run cancelled", zap.String("runId", c.runID))
	c.finalize()
}

// advance selects the next transition from the current node. Among
// eligible transitions the highest priority wins, ties broken by stable
// definition order. A node with no outgoing transitions is terminal.
func (c *Coordinator) advance() {
	c.mu.Lock()
	nodeID := c.token.NodeID
	outgoing := c.adjacency[nodeID]
	doc := c.runCtx.Document()
	c.mu.Unlock()

	if len(outgoing) == 0 {
		c.complete(nodeID)
		return
	}
	var selected *model.Transition
	for i := range outgoing {
		t := &outgoing[i]
		if t.Condition != "" {
			ok, err := expr.EvalBool(t.Condition, doc)
			if err != nil {
				c.failRun(&model.RunError{
					Kind:    model.ERROR_KIND_DEFINITION,
					NodeID:  nodeID,
					Message: err.Error(),
				})
				c.finalize()
				return
			}
			if !ok {
				continue
			}
		}
		if selected == nil || t.Priority > selected.Priority {
			selected = t
		}
	}
	if selected == nil {
		c.failRun(&model.RunError{
			Kind:    model.ERROR_KIND_NO_TRANSITION,
			NodeID:  nodeID,
			Message: fmt.Sprintf("no eligible transition out of node %s", nodeID),
		})
		c.finalize()
		return
	}
	next, _ := c.wf.Node(selected.To)
	if err := c.dispatch(next, 1); err != nil {
		c.failRun(&model.RunError{Kind: model.KindOf(err), NodeID: next.ID, Message: err.Error()})
		c.finalize()
	}
}

func (c *Coordinator) complete(nodeID string) {
	c.mu.Lock()
	node, _ := c.wf.Node(nodeID)
	doc := c.runCtx.Document()
	output := model.CopyDocument(c.runCtx.Output)
	c.mu.Unlock()
	if node != nil && len(node.OutputToRun) > 0 {
		if err := mapping.MergeInto(node.OutputToRun, doc, output); err != nil {
			c.failRun(&model.RunError{Kind: model.ERROR_KIND_MAPPING, NodeID: nodeID, Message: err.Error()})
			c.finalize()
			return
		}
	}
	if err := c.append(model.EVENT_RUN_COMPLETED, model.EventPayload{NodeID: nodeID, Output: output}); err != nil {
		logger.Error("error recording completion", zap.String("runId", c.runID), zap.Error(err))
	}
	telemetry.Count(telemetry.MRunsCompleted, 1)
	logger.Info("run completed", zap.String("runId", c.runID), zap.String("node", nodeID))
	c.finalize()
}

// failNode records the task failure and terminates the run with the
// originating error kind, node and step for user visibility.
func (c *Coordinator) failNode(nodeID string, err error) {
	runErr := &model.RunError{
		Kind:    model.KindOf(err),
		NodeID:  nodeID,
		Message: err.Error(),
	}
	if aerr := c.append(model.EVENT_TASK_FAILED, model.EventPayload{NodeID: nodeID, Error: runErr}); aerr != nil {
		logger.Error("error recording task failure", zap.String("runId", c.runID), zap.Error(aerr))
	}
	analytics.RecordTaskFailure(c.wf.ID, c.runID, nodeID, runErr.Message)
	c.failRun(runErr)
	c.finalize()
}

func (c *Coordinator) failRun(runErr *model.RunError) {
	if err := c.append(model.EVENT_RUN_FAILED, model.EventPayload{NodeID: runErr.NodeID, Error: runErr}); err != nil {
		logger.Error("error recording run failure", zap.String("runId", c.runID), zap.Error(err))
	}
	telemetry.Count(telemetry.MRunsFailed, 1)
	logger.Info("run failed", zap.String("runId", c.runID), zap.String("node", runErr.NodeID), zap.String("kind", string(runErr.Kind)))
}

func (c *Coordinator) clearOutstanding() {
	c.mu.Lock()
	out := c.outstanding
	c.outstanding = nil
	var deadline, grace *timingwheel.Timer
	var cancel context.CancelFunc
	if out != nil {
		deadline, grace, cancel = out.deadlineTimer, out.graceTimer, out.cancel
	}
	c.mu.Unlock()
	if deadline != nil {
		deadline.Stop()
	}
	if grace != nil {
		grace.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// finalize flushes the log, writes a last snapshot and releases waiters.
// Idempotent, only the first terminal path runs it.
func (c *Coordinator) finalize() {
	c.finalizeOnce.Do(func() {
		if err := c.log.Close(); err != nil {
			logger.Error("error flushing event log", zap.String("runId", c.runID), zap.Error(err))
		}
		c.snapshot()
		if c.snapTick != nil {
			close(c.snapTick.stop)
		}
		close(c.doneCh)
	})
}

// Cancel asks the run to stop. Safe from any goroutine, no-op once
// terminal.
func (c *Coordinator) Cancel() {
	select {
	case c.cancelCh <- struct{}{}:
	default:
	}
}

// Status snapshots the externally visible run state.
func (c *Coordinator) Status() model.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := model.RunStatus{
		RunID: c.runID,
		State: c.state,
	}
	if c.wf != nil {
		st.WorkflowID = c.wf.ID
		st.WorkflowVersion = c.wf.Version
	}
	if !c.state.Terminal() {
		st.CurrentNode = c.token.NodeID
	}
	if c.state == model.RUN_COMPLETED && c.runCtx != nil {
		st.Output = model.CopyDocument(c.runCtx.Output)
	}
	st.Error = c.failure
	return st
}

func (c *Coordinator) maybeSnapshot() {
	c.mu.Lock()
	due := c.opts.SnapshotEvery > 0 && c.seq-c.lastSnapshotSeq >= c.opts.SnapshotEvery
	c.mu.Unlock()
	if due {
		c.snapshot()
	}
}

// snapshot flushes buffered events so the captured position is durable,
// then writes the capture off the drive loop.
func (c *Coordinator) snapshot() {
	if err := c.log.Flush(); err != nil {
		logger.Error("error flushing before snapshot", zap.String("runId", c.runID), zap.Error(err))
		return
	}
	c.mu.Lock()
	if c.runCtx == nil {
		c.mu.Unlock()
		return
	}
	snap := model.Snapshot{
		WorkflowID:      c.wf.ID,
		WorkflowVersion: c.wf.Version,
		Context:         c.runCtx.DeepCopy(),
		Token:           c.token,
		State:           c.state,
		Error:           c.failure,
		AfterSequence:   c.seq,
	}
	c.lastSnapshotSeq = c.seq
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// writes are serialized and monotonic so a slow older capture
		// never clobbers a newer one
		c.snapMu.Lock()
		defer c.snapMu.Unlock()
		if snap.AfterSequence <= c.snapWritten {
			return
		}
		if err := c.deps.Snapshots.Put(c.runID, snap); err != nil {
			logger.Error("error writing snapshot", zap.String("runId", c.runID), zap.Error(err))
			return
		}
		c.snapWritten = snap.AfterSequence
		telemetry.Count(telemetry.MSnapshotsWritten, 1)
	}()
}

// WaitIdle blocks until background snapshot writes have settled, used
// by tests and shutdown.
func (c *Coordinator) WaitIdle() {
	c.wg.Wait()
}
