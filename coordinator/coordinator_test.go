package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/action"
	"github.com/weftlabs/weft/metadata"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/persistence/inmem"
	"github.com/weftlabs/weft/timers"
)

// fakeInvoker scripts per-ref behavior and records dispatch keys.
type fakeInvoker struct {
	calls    map[string]int
	handlers map[string]func(input map[string]any) (map[string]any, error)
	keys     []string
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		calls:    map[string]int{},
		handlers: map[string]func(map[string]any) (map[string]any, error){},
	}
}

func (f *fakeInvoker) Invoke(ctx context.Context, ref string, input map[string]any) (map[string]any, error) {
	f.calls[ref]++
	f.keys = append(f.keys, action.DispatchKey(ctx))
	if h, ok := f.handlers[ref]; ok {
		return h(input)
	}
	return map[string]any{}, nil
}

type env struct {
	store   *inmem.Store
	meta    *metadata.Service
	invoker *fakeInvoker
	timers  *timers.TimerManager
}

func newEnv(t *testing.T) *env {
	tm := timers.NewTimerManager(10*time.Millisecond, 64)
	tm.Start()
	t.Cleanup(tm.Stop)
	return &env{
		store:   inmem.NewStore(),
		meta:    metadata.NewService(inmem.NewMetadataStorage()),
		invoker: newFakeInvoker(),
		timers:  tm,
	}
}

func (e *env) deps() Deps {
	return Deps{
		Loader:    e.meta,
		EventLog:  e.store,
		Snapshots: e.store,
		Invoker:   e.invoker,
		Timers:    e.timers,
	}
}

func (e *env) saveTask(t *testing.T, id string, actionRef string, timeoutMs int64) {
	t.Helper()
	err := e.meta.SaveTaskDefinition(model.TaskDefinition{
		ID:        id,
		Version:   1,
		TimeoutMs: timeoutMs,
		Retry:     model.RetrySpec{MaxAttempts: 1},
		Steps:     []model.Step{{Ordinal: 0, Action: actionRef}},
	})
	require.NoError(t, err)
}

func (e *env) saveWorkflow(t *testing.T, wf model.WorkflowDefinition) {
	t.Helper()
	require.NoError(t, e.meta.SaveWorkflowDefinition(wf))
}

// twoNodeWorkflow wires A to B. A's output lands in state, B reads it
// and projects the run output.
func (e *env) twoNodeWorkflow(t *testing.T) model.WorkflowDefinition {
	t.Helper()
	e.saveTask(t, "task-a", "act-a", 0)
	e.saveTask(t, "task-b", "act-b", 0)
	wf := model.WorkflowDefinition{
		ID:        "greet",
		Version:   1,
		StartNode: "A",
		Nodes: []model.Node{
			{
				ID:            "A",
				Task:          model.TaskRef{ID: "task-a", Version: 1},
				OutputMapping: []model.Mapping{{Source: "greeting", Target: "state.raw_content"}},
			},
			{
				ID:           "B",
				Task:         model.TaskRef{ID: "task-b", Version: 1},
				InputMapping: []model.Mapping{{Source: "state.raw_content", Target: "content"}},
				OutputToRun:  []model.Mapping{{Source: "state.raw_content", Target: "result"}},
			},
		},
		Transitions: []model.Transition{{From: "A", To: "B"}},
	}
	e.saveWorkflow(t, wf)
	return wf
}

func waitDone(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}
	c.WaitIdle()
}

func TestCoordinator(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, e *env){
		"test linear run completes":              testLinearRunCompletes,
		"test event log is gapless and ordered":  testGaplessLog,
		"test missing required input rejected":   testRequiredInput,
		"test task failure fails run at node":    testTaskFailureFailsRun,
		"test mapping failure keeps log gapless": testMappingFailureKeepsLogConsistent,
		"test higher priority transition wins":   testPriorityWins,
		"test ties break in definition order":    testTieDefinitionOrder,
		"test false condition excludes edge":     testConditionFilters,
		"test no eligible transition fails run":  testNoEligibleTransition,
		"test cancel while waiting on task":      testCancelWaitingTask,
		"test dispatch deadline times out task":  testDispatchDeadline,
		"test snapshot captures flushed seq":     testSnapshotPosition,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newEnv(t))
		})
	}
}

func testLinearRunCompletes(t *testing.T, e *env) {
	wf := e.twoNodeWorkflow(t)
	e.invoker.handlers["act-a"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"greeting": "hi"}, nil
	}
	e.invoker.handlers["act-b"] = func(input map[string]any) (map[string]any, error) {
		require.Equal(t, "hi", input["content"])
		return map[string]any{}, nil
	}

	c := New("run1", e.deps(), Options{})
	require.NoError(t, c.Start(wf.ID, wf.Version, map[string]any{}))
	waitDone(t, c)

	st := c.Status()
	require.Equal(t, model.RUN_COMPLETED, st.State)
	require.Equal(t, "hi", st.Output["result"])
	require.Equal(t, 1, e.invoker.calls["act-a"])
	require.Equal(t, 1, e.invoker.calls["act-b"])
}

func testGaplessLog(t *testing.T, e *env) {
	wf := e.twoNodeWorkflow(t)
	e.invoker.handlers["act-a"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"greeting": "hi"}, nil
	}

	c := New("run1", e.deps(), Options{})
	require.NoError(t, c.Start(wf.ID, wf.Version, map[string]any{}))
	waitDone(t, c)

	events, err := e.store.Read("run1", 1)
	require.NoError(t, err)
	var types []model.EventType
	for i, ev := range events {
		require.Equal(t, int64(i+1), ev.Sequence)
		types = append(types, ev.Type)
	}
	require.Equal(t, []model.EventType{
		model.EVENT_RUN_STARTED,
		model.EVENT_TASK_DISPATCHED,
		model.EVENT_TASK_COMPLETED,
		model.EVENT_TASK_DISPATCHED,
		model.EVENT_TASK_COMPLETED,
		model.EVENT_RUN_COMPLETED,
	}, types)
}

func testRequiredInput(t *testing.T, e *env) {
	e.saveTask(t, "task-a", "act-a", 0)
	e.saveWorkflow(t, model.WorkflowDefinition{
		ID: "strict", Version: 1, StartNode: "A",
		RequiredInput: []string{"user_id"},
		Nodes:         []model.Node{{ID: "A", Task: model.TaskRef{ID: "task-a", Version: 1}}},
	})

	c := New("run1", e.deps(), Options{})
	err := c.Start("strict", 1, map[string]any{"other": 1})
	require.Error(t, err)
	require.Equal(t, model.ERROR_KIND_DEFINITION, model.KindOf(err))

	events, rerr := e.store.Read("run1", 1)
	require.NoError(t, rerr)
	require.Empty(t, events)
}

func testTaskFailureFailsRun(t *testing.T, e *env) {
	wf := e.twoNodeWorkflow(t)
	e.invoker.handlers["act-a"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"greeting": "hi"}, nil
	}
	e.invoker.handlers["act-b"] = func(map[string]any) (map[string]any, error) {
		return nil, model.ActionError{Action: "act-b", Message: "boom", Retryable: false}
	}

	c := New("run1", e.deps(), Options{})
	require.NoError(t, c.Start(wf.ID, wf.Version, map[string]any{}))
	waitDone(t, c)

	st := c.Status()
	require.Equal(t, model.RUN_FAILED, st.State)
	require.NotNil(t, st.Error)
	require.Equal(t, "B", st.Error.NodeID)
	require.Equal(t, model.ERROR_KIND_ACTION, st.Error.Kind)
}

func testMappingFailureKeepsLogConsistent(t *testing.T, e *env) {
	wf := e.twoNodeWorkflow(t)
	// the result carries none of the keys node A's output mapping sources
	e.invoker.handlers["act-a"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"unexpected": "hi"}, nil
	}

	c := New("run1", e.deps(), Options{})
	require.NoError(t, c.Start(wf.ID, wf.Version, map[string]any{}))
	waitDone(t, c)

	st := c.Status()
	require.Equal(t, model.RUN_FAILED, st.State)
	require.Equal(t, model.ERROR_KIND_MAPPING, st.Error.Kind)
	require.Equal(t, "A", st.Error.NodeID)

	// the rejected task_completed never reached the log; the failure
	// events take its sequence without a gap
	events, err := e.store.Read("run1", 1)
	require.NoError(t, err)
	var types []model.EventType
	for i, ev := range events {
		require.Equal(t, int64(i+1), ev.Sequence)
		types = append(types, ev.Type)
	}
	require.Equal(t, []model.EventType{
		model.EVENT_RUN_STARTED,
		model.EVENT_TASK_DISPATCHED,
		model.EVENT_TASK_FAILED,
		model.EVENT_RUN_FAILED,
	}, types)
}

// diamond builds A with edges to B and C so transition selection can be
// observed through which action fires.
func (e *env) diamond(t *testing.T, first, second model.Transition) model.WorkflowDefinition {
	t.Helper()
	e.saveTask(t, "task-a", "act-a", 0)
	e.saveTask(t, "task-b", "act-b", 0)
	e.saveTask(t, "task-c", "act-c", 0)
	wf := model.WorkflowDefinition{
		ID: "diamond", Version: 1, StartNode: "A",
		Nodes: []model.Node{
			{ID: "A", Task: model.TaskRef{ID: "task-a", Version: 1}, OutputMapping: []model.Mapping{{Source: "flag", Target: "state.flag"}}},
			{ID: "B", Task: model.TaskRef{ID: "task-b", Version: 1}},
			{ID: "C", Task: model.TaskRef{ID: "task-c", Version: 1}},
		},
		Transitions: []model.Transition{first, second},
	}
	e.saveWorkflow(t, wf)
	return wf
}

func testPriorityWins(t *testing.T, e *env) {
	wf := e.diamond(t,
		model.Transition{From: "A", To: "B", Priority: 5},
		model.Transition{From: "A", To: "C", Priority: 10},
	)
	e.invoker.handlers["act-a"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"flag": true}, nil
	}
	c := New("run1", e.deps(), Options{})
	require.NoError(t, c.Start(wf.ID, wf.Version, map[string]any{}))
	waitDone(t, c)

	require.Equal(t, 0, e.invoker.calls["act-b"])
	require.Equal(t, 1, e.invoker.calls["act-c"])
}

func testTieDefinitionOrder(t *testing.T, e *env) {
	wf := e.diamond(t,
		model.Transition{From: "A", To: "B", Priority: 5},
		model.Transition{From: "A", To: "C", Priority: 5},
	)
	e.invoker.handlers["act-a"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"flag": true}, nil
	}
	c := New("run1", e.deps(), Options{})
	require.NoError(t, c.Start(wf.ID, wf.Version, map[string]any{}))
	waitDone(t, c)

	require.Equal(t, 1, e.invoker.calls["act-b"])
	require.Equal(t, 0, e.invoker.calls["act-c"])
}

func testConditionFilters(t *testing.T, e *env) {
	wf := e.diamond(t,
		model.Transition{From: "A", To: "B", Priority: 10, Condition: "$.state.flag == true"},
		model.Transition{From: "A", To: "C", Priority: 5},
	)
	e.invoker.handlers["act-a"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"flag": false}, nil
	}
	c := New("run1", e.deps(), Options{})
	require.NoError(t, c.Start(wf.ID, wf.Version, map[string]any{}))
	waitDone(t, c)

	require.Equal(t, 0, e.invoker.calls["act-b"])
	require.Equal(t, 1, e.invoker.calls["act-c"])
}

func testNoEligibleTransition(t *testing.T, e *env) {
	e.saveTask(t, "task-a", "act-a", 0)
	e.saveTask(t, "task-b", "act-b", 0)
	e.saveWorkflow(t, model.WorkflowDefinition{
		ID: "stuck", Version: 1, StartNode: "A",
		Nodes: []model.Node{
			{ID: "A", Task: model.TaskRef{ID: "task-a", Version: 1}},
			{ID: "B", Task: model.TaskRef{ID: "task-b", Version: 1}},
		},
		Transitions: []model.Transition{
			{From: "A", To: "B", Condition: "$.state.never == true"},
		},
	})

	c := New("run1", e.deps(), Options{})
	require.NoError(t, c.Start("stuck", 1, map[string]any{}))
	waitDone(t, c)

	st := c.Status()
	require.Equal(t, model.RUN_FAILED, st.State)
	require.Equal(t, model.ERROR_KIND_NO_TRANSITION, st.Error.Kind)
	require.Equal(t, "A", st.Error.NodeID)
}

func testCancelWaitingTask(t *testing.T, e *env) {
	wf := e.twoNodeWorkflow(t)
	started := make(chan struct{})
	release := make(chan struct{})
	e.invoker.handlers["act-a"] = func(map[string]any) (map[string]any, error) {
		close(started)
		<-release
		return map[string]any{"greeting": "hi"}, nil
	}

	c := New("run1", e.deps(), Options{})
	require.NoError(t, c.Start(wf.ID, wf.Version, map[string]any{}))
	<-started
	require.Equal(t, model.RUN_WAITING_TASK, c.Status().State)

	c.Cancel()
	waitDone(t, c)
	close(release)

	st := c.Status()
	require.Equal(t, model.RUN_CANCELLED, st.State)
	require.Equal(t, 0, e.invoker.calls["act-b"])

	events, err := e.store.Read("run1", 1)
	require.NoError(t, err)
	require.Equal(t, model.EVENT_RUN_CANCELLED, events[len(events)-1].Type)
}

func testDispatchDeadline(t *testing.T, e *env) {
	e.saveTask(t, "task-slow", "act-slow", 30)
	e.saveWorkflow(t, model.WorkflowDefinition{
		ID: "slow", Version: 1, StartNode: "A",
		Nodes: []model.Node{{ID: "A", Task: model.TaskRef{ID: "task-slow", Version: 1}}},
	})
	release := make(chan struct{})
	defer close(release)
	e.invoker.handlers["act-slow"] = func(map[string]any) (map[string]any, error) {
		<-release
		return map[string]any{}, nil
	}

	c := New("run1", e.deps(), Options{TaskGracePeriod: 20 * time.Millisecond})
	require.NoError(t, c.Start("slow", 1, map[string]any{}))
	waitDone(t, c)

	st := c.Status()
	require.Equal(t, model.RUN_FAILED, st.State)
	require.Equal(t, model.ERROR_KIND_TIMEOUT, st.Error.Kind)
	require.Equal(t, "A", st.Error.NodeID)
}

func testSnapshotPosition(t *testing.T, e *env) {
	wf := e.twoNodeWorkflow(t)
	e.invoker.handlers["act-a"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"greeting": "hi"}, nil
	}

	c := New("run1", e.deps(), Options{SnapshotEvery: 1, EventBatchSize: 8, EventFlushEvery: time.Hour})
	require.NoError(t, c.Start(wf.ID, wf.Version, map[string]any{}))
	waitDone(t, c)

	snap, err := e.store.GetLatest("run1")
	require.NoError(t, err)
	require.Equal(t, wf.ID, snap.WorkflowID)
	require.Equal(t, model.RUN_COMPLETED, snap.State)

	// the captured position must be durable: every sequence up to
	// AfterSequence is readable from the log
	highest, err := e.store.HighestSequence("run1")
	require.NoError(t, err)
	require.Equal(t, highest, snap.AfterSequence)
	require.Equal(t, "hi", snap.Context.Output["result"])
}
