package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/action"
	"github.com/weftlabs/weft/model"
)

// fakeInvoker scripts per-ref behavior and records invocations.
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

func taskDef(steps ...model.Step) *model.TaskDefinition {
	return &model.TaskDefinition{
		ID:      "fetch",
		Version: 1,
		Steps:   steps,
		Retry:   model.RetrySpec{MaxAttempts: 1},
	}
}

func TestTaskExecutor(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, inv *fakeInvoker, ex *TaskExecutor){
		"test steps run in ordinal order":     testOrdinalOrder,
		"test step mappings project data":     testStepMappings,
		"test default step io passes through": testDefaultStepIO,
		"test retry exhausts after attempts":  testRetryExhausted,
		"test retry succeeds mid attempts":    testRetrySucceeds,
		"test fresh context per attempt":      testFreshContextPerAttempt,
		"test skip branch mutates nothing":    testSkipBranch,
		"test succeed branch ends task":       testSucceedBranch,
		"test fail branch fails task":         testFailBranch,
		"test continue policy ignores error":  testContinuePolicy,
		"test mapping error ignores policy":   testMappingErrorAborts,
		"test non retryable error aborts":     testNonRetryableAborts,
		"test whole task timeout":             testWholeTaskTimeout,
		"test dispatch key carries attempt":   testDispatchKey,
	} {
		t.Run(scenario, func(t *testing.T) {
			inv := newFakeInvoker()
			fn(t, inv, NewTaskExecutor(inv))
		})
	}
}

func testOrdinalOrder(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	var order []string
	for _, ref := range []string{"first", "second"} {
		ref := ref
		inv.handlers[ref] = func(map[string]any) (map[string]any, error) {
			order = append(order, ref)
			return map[string]any{}, nil
		}
	}
	// declared out of order on purpose
	task := taskDef(
		model.Step{Ordinal: 1, Action: "second"},
		model.Step{Ordinal: 0, Action: "first"},
	)
	_, err := ex.Execute(context.Background(), task, map[string]any{}, "r:n:1")
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, order)
}

func testStepMappings(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	inv.handlers["fetch"] = func(input map[string]any) (map[string]any, error) {
		require.Equal(t, "http://x", input["url"])
		return map[string]any{"raw": "hi"}, nil
	}
	inv.handlers["render"] = func(input map[string]any) (map[string]any, error) {
		require.Equal(t, "hi", input["body"])
		return map[string]any{"page": "<hi>"}, nil
	}
	task := taskDef(
		model.Step{
			Ordinal:       0,
			Action:        "fetch",
			InputMapping:  []model.Mapping{{Source: "input.url", Target: "url"}},
			OutputMapping: []model.Mapping{{Source: "raw", Target: "state.raw"}},
		},
		model.Step{
			Ordinal:       1,
			Action:        "render",
			InputMapping:  []model.Mapping{{Source: "state.raw", Target: "body"}},
			OutputMapping: []model.Mapping{{Source: "page", Target: "output.page"}},
		},
	)
	output, err := ex.Execute(context.Background(), task, map[string]any{"url": "http://x"}, "r:n:1")
	require.NoError(t, err)
	require.Equal(t, "<hi>", output["page"])
}

// a step with no declared mappings sees the whole task input and its
// whole result becomes the task output
func testDefaultStepIO(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	inv.handlers["echo"] = func(input map[string]any) (map[string]any, error) {
		require.Equal(t, "hola", input["word"])
		return map[string]any{"said": "hola"}, nil
	}
	task := taskDef(model.Step{Ordinal: 0, Action: "echo"})
	output, err := ex.Execute(context.Background(), task, map[string]any{"word": "hola"}, "r:n:1")
	require.NoError(t, err)
	require.Equal(t, "hola", output["said"])
}

func testRetryExhausted(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	inv.handlers["flaky"] = func(map[string]any) (map[string]any, error) {
		return nil, model.ActionError{Action: "flaky", Message: "boom", Retryable: true}
	}
	task := taskDef(model.Step{Ordinal: 0, Action: "flaky", OnFailure: model.FAILURE_RETRY})
	task.Retry = model.RetrySpec{MaxAttempts: 3, Policy: model.RETRY_POLICY_FIXED, InitialDelayMs: 1}
	_, err := ex.Execute(context.Background(), task, map[string]any{}, "r:n:1")
	require.Error(t, err)
	var re model.RetryExhaustedError
	require.ErrorAs(t, err, &re)
	require.Equal(t, 3, re.Attempts)
	require.Equal(t, 3, inv.calls["flaky"])
}

func testRetrySucceeds(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	inv.handlers["flaky"] = func(map[string]any) (map[string]any, error) {
		if inv.calls["flaky"] < 3 {
			return nil, model.ActionError{Action: "flaky", Message: "boom", Retryable: true}
		}
		return map[string]any{"ok": true}, nil
	}
	task := taskDef(model.Step{
		Ordinal:       0,
		Action:        "flaky",
		OnFailure:     model.FAILURE_RETRY,
		OutputMapping: []model.Mapping{{Source: "ok", Target: "output.ok"}},
	})
	task.Retry = model.RetrySpec{MaxAttempts: 3, Policy: model.RETRY_POLICY_BACKOFF, InitialDelayMs: 1, MaxDelayMs: 2}
	output, err := ex.Execute(context.Background(), task, map[string]any{}, "r:n:1")
	require.NoError(t, err)
	require.Equal(t, true, output["ok"])
}

func testFreshContextPerAttempt(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	inv.handlers["mark"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"seen": true}, nil
	}
	inv.handlers["checker"] = func(input map[string]any) (map[string]any, error) {
		if inv.calls["checker"] < 2 {
			return nil, model.ActionError{Action: "checker", Message: "again", Retryable: true}
		}
		return map[string]any{}, nil
	}
	// the mark step skips itself once state.seen is set; it can only run
	// on the second attempt if the context was reseeded from the input
	task := taskDef(
		model.Step{
			Ordinal:       0,
			Action:        "mark",
			Condition:     &model.StepCondition{If: "$.state.seen == true", Then: model.BRANCH_SKIP, Else: model.BRANCH_CONTINUE},
			OutputMapping: []model.Mapping{{Source: "seen", Target: "state.seen"}},
		},
		model.Step{
			Ordinal:   1,
			Action:    "checker",
			OnFailure: model.FAILURE_RETRY,
		},
	)
	task.Retry = model.RetrySpec{MaxAttempts: 2, InitialDelayMs: 1}
	_, err := ex.Execute(context.Background(), task, map[string]any{}, "r:n:1")
	require.NoError(t, err)
	require.Equal(t, 2, inv.calls["mark"])
}

func testSkipBranch(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	task := taskDef(
		model.Step{
			Ordinal:       0,
			Action:        "guarded",
			Condition:     &model.StepCondition{If: "input.x == true", Then: model.BRANCH_CONTINUE, Else: model.BRANCH_SKIP},
			OutputMapping: []model.Mapping{{Source: "v", Target: "output.v"}},
		},
		model.Step{Ordinal: 1, Action: "always"},
	)
	output, err := ex.Execute(context.Background(), task, map[string]any{"x": false}, "r:n:1")
	require.NoError(t, err)
	require.Empty(t, output)
	require.Equal(t, 0, inv.calls["guarded"])
	require.Equal(t, 1, inv.calls["always"])
}

func testSucceedBranch(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	inv.handlers["first"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"v": 1}, nil
	}
	task := taskDef(
		model.Step{
			Ordinal:       0,
			Action:        "first",
			OutputMapping: []model.Mapping{{Source: "v", Target: "output.v"}},
		},
		model.Step{
			Ordinal:   1,
			Action:    "never",
			Condition: &model.StepCondition{If: "output.v == 1", Then: model.BRANCH_SUCCEED, Else: model.BRANCH_CONTINUE},
		},
	)
	output, err := ex.Execute(context.Background(), task, map[string]any{}, "r:n:1")
	require.NoError(t, err)
	require.Equal(t, int64(1), toInt64(t, output["v"]))
	require.Equal(t, 0, inv.calls["never"])
}

func toInt64(t *testing.T, v any) int64 {
	switch tv := v.(type) {
	case int:
		return int64(tv)
	case int64:
		return tv
	case float64:
		return int64(tv)
	default:
		t.Fatalf("unexpected numeric type %T", v)
		return 0
	}
}

func testFailBranch(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	task := taskDef(
		model.Step{
			Ordinal:   0,
			Action:    "never",
			Condition: &model.StepCondition{If: "true", Then: model.BRANCH_FAIL, Else: model.BRANCH_CONTINUE},
		},
	)
	_, err := ex.Execute(context.Background(), task, map[string]any{}, "r:n:1")
	require.Error(t, err)
	require.Equal(t, 0, inv.calls["never"])
}

func testContinuePolicy(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	inv.handlers["broken"] = func(map[string]any) (map[string]any, error) {
		return nil, model.ActionError{Action: "broken", Message: "boom"}
	}
	inv.handlers["after"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	}
	task := taskDef(
		model.Step{Ordinal: 0, Action: "broken", OnFailure: model.FAILURE_CONTINUE},
		model.Step{Ordinal: 1, Action: "after", OutputMapping: []model.Mapping{{Source: "done", Target: "output.done"}}},
	)
	output, err := ex.Execute(context.Background(), task, map[string]any{}, "r:n:1")
	require.NoError(t, err)
	require.Equal(t, true, output["done"])
}

func testMappingErrorAborts(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	task := taskDef(model.Step{
		Ordinal:      0,
		Action:       "noop",
		InputMapping: []model.Mapping{{Source: "state.absent", Target: "x"}},
		OnFailure:    model.FAILURE_RETRY,
	})
	task.Retry = model.RetrySpec{MaxAttempts: 3, InitialDelayMs: 1}
	_, err := ex.Execute(context.Background(), task, map[string]any{}, "r:n:1")
	var merr model.MappingError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, 0, inv.calls["noop"])
}

func testNonRetryableAborts(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	inv.handlers["fatal"] = func(map[string]any) (map[string]any, error) {
		return nil, model.ActionError{Action: "fatal", Message: "bad request", Retryable: false}
	}
	task := taskDef(model.Step{Ordinal: 0, Action: "fatal", OnFailure: model.FAILURE_RETRY})
	task.Retry = model.RetrySpec{MaxAttempts: 3, InitialDelayMs: 1}
	_, err := ex.Execute(context.Background(), task, map[string]any{}, "r:n:1")
	var ae model.ActionError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, 1, inv.calls["fatal"])
}

func testWholeTaskTimeout(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	inv.handlers["slow"] = func(map[string]any) (map[string]any, error) {
		time.Sleep(30 * time.Millisecond)
		return nil, model.ActionError{Action: "slow", Message: "late", Retryable: true}
	}
	task := taskDef(model.Step{Ordinal: 0, Action: "slow", OnFailure: model.FAILURE_RETRY})
	task.Retry = model.RetrySpec{MaxAttempts: 100, InitialDelayMs: 5}
	task.TimeoutMs = 50
	_, err := ex.Execute(context.Background(), task, map[string]any{}, "r:n:1")
	var te model.TimeoutError
	require.ErrorAs(t, err, &te)
}

func testDispatchKey(t *testing.T, inv *fakeInvoker, ex *TaskExecutor) {
	inv.handlers["flaky"] = func(map[string]any) (map[string]any, error) {
		if inv.calls["flaky"] < 2 {
			return nil, model.ActionError{Action: "flaky", Message: "boom", Retryable: true}
		}
		return map[string]any{}, nil
	}
	task := taskDef(model.Step{Ordinal: 0, Action: "flaky", OnFailure: model.FAILURE_RETRY})
	task.Retry = model.RetrySpec{MaxAttempts: 2, InitialDelayMs: 1}
	_, err := ex.Execute(context.Background(), task, map[string]any{}, "run1:node-a:1")
	require.NoError(t, err)
	require.Equal(t, []string{"run1:node-a:1:1", "run1:node-a:1:2"}, inv.keys)
}
