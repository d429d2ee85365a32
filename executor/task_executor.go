package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/weftlabs/weft/action"
	"github.com/weftlabs/weft/expr"
	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/mapping"
	"github.com/weftlabs/weft/model"
	"go.uber.org/zap"
)

// TaskExecutor runs one task definition's ordered steps against an
// ephemeral context. It keeps no state between invocations; durability
// of the returned result is the coordinator's responsibility.
type TaskExecutor struct {
	invoker action.Invoker
}

func NewTaskExecutor(invoker action.Invoker) *TaskExecutor {
	return &TaskExecutor{invoker: invoker}
}

// Execute runs the task to output or failure. The whole-task timeout
// bounds the sum of all attempts, including backoff waits. dispatchKey
// is the run:node:attempt idempotency key; the executor appends its own
// attempt number before handing it to actions.
func (e *TaskExecutor) Execute(ctx context.Context, task *model.TaskDefinition, input map[string]any, dispatchKey string) (map[string]any, error) {
	steps := make([]model.Step, len(task.Steps))
	copy(steps, task.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Ordinal < steps[j].Ordinal })

	if task.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	maxAttempts := task.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	// The attempt counter lives outside the per-attempt context so it
	// survives context resets.
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		output, retry, err := e.runAttempt(ctx, task, steps, input, dispatchKey, attempt)
		if err == nil {
			return output, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		delay := backoffDelay(task.Retry, attempt)
		logger.Debug("retrying task", zap.String("task", task.ID), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		if err := e.wait(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, model.RetryExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

// runAttempt executes all steps once against a fresh context seeded from
// the original input. The second return reports whether the failure is
// eligible for another attempt.
func (e *TaskExecutor) runAttempt(ctx context.Context, task *model.TaskDefinition, steps []model.Step, input map[string]any, dispatchKey string, attempt int) (map[string]any, bool, error) {
	taskCtx := model.NewRunContext(model.CopyDocument(input))
	doc := taskCtx.Document()

	for i := 0; i < len(steps); i++ {
		step := steps[i]
		if err := e.checkDeadline(ctx, task); err != nil {
			return nil, false, err
		}
		if step.Condition != nil {
			outcome, err := e.branch(step, doc)
			if err != nil {
				return nil, false, err
			}
			switch outcome {
			case model.BRANCH_SKIP:
				continue
			case model.BRANCH_SUCCEED:
				return taskCtx.Output, false, nil
			case model.BRANCH_FAIL:
				return nil, false, model.ActionError{
					Action:  task.ID,
					Message: fmt.Sprintf("step %d condition resolved to fail", step.Ordinal),
				}
			}
		}

		// a step with no declared input mapping sees the whole task input
		var stepInput map[string]any
		if len(step.InputMapping) > 0 {
			projected, err := mapping.Apply(step.InputMapping, doc)
			if err != nil {
				return nil, false, err
			}
			stepInput = projected
		} else {
			stepInput = model.CopyDocument(taskCtx.Input)
		}
		actionCtx := action.WithDispatchKey(ctx, fmt.Sprintf("%s:%d", dispatchKey, attempt))
		result, err := e.invoker.Invoke(actionCtx, step.Action, stepInput)
		if err != nil {
			if hardFailure(err) {
				return nil, false, err
			}
			if dl := e.checkDeadline(ctx, task); dl != nil {
				return nil, false, dl
			}
			switch step.FailurePolicyFor() {
			case model.FAILURE_CONTINUE:
				logger.Debug("ignoring step failure", zap.String("task", task.ID), zap.Int("step", step.Ordinal), zap.Error(err))
				continue
			case model.FAILURE_RETRY:
				if retryable(err) {
					return nil, true, err
				}
				return nil, false, err
			default:
				return nil, false, err
			}
		}
		if len(step.OutputMapping) > 0 {
			if err := mapping.MergeInto(step.OutputMapping, result, doc); err != nil {
				return nil, false, err
			}
		} else if len(result) > 0 {
			// no declared output mapping: the whole result becomes the
			// task output
			if err := mapping.Set(doc, "output", result); err != nil {
				return nil, false, err
			}
		}
	}
	return taskCtx.Output, false, nil
}

func (e *TaskExecutor) branch(step model.Step, doc map[string]any) (model.BranchOutcome, error) {
	ok, err := expr.EvalBool(step.Condition.If, doc)
	if err != nil {
		// a broken condition is a malformed definition, not a runtime
		// condition, so no on_failure policy applies
		return "", model.DefinitionError{Message: fmt.Sprintf("step %d condition: %v", step.Ordinal, err)}
	}
	if ok {
		return step.Condition.Then, nil
	}
	return step.Condition.Else, nil
}

func (e *TaskExecutor) checkDeadline(ctx context.Context, task *model.TaskDefinition) error {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.TimeoutError{Message: fmt.Sprintf("task %s exceeded %dms", task.ID, task.TimeoutMs)}
	}
	return ctx.Err()
}

func (e *TaskExecutor) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.TimeoutError{Message: "task timed out waiting for retry"}
		}
		return ctx.Err()
	}
}

// hardFailure reports errors that abort regardless of on_failure policy.
func hardFailure(err error) bool {
	var me model.MappingError
	var de model.DefinitionError
	var te model.TimeoutError
	return errors.As(err, &me) || errors.As(err, &de) || errors.As(err, &te)
}

func retryable(err error) bool {
	var ae model.ActionError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return true
}

func backoffDelay(retry model.RetrySpec, attempt int) time.Duration {
	delay := time.Duration(retry.InitialDelayMs) * time.Millisecond
	if retry.Policy == model.RETRY_POLICY_BACKOFF {
		delay = delay * time.Duration(attempt)
	}
	if max := time.Duration(retry.MaxDelayMs) * time.Millisecond; max > 0 && delay > max {
		delay = max
	}
	return delay
}
