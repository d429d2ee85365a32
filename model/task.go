package model

type RetryPolicy string

const RETRY_POLICY_FIXED RetryPolicy = "FIXED"
const RETRY_POLICY_BACKOFF RetryPolicy = "BACKOFF"

type RetrySpec struct {
	MaxAttempts    int         `json:"max_attempts"`
	Policy         RetryPolicy `json:"backoff"`
	InitialDelayMs int64       `json:"initial_delay_ms"`
	MaxDelayMs     int64       `json:"max_delay_ms"`
}

type FailurePolicy string

const FAILURE_ABORT FailurePolicy = "abort"
const FAILURE_RETRY FailurePolicy = "retry"
const FAILURE_CONTINUE FailurePolicy = "continue"

// BranchOutcome is what a step condition branch resolves to.
type BranchOutcome string

const BRANCH_CONTINUE BranchOutcome = "continue"
const BRANCH_SKIP BranchOutcome = "skip"
const BRANCH_SUCCEED BranchOutcome = "succeed"
const BRANCH_FAIL BranchOutcome = "fail"

type StepCondition struct {
	If   string        `json:"if"`
	Then BranchOutcome `json:"then"`
	Else BranchOutcome `json:"else"`
}

type Step struct {
	Ordinal       int            `json:"ordinal"`
	Action        string         `json:"action"`
	InputMapping  []Mapping      `json:"input_mapping,omitempty"`
	OutputMapping []Mapping      `json:"output_mapping,omitempty"`
	OnFailure     FailurePolicy  `json:"on_failure,omitempty"`
	Condition     *StepCondition `json:"condition,omitempty"`
}

// TaskDefinition is an ordered, retryable sequence of steps. Step
// execution is strictly linear, ordinals are dense 0..n-1.
type TaskDefinition struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Steps     []Step    `json:"steps"`
	Retry     RetrySpec `json:"retry"`
	TimeoutMs int64     `json:"timeout_ms"`
}

// FailurePolicyFor resolves the step policy, defaulting to abort.
func (s *Step) FailurePolicyFor() FailurePolicy {
	if s.OnFailure == "" {
		return FAILURE_ABORT
	}
	return s.OnFailure
}
