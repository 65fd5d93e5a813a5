package engine

import (
	"fmt"
)

// Stage identifies one step of the deployment pipeline.
type Stage string

const (
	// StageInit prepares the apply engine working directory.
	StageInit Stage = "init"

	// StageValidate checks the desired-state artifact for structural
	// validity and policy conformance.
	StageValidate Stage = "validate"

	// StagePlan computes the concrete plan artifact.
	StagePlan Stage = "plan"

	// StageGuard evaluates the safety verdict against the planned changes.
	StageGuard Stage = "guard"

	// StageApply applies the previously-computed plan artifact.
	StageApply Stage = "apply"

	// StageVerify re-queries the applied state and checks category coverage.
	StageVerify Stage = "verify"
)

// Order returns the pipeline stages in execution order.
func Order() []Stage {
	return []Stage{StageInit, StageValidate, StagePlan, StageGuard, StageApply, StageVerify}
}

// Validate checks if the stage is known.
func (s Stage) Validate() error {
	switch s {
	case StageInit, StageValidate, StagePlan, StageGuard, StageApply, StageVerify:
		return nil
	default:
		return fmt.Errorf("invalid pipeline stage: %s", s)
	}
}

// RunStatus is the terminal or in-flight status of a pipeline run.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run stopped at a failed stage.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates cancellation was observed between stages.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is known.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// StageResult is the recorded outcome of one executed stage.
type StageResult string

const (
	// StageResultSucceeded indicates the stage completed.
	StageResultSucceeded StageResult = "succeeded"

	// StageResultFailed indicates the stage failed and aborted the run.
	StageResultFailed StageResult = "failed"

	// StageResultSkipped indicates the stage never ran (earlier failure
	// or explicit skip).
	StageResultSkipped StageResult = "skipped"
)
