package engine

import (
	"context"
)

// PlanOutcome distinguishes the three results a successful plan can have.
type PlanOutcome string

const (
	// PlanNoChanges means the applied state already matches the desired
	// state.
	PlanNoChanges PlanOutcome = "no_changes"

	// PlanChangesPending means a plan artifact with pending changes was
	// produced.
	PlanChangesPending PlanOutcome = "changes_pending"
)

// PlanResult is the outcome of a successful plan operation.
type PlanResult struct {
	// Outcome distinguishes no-op plans from plans with pending changes.
	Outcome PlanOutcome `json:"outcome"`

	// ArtifactPath is the engine-side path of the saved plan artifact.
	// Apply consumes exactly this artifact; the plan is never recomputed.
	ArtifactPath string `json:"artifact_path"`

	// Summary is the engine's human-readable change summary, if any.
	Summary string `json:"summary,omitempty"`
}

// ApplyEngine is the external declarative apply engine, treated as a black
// box behind its CLI surface. Implementations map engine failures to
// classified errors: a held state lock becomes a conflict error, transport
// failures become connectivity errors, everything else an apply-engine
// error.
type ApplyEngine interface {
	// Init prepares the engine working directory.
	Init(ctx context.Context) error

	// Validate checks the desired-state artifact for structural validity.
	Validate(ctx context.Context) error

	// Plan computes and saves a concrete plan artifact.
	Plan(ctx context.Context) (PlanResult, error)

	// Apply applies a previously-saved plan artifact verbatim.
	Apply(ctx context.Context, plan PlanResult) error

	// StateList returns every resource address in the engine's state.
	StateList(ctx context.Context) ([]string, error)

	// StateShow returns the raw string attributes of one resource address.
	StateShow(ctx context.Context, address string) (map[string]string, error)
}
