// Package engine contains the deployment pipeline: the staged state machine
// that drives the external apply engine from INIT through VERIFY with
// fail-fast semantics, plus the classified error type every stage reports
// through.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a pipeline failure for exit-code and remediation
// decisions.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a malformed or structurally
	// invalid desired state. Always fatal.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassConnectivity indicates the remote transport was
	// unreachable or timed out. Fatal for mandatory calls, degraded
	// silently for best-effort ones.
	ErrorClassConnectivity ErrorClass = "connectivity"

	// ErrorClassGuardBlocked indicates the safety guard refused the run.
	// Always fatal; never retried automatically.
	ErrorClassGuardBlocked ErrorClass = "guard_blocked"

	// ErrorClassApplyEngine indicates a non-zero result from an apply
	// engine operation. Always fatal; the persisted artifact is retained
	// for manual retry.
	ErrorClassApplyEngine ErrorClass = "apply_engine"

	// ErrorClassStateQuery indicates the applied-state read-back failed.
	// Non-fatal: the merge degrades to an empty snapshot.
	ErrorClassStateQuery ErrorClass = "state_query"

	// ErrorClassConflict indicates the engine's state lock is held by
	// another invocation. Fatal for this run; safe to retry later.
	ErrorClassConflict ErrorClass = "conflict"
)

// PipelineError is a classified error with stage context and an optional
// remedy the diagnostic message carries to the operator.
type PipelineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Stage is the pipeline stage the error occurred in, if any.
	Stage Stage `json:"stage,omitempty"`

	// Remedy tells the operator how to unblock the run, if known.
	Remedy string `json:"remedy,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Stage != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Class, e.Stage, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Remedy != "" {
		msg = fmt.Sprintf("%s (remedy: %s)", msg, e.Remedy)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is implements class-based equality for errors.Is.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithStage attaches stage context to the error.
func (e *PipelineError) WithStage(stage Stage) *PipelineError {
	e.Stage = stage
	return e
}

// WithRemedy attaches remediation text to the error.
func (e *PipelineError) WithRemedy(remedy string) *PipelineError {
	e.Remedy = remedy
	return e
}

// NewConfigurationError creates a configuration-class error.
func NewConfigurationError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// NewConnectivityError creates a connectivity-class error.
func NewConnectivityError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassConnectivity, Message: message, Err: err}
}

// NewGuardBlockedError creates a guard-blocked error.
func NewGuardBlockedError(message, remedy string) *PipelineError {
	return &PipelineError{Class: ErrorClassGuardBlocked, Message: message, Remedy: remedy}
}

// NewApplyEngineError creates an apply-engine-class error.
func NewApplyEngineError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassApplyEngine, Message: message, Err: err}
}

// NewStateQueryError creates a state-query-class error.
func NewStateQueryError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassStateQuery, Message: message, Err: err}
}

// NewConflictError creates a conflict-class error.
func NewConflictError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
		Remedy:  "another deployment holds the engine state lock; retry after it finishes",
	}
}

// classOf extracts the class from an error chain, or "" if unclassified.
func classOf(err error) ErrorClass {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ""
}

// IsGuardBlocked reports whether the error chain contains a guard refusal.
func IsGuardBlocked(err error) bool {
	return classOf(err) == ErrorClassGuardBlocked
}

// IsConflict reports whether the error chain contains an engine lock conflict.
func IsConflict(err error) bool {
	return classOf(err) == ErrorClassConflict
}

// IsConnectivity reports whether the error chain contains a transport failure.
func IsConnectivity(err error) bool {
	return classOf(err) == ErrorClassConnectivity
}
