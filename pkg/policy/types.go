package policy

import (
	"time"

	"github.com/pvconverge/pvconverge/pkg/config"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block the deployment.
	SeverityError Severity = "error"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Category is the resource category of the offending record.
	Category string `json:"category,omitempty"`

	// Key is the record key that violated the policy.
	Key string `json:"key,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the outcome of evaluating all policies against a
// merged document.
type Result struct {
	// Allowed indicates if the deployment may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Input is the per-record input document handed to Rego.
type Input struct {
	// Record is the resource record being evaluated.
	Record *recordInput `json:"record"`

	// Context provides evaluation context.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the pipeline operation being performed.
	Operation string `json:"operation,omitempty"`
}

// recordInput mirrors config.ResourceRecord with plain JSON field names
// so Rego rules address record.category, record.key, record.attributes.
type recordInput struct {
	Category   string         `json:"category"`
	Key        string         `json:"key"`
	Enabled    bool           `json:"enabled"`
	Attributes map[string]any `json:"attributes"`
}

func newRecordInput(rec config.ResourceRecord) *recordInput {
	return &recordInput{
		Category:   string(rec.Category),
		Key:        rec.Key,
		Enabled:    rec.Enabled,
		Attributes: rec.Attributes,
	}
}
