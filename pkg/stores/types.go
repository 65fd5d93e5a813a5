package stores

import (
	"context"
	"time"
)

// RunStatus is the stored status of one pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// EventLevel is the severity level of a stored event.
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one recorded pipeline run.
type Run struct {
	ID           string     `json:"id"`
	ArtifactPath string     `json:"artifact_path"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// StageRecord is one recorded pipeline stage execution.
type StageRecord struct {
	ID          int64      `json:"id"`
	RunID       string     `json:"run_id"`
	Stage       string     `json:"stage"`
	Result      string     `json:"result"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Event is one append-only timeline entry.
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Stage     *string    `json:"stage,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store is the run-history persistence surface.
type Store interface {
	// Init opens the database and applies connection settings.
	Init(ctx context.Context) error

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	// Close releases the database.
	Close() error

	// HealthCheck verifies the database is reachable.
	HealthCheck(ctx context.Context) error

	// CreateRun inserts a new run record.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// UpdateRunStatus transitions a run to a new status.
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error

	// ListRuns lists runs newest-first with pagination.
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// RecordStage inserts one completed stage execution.
	RecordStage(ctx context.Context, rec *StageRecord) error

	// ListStages lists the stage records of one run in execution order.
	ListStages(ctx context.Context, runID string) ([]*StageRecord, error)

	// AppendEvent appends one timeline event.
	AppendEvent(ctx context.Context, event *Event) error

	// ListEvents lists the events of one run oldest-first.
	ListEvents(ctx context.Context, runID string, limit int) ([]*Event, error)
}
