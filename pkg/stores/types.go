package stores

import (
	"time"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

// RunStatus represents the status of a reconciliation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ResultStatus represents the outcome of one resource inside a run.
type ResultStatus string

const (
	ResultStatusSucceeded ResultStatus = "succeeded"
	ResultStatusFailed    ResultStatus = "failed"
)

// EventLevel represents the severity level of an event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// ReconcileRun is one recorded reconciliation of an environment.
type ReconcileRun struct {
	ID            string       `json:"id"`
	EnvironmentID string       `json:"environment_id"`
	Flow          control.Flow `json:"flow"`
	Status        RunStatus    `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	Error         *string      `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ResourceResult is the outcome of one resource's action inside a run.
type ResourceResult struct {
	ID           string                  `json:"id"`
	RunID        string                  `json:"run_id"`
	ResourceName string                  `json:"resource_name"`
	ResourceType string                  `json:"resource_type"`
	Action       control.ReconcileAction `json:"action"`
	Status       ResultStatus            `json:"status"`
	EndpointURL  *string                 `json:"endpoint_url,omitempty"`
	Error        *string                 `json:"error,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
}

// Event is an append-only log entry attached to a run.
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}
