package pipeline

import "time"

// Status is the outcome of a single step attempt.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailure, StatusSkipped:
		return true
	}
	return false
}

// Event is a single observation of a pipeline step attempt.
// Events are immutable after creation and append-only: a retry never
// updates an existing event, it creates a new one with an incremented
// sequence in its id.
type Event struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	PipelineType string            `json:"pipeline_type"`
	Step         string            `json:"step"`
	Status       Status            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Handler      string            `json:"handler,omitempty"`
	DurationMs   *float64          `json:"duration_ms,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
