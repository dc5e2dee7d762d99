package api

import (
	"time"

	"github.com/ucp-labs/pipetrack/internal/health"
	"github.com/ucp-labs/pipetrack/internal/integrity"
	"github.com/ucp-labs/pipetrack/internal/pipeline"
	"github.com/ucp-labs/pipetrack/internal/velocity"
)

// --- POST /v1/webhooks/{event_id} ---

// WebhookRequest is the JSON body for a webhook delivery. The event
// coordinate travels in the URL path; the body carries the observation.
type WebhookRequest struct {
	Status     string            `json:"status"`
	Handler    string            `json:"handler,omitempty"`
	DurationMs *float64          `json:"duration_ms,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
}

// WebhookResponse reports the delivery outcome. Duplicate deliveries are a
// success, not an error: accepted stays true and duplicate flips.
type WebhookResponse struct {
	Accepted   bool                `json:"accepted"`
	Duplicate  bool                `json:"duplicate"`
	DeliveryID string              `json:"delivery_id"`
	EventID    string              `json:"event_id"`
	Checksum   *integrity.Checksum `json:"checksum,omitempty"`
}

// --- Sessions ---

// SessionResp is the full aggregate for one session.
type SessionResp struct {
	SessionID    string             `json:"session_id"`
	PipelineType string             `json:"pipeline_type"`
	Events       []pipeline.Event   `json:"events"`
	Checksum     integrity.Checksum `json:"checksum"`
	LastUpdated  time.Time          `json:"last_updated"`
}

// SessionSummaryResp is one row of the session listing.
type SessionSummaryResp struct {
	SessionID    string             `json:"session_id"`
	PipelineType string             `json:"pipeline_type"`
	EventCount   int                `json:"event_count"`
	LastUpdated  time.Time          `json:"last_updated"`
	Checksum     integrity.Checksum `json:"checksum"`
}

// SessionListResp wraps the session listing.
type SessionListResp struct {
	Sessions []SessionSummaryResp `json:"sessions"`
	Total    int                  `json:"total"`
}

// --- Handler health ---

// HandlerHealthResp wraps a computed health snapshot.
type HandlerHealthResp struct {
	health.Health
	ComputedAt time.Time `json:"computed_at"`
}

// --- Risk assessments ---

// AssessmentRequest is the JSON body for POST /api/pipetrack/assessments.
type AssessmentRequest struct {
	Email      string `json:"email,omitempty"`
	DeviceHash string `json:"device_hash,omitempty"`
	IP         string `json:"ip,omitempty"`
}

// AssessmentResponse carries the velocity signals for an identity.
type AssessmentResponse struct {
	Signals  velocity.Signals `json:"signals"`
	Velocity bool             `json:"velocity"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
