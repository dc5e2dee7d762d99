// Package health derives rolling health aggregates for payment handlers
// from the pipeline event stream.
package health

import (
	"math"
	"sort"
	"time"

	"github.com/ucp-labs/pipetrack/internal/pipeline"
)

// Status is the tri-state handler condition.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// activityWindow is the trailing window within which a handler must have
// produced at least one event to count as alive.
const activityWindow = time.Hour

// Health is a windowed aggregate over one handler's events.
type Health struct {
	Handler       string     `json:"handler"`
	TotalCalls    int        `json:"total_calls"`
	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	SuccessRate   int        `json:"success_rate"`
	AvgLatencyMs  float64    `json:"avg_latency_ms"`
	P95LatencyMs  float64    `json:"p95_latency_ms"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastFailureAt *time.Time `json:"last_failure_at"`
	LastError     string     `json:"last_error,omitempty"`
	Status        Status     `json:"status"`
}

// Compute aggregates the given handler's events into a Health snapshot.
// Events not attributed to handler are ignored, so callers may pass the
// full stream.
func Compute(handler string, events []pipeline.Event, now time.Time) Health {
	h := Health{Handler: handler, Status: StatusDown}

	var (
		latencies   []float64
		lastFailure *pipeline.Event
		recent      bool
	)

	for i := range events {
		ev := events[i]
		if ev.Handler != handler {
			continue
		}

		h.TotalCalls++
		switch ev.Status {
		case pipeline.StatusSuccess:
			h.SuccessCount++
			if h.LastSuccessAt == nil || ev.Timestamp.After(*h.LastSuccessAt) {
				ts := ev.Timestamp
				h.LastSuccessAt = &ts
			}
		case pipeline.StatusFailure:
			h.FailureCount++
			if h.LastFailureAt == nil || ev.Timestamp.After(*h.LastFailureAt) {
				ts := ev.Timestamp
				h.LastFailureAt = &ts
				failed := ev
				lastFailure = &failed
			}
		}

		if ev.DurationMs != nil {
			latencies = append(latencies, *ev.DurationMs)
		}
		if now.Sub(ev.Timestamp) <= activityWindow {
			recent = true
		}
	}

	if h.TotalCalls > 0 {
		h.SuccessRate = int(math.Round(100 * float64(h.SuccessCount) / float64(h.TotalCalls)))
	}

	if len(latencies) > 0 {
		sum := 0.0
		for _, l := range latencies {
			sum += l
		}
		h.AvgLatencyMs = sum / float64(len(latencies))
		h.P95LatencyMs = percentile(latencies, 0.95)
	}

	if lastFailure != nil {
		h.LastError = failureMessage(*lastFailure)
	}

	switch {
	case h.TotalCalls == 0 || !recent:
		h.Status = StatusDown
	case h.SuccessRate > 95:
		h.Status = StatusHealthy
	case h.SuccessRate >= 50:
		h.Status = StatusDegraded
	default:
		h.Status = StatusDown
	}

	return h
}

// percentile sorts a copy of the samples and returns the value at index
// ceil(p*n)-1, clamped to the valid range.
func percentile(samples []float64, p float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// failureMessage extracts a human-readable error from a failure event,
// falling back to metadata-embedded code/message fields.
func failureMessage(ev pipeline.Event) string {
	if ev.Error != "" {
		return ev.Error
	}
	if msg, ok := ev.Metadata["error_message"]; ok && msg != "" {
		return msg
	}
	if code, ok := ev.Metadata["error_code"]; ok && code != "" {
		return code
	}
	return "Unknown error"
}
