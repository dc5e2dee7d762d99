package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/ucp-labs/pipetrack/internal/integrity"
	"github.com/ucp-labs/pipetrack/internal/pipeline"
)

// Session is the derived aggregate for one session_id: its full event
// history plus a checksum computed fresh on every read.
type Session struct {
	SessionID    string             `json:"session_id"`
	PipelineType string             `json:"pipeline_type"`
	Events       []pipeline.Event   `json:"events"`
	Checksum     integrity.Checksum `json:"checksum"`
	LastUpdated  time.Time          `json:"last_updated"`
}

// Summary is the listing row for one session.
type Summary struct {
	SessionID    string             `json:"session_id"`
	PipelineType string             `json:"pipeline_type"`
	EventCount   int                `json:"event_count"`
	LastUpdated  time.Time          `json:"last_updated"`
	Checksum     integrity.Checksum `json:"checksum"`
}

// Tracker ingests pipeline events and answers session queries. It owns the
// append-only log; checksum, health, and velocity consumers derive their
// state from it on demand.
type Tracker struct {
	log      EventLog
	registry *pipeline.Registry
}

// New builds a tracker over the given log and definition registry.
func New(log EventLog, registry *pipeline.Registry) *Tracker {
	return &Tracker{log: log, registry: registry}
}

// Record appends one event. There is no dedup here: the webhook route
// establishes idempotency before calling Record.
func (t *Tracker) Record(ctx context.Context, ev pipeline.Event) error {
	if ev.ID == "" || ev.SessionID == "" {
		return fmt.Errorf("Record: event missing id or session_id")
	}
	if !ev.Status.Valid() {
		return fmt.Errorf("Record: unknown status %q", ev.Status)
	}
	return t.log.Append(ctx, ev)
}

// Session materializes the aggregate for a session id, or nil when the
// session has no events.
func (t *Tracker) Session(ctx context.Context, sessionID string) (*Session, error) {
	events, err := t.log.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("Session: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	pipelineType := events[0].PipelineType
	return &Session{
		SessionID:    sessionID,
		PipelineType: pipelineType,
		Events:       events,
		Checksum:     integrity.Compute(events, t.registry.GetDefinition(pipelineType)),
		LastUpdated:  lastUpdated(events),
	}, nil
}

// Sessions lists summaries for every tracked session.
func (t *Tracker) Sessions(ctx context.Context) ([]Summary, error) {
	ids, err := t.log.SessionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("Sessions: %w", err)
	}

	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		events, err := t.log.List(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("Sessions: %w", err)
		}
		if len(events) == 0 {
			continue
		}
		pipelineType := events[0].PipelineType
		summaries = append(summaries, Summary{
			SessionID:    id,
			PipelineType: pipelineType,
			EventCount:   len(events),
			LastUpdated:  lastUpdated(events),
			Checksum:     integrity.Compute(events, t.registry.GetDefinition(pipelineType)),
		})
	}
	return summaries, nil
}

// Checksum recomputes the checksum for one session. Sessions with no
// events still get a checksum (seed hash, zero counts, invalid).
func (t *Tracker) Checksum(ctx context.Context, sessionID string) (integrity.Checksum, error) {
	events, err := t.log.List(ctx, sessionID)
	if err != nil {
		return integrity.Checksum{}, fmt.Errorf("Checksum: %w", err)
	}

	var def *pipeline.Definition
	if len(events) > 0 {
		def = t.registry.GetDefinition(events[0].PipelineType)
	}
	return integrity.Compute(events, def), nil
}

// Events returns the full event stream across all sessions, for consumers
// that aggregate over handlers rather than sessions.
func (t *Tracker) Events(ctx context.Context) ([]pipeline.Event, error) {
	ids, err := t.log.SessionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("Events: %w", err)
	}

	var all []pipeline.Event
	for _, id := range ids {
		events, err := t.log.List(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("Events: %w", err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func lastUpdated(events []pipeline.Event) time.Time {
	var max time.Time
	for _, ev := range events {
		if ev.Timestamp.After(max) {
			max = ev.Timestamp
		}
	}
	return max
}
