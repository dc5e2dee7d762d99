package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ucp-labs/pipetrack/internal/pipeline"
)

// PostgresLog is the durable event log backend. The pipeline_events table
// is insert-only; retries land as new rows with a new event id, never as
// updates.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog wraps an open database/sql handle (pgx stdlib driver).
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// Migrate creates the pipeline_events table if it does not exist.
func (l *PostgresLog) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_events (
			id            BIGSERIAL PRIMARY KEY,
			event_id      TEXT        NOT NULL,
			session_id    TEXT        NOT NULL,
			pipeline_type TEXT        NOT NULL,
			step          TEXT        NOT NULL,
			status        TEXT        NOT NULL,
			ts            TIMESTAMPTZ NOT NULL,
			handler       TEXT        NOT NULL DEFAULT '',
			duration_ms   DOUBLE PRECISION,
			error         TEXT        NOT NULL DEFAULT '',
			metadata      JSONB       NOT NULL DEFAULT '{}'::jsonb
		);
		CREATE INDEX IF NOT EXISTS pipeline_events_session_idx
			ON pipeline_events (session_id, ts);`)
	if err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

func (l *PostgresLog) Append(ctx context.Context, ev pipeline.Event) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO pipeline_events
			(event_id, session_id, pipeline_type, step, status, ts, handler, duration_ms, error, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.SessionID, ev.PipelineType, ev.Step, string(ev.Status),
		ev.Timestamp, ev.Handler, ev.DurationMs, ev.Error, meta,
	)
	if err != nil {
		return fmt.Errorf("Append: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (l *PostgresLog) List(ctx context.Context, sessionID string) ([]pipeline.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, session_id, pipeline_type, step, status, ts, handler, duration_ms, error, metadata
		FROM pipeline_events
		WHERE session_id = $1
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("List: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var events []pipeline.Event
	for rows.Next() {
		var (
			ev       pipeline.Event
			status   string
			ts       time.Time
			duration sql.NullFloat64
			meta     []byte
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.PipelineType, &ev.Step,
			&status, &ts, &ev.Handler, &duration, &ev.Error, &meta); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		ev.Status = pipeline.Status(status)
		ev.Timestamp = ts
		if duration.Valid {
			d := duration.Float64
			ev.DurationMs = &d
		}
		if len(meta) > 0 && string(meta) != "null" {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("List: %w", err)
			}
		}
		events = append(events, ev)
	}
	if events == nil {
		events = []pipeline.Event{}
	}
	return events, rows.Err()
}

func (l *PostgresLog) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT DISTINCT session_id FROM pipeline_events ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("SessionIDs: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("SessionIDs: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
