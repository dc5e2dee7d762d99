// Package analytics ships pipeline events to ClickHouse for dashboard
// aggregation. The write path is fire-and-forget; the tracker's event log
// remains the source of truth.
package analytics

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// EventRecord is the analytics projection of one pipeline event.
type EventRecord struct {
	EventID      string
	SessionID    string
	PipelineType string
	Step         string
	Status       string
	Handler      string
	DurationMs   float64
	HasDuration  bool
	Error        string
	Duplicate    bool
	Timestamp    time.Time
}

// Writer is the interface for shipping analytics records.
// Write() must NEVER block the caller.
type Writer interface {
	Write(rec *EventRecord)
	Close()
}

// ClickHouseWriter writes pipeline events to ClickHouse asynchronously.
// Write() is non-blocking — records are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *EventRecord
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background
// flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN sets TLS when ?secure=true is in the DSN; enforce it here
	// so managed ClickHouse endpoints work with plain DSNs too.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *EventRecord, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues a record for async insertion.
// Non-blocking: drops the record if the buffer is full.
func (w *ClickHouseWriter) Write(rec *EventRecord) {
	select {
	case w.buffer <- rec:
	default:
		w.logger.Warn("clickhouse buffer full, dropping record",
			zap.String("event_id", rec.EventID),
		)
	}
}

// Close signals the flush loop to drain remaining records, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*EventRecord, 0, flushBatch)

	for {
		select {
		case rec := <-w.buffer:
			batch = append(batch, rec)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case rec := <-w.buffer:
					batch = append(batch, rec)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(records []*EventRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO pipeline_events_analytics (
			event_id, session_id, pipeline_type, step, status,
			handler, duration_ms, has_duration, error, is_duplicate, timestamp
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, rec := range records {
		var hasDuration, isDuplicate uint8
		if rec.HasDuration {
			hasDuration = 1
		}
		if rec.Duplicate {
			isDuplicate = 1
		}

		if err := batch.Append(
			rec.EventID,
			rec.SessionID,
			rec.PipelineType,
			rec.Step,
			rec.Status,
			rec.Handler,
			rec.DurationMs,
			hasDuration,
			rec.Error,
			isDuplicate,
			rec.Timestamp,
		); err != nil {
			w.logger.Error("clickhouse append record failed",
				zap.String("event_id", rec.EventID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback Writer for local development.
// It logs records as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs records to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(rec *EventRecord) {
	w.logger.Info("pipeline_event",
		zap.String("event_id", rec.EventID),
		zap.String("session_id", rec.SessionID),
		zap.String("pipeline_type", rec.PipelineType),
		zap.String("step", rec.Step),
		zap.String("status", rec.Status),
		zap.String("handler", rec.Handler),
		zap.Float64("duration_ms", rec.DurationMs),
		zap.Bool("is_duplicate", rec.Duplicate),
	)
}

func (w *LogWriter) Close() {}
