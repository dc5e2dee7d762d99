package analytics

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the pipeline_events_analytics table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// SummaryStats holds aggregate event counts by status.
type SummaryStats struct {
	TotalEvents int `json:"total_events"`
	Successes   int `json:"successes"`
	Failures    int `json:"failures"`
	Pending     int `json:"pending"`
	Duplicates  int `json:"duplicates"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// StepCount holds a step and its count.
type StepCount struct {
	Step  string `json:"step"`
	Count int    `json:"count"`
}

// HandlerLatency holds per-handler latency quantiles.
type HandlerLatency struct {
	Handler string  `json:"handler"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
}

// HandlerCount holds a handler and its failure count.
type HandlerCount struct {
	Handler string `json:"handler"`
	Count   int    `json:"count"`
}

// Result holds all analytics aggregations.
type Result struct {
	Summary          SummaryStats     `json:"summary"`
	FailuresOverTime []TimeSeriesBucket `json:"failures_over_time"`
	TopFailingSteps  []StepCount      `json:"top_failing_steps"`
	HandlerLatencies []HandlerLatency `json:"handler_latencies"`
	TopFailingHandlers []HandlerCount `json:"top_failing_handlers"`
}

// GetAnalytics returns aggregated pipeline analytics over the given number
// of days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*Result, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("range_start", rangeStart),
	}

	result := &Result{}

	// Summary counts
	var total, successes, failures, pending, duplicates uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(status = 'success') as successes, "+
			"countIf(status = 'failure') as failures, "+
			"countIf(status = 'pending') as pending, "+
			"countIf(is_duplicate = 1) as duplicates "+
			"FROM pipeline_events_analytics "+
			"WHERE timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &successes, &failures, &pending, &duplicates)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalEvents: int(total),
		Successes:   int(successes),
		Failures:    int(failures),
		Pending:     int(pending),
		Duplicates:  int(duplicates),
	}

	// Failures over time (hourly)
	fotRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM pipeline_events_analytics "+
			"WHERE status = 'failure' AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics failures_over_time: %w", err)
	}
	defer func() { _ = fotRows.Close() }()
	for fotRows.Next() {
		var hour time.Time
		var count uint64
		if err := fotRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics failures_over_time scan: %w", err)
		}
		result.FailuresOverTime = append(result.FailuresOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Top failing steps
	stepRows, err := r.conn.Query(ctx,
		"SELECT step, count() as count "+
			"FROM pipeline_events_analytics "+
			"WHERE status = 'failure' AND timestamp >= @range_start "+
			"GROUP BY step ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_failing_steps: %w", err)
	}
	defer func() { _ = stepRows.Close() }()
	for stepRows.Next() {
		var step string
		var count uint64
		if err := stepRows.Scan(&step, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_failing_steps scan: %w", err)
		}
		result.TopFailingSteps = append(result.TopFailingSteps, StepCount{
			Step: step, Count: int(count),
		})
	}

	// Handler latency quantiles (last 24h, events carrying a duration)
	latRows, err := r.conn.Query(ctx,
		"SELECT handler, "+
			"quantile(0.5)(duration_ms) as p50, "+
			"quantile(0.95)(duration_ms) as p95, "+
			"quantile(0.99)(duration_ms) as p99 "+
			"FROM pipeline_events_analytics "+
			"WHERE handler != '' AND has_duration = 1 AND timestamp >= @day_start "+
			"GROUP BY handler ORDER BY handler",
		clickhouse.Named("day_start", dayStart),
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics handler_latencies: %w", err)
	}
	defer func() { _ = latRows.Close() }()
	for latRows.Next() {
		var h HandlerLatency
		if err := latRows.Scan(&h.Handler, &h.P50, &h.P95, &h.P99); err != nil {
			return nil, fmt.Errorf("GetAnalytics handler_latencies scan: %w", err)
		}
		h.P50, h.P95, h.P99 = safeFloat(h.P50), safeFloat(h.P95), safeFloat(h.P99)
		result.HandlerLatencies = append(result.HandlerLatencies, h)
	}

	// Top failing handlers
	hRows, err := r.conn.Query(ctx,
		"SELECT handler, count() as count "+
			"FROM pipeline_events_analytics "+
			"WHERE status = 'failure' AND handler != '' AND timestamp >= @range_start "+
			"GROUP BY handler ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_failing_handlers: %w", err)
	}
	defer func() { _ = hRows.Close() }()
	for hRows.Next() {
		var hc HandlerCount
		var count uint64
		if err := hRows.Scan(&hc.Handler, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_failing_handlers scan: %w", err)
		}
		hc.Count = int(count)
		result.TopFailingHandlers = append(result.TopFailingHandlers, hc)
	}

	// Ensure slices are non-nil for JSON serialization
	if result.FailuresOverTime == nil {
		result.FailuresOverTime = []TimeSeriesBucket{}
	}
	if result.TopFailingSteps == nil {
		result.TopFailingSteps = []StepCount{}
	}
	if result.HandlerLatencies == nil {
		result.HandlerLatencies = []HandlerLatency{}
	}
	if result.TopFailingHandlers == nil {
		result.TopFailingHandlers = []HandlerCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
