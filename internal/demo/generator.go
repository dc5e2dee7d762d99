// Package demo emits synthetic checkout sessions through the real ingest
// path so a fresh deployment has data to look at.
package demo

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-labs/pipetrack/internal/eventid"
	"github.com/ucp-labs/pipetrack/internal/idempotency"
	"github.com/ucp-labs/pipetrack/internal/pipeline"
	"github.com/ucp-labs/pipetrack/internal/tracker"
	"go.uber.org/zap"
)

var handlers = []string{
	"checkout-core",
	"payments-gateway",
	"inventory-svc",
	"fulfillment-svc",
	"webhook-relay",
}

// Generator writes one synthetic session per tick. Events go through the
// same idempotency check and tracker append as real webhook deliveries.
type Generator struct {
	tracker  *tracker.Tracker
	idemp    idempotency.Store
	registry *pipeline.Registry
	interval time.Duration
	logger   *zap.Logger
	rng      *rand.Rand
}

func NewGenerator(tr *tracker.Tracker, idemp idempotency.Store, registry *pipeline.Registry, interval time.Duration, logger *zap.Logger) *Generator {
	return &Generator{
		tracker:  tr,
		idemp:    idemp,
		registry: registry,
		interval: interval,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run blocks until ctx is cancelled, emitting one session per interval.
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("demo generator stopped")
			return
		case <-ticker.C:
			if err := g.EmitSession(ctx); err != nil && ctx.Err() == nil {
				g.logger.Warn("demo session failed", zap.Error(err))
			}
		}
	}
}

// EmitSession runs one synthetic session: every required step of a randomly
// chosen pipeline type, with a ~15% chance of cutting off at a failed step.
// Cancellation is checked between events so shutdown never waits on a
// half-emitted session.
func (g *Generator) EmitSession(ctx context.Context) error {
	types := g.registry.Types()
	pipelineType := types[g.rng.Intn(len(types))]
	def := g.registry.GetDefinition(pipelineType)

	sessionID := "demo_" + uuid.NewString()[:8]
	failAt := -1
	if g.rng.Float64() < 0.15 {
		failAt = g.rng.Intn(len(def.RequiredSteps))
	}

	base := time.Now().UTC()
	for i, step := range def.RequiredSteps {
		if err := ctx.Err(); err != nil {
			return err
		}

		status := pipeline.StatusSuccess
		errMsg := ""
		if i == failAt {
			status = pipeline.StatusFailure
			errMsg = "Synthetic failure injected by demo generator"
		}

		id, err := eventid.New(sessionID, pipelineType, step, 0)
		if err != nil {
			return fmt.Errorf("EmitSession: %w", err)
		}

		duration := 20 + g.rng.Float64()*400
		ev := pipeline.Event{
			ID:           id.String(),
			SessionID:    sessionID,
			PipelineType: pipelineType,
			Step:         step,
			Status:       status,
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			Handler:      handlers[g.rng.Intn(len(handlers))],
			DurationMs:   &duration,
			Error:        errMsg,
			Metadata:     map[string]string{"source": "demo"},
		}

		dup, err := idempotency.CheckAndMark(ctx, g.idemp, ev.ID)
		if err != nil {
			return fmt.Errorf("EmitSession: %w", err)
		}
		if dup {
			continue
		}
		if err := g.tracker.Record(ctx, ev); err != nil {
			return fmt.Errorf("EmitSession: %w", err)
		}

		if status == pipeline.StatusFailure {
			break
		}
	}

	g.logger.Debug("demo session emitted",
		zap.String("session_id", sessionID),
		zap.String("pipeline_type", pipelineType),
	)
	return nil
}
