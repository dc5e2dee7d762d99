package api

import (
	"net/http"

	"github.com/ucp-labs/pipetrack/internal/analytics"
	"github.com/ucp-labs/pipetrack/internal/idempotency"
	"github.com/ucp-labs/pipetrack/internal/tracker"
	"github.com/ucp-labs/pipetrack/internal/velocity"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Tracker     *tracker.Tracker
	Idempotency idempotency.Store
	Velocity    velocity.Store
	Writer      analytics.Writer
	Reader      *analytics.Reader // nil if ClickHouse unavailable
	Logger      *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Webhook ingest
	mux.HandleFunc("POST /v1/webhooks/{event_id}", deps.handleWebhook)

	// Sessions
	mux.HandleFunc("GET /api/pipetrack/sessions", deps.handleListSessions)
	mux.HandleFunc("GET /api/pipetrack/sessions/{session_id}", deps.handleGetSession)

	// Handler health
	mux.HandleFunc("GET /api/pipetrack/handlers/{handler}/health", deps.handleHandlerHealth)

	// Risk assessments (velocity)
	mux.HandleFunc("POST /api/pipetrack/assessments", deps.handleAssessment)

	// Analytics
	mux.HandleFunc("GET /api/pipetrack/analytics", deps.handleGetAnalytics)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
