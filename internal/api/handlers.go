package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ucp-labs/pipetrack/internal/health"
	"github.com/ucp-labs/pipetrack/internal/velocity"
	"go.uber.org/zap"
)

func (d *Dependencies) handleHandlerHealth(w http.ResponseWriter, r *http.Request) {
	handler := r.PathValue("handler")

	events, err := d.Tracker.Events(r.Context())
	if err != nil {
		d.Logger.Error("failed to load events for health", zap.String("handler", handler), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to compute handler health"})
		return
	}

	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, HandlerHealthResp{
		Health:     health.Compute(handler, events, now),
		ComputedAt: now,
	})
}

func (d *Dependencies) handleAssessment(w http.ResponseWriter, r *http.Request) {
	var req AssessmentRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Email == "" && req.DeviceHash == "" && req.IP == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "At least one identity component is required"})
		return
	}

	signals, err := d.Velocity.RecordAndScore(r.Context(), velocity.Identity{
		Email:      req.Email,
		DeviceHash: req.DeviceHash,
		IP:         req.IP,
	})
	if err != nil {
		d.Logger.Error("velocity store failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Velocity store unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, AssessmentResponse{
		Signals:  signals,
		Velocity: signals.Any(),
	})
}

func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			days = n
		}
	}
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	result, err := d.Reader.GetAnalytics(r.Context(), days)
	if err != nil {
		d.Logger.Error("failed to get analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get analytics"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}
