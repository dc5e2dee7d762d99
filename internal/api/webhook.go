package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-labs/pipetrack/internal/analytics"
	"github.com/ucp-labs/pipetrack/internal/eventid"
	"github.com/ucp-labs/pipetrack/internal/idempotency"
	"github.com/ucp-labs/pipetrack/internal/pipeline"
	"go.uber.org/zap"
)

// handleWebhook implements POST /v1/webhooks/{event_id}.
//
// Order matters: the coordinate is validated before any store mutation, the
// idempotency store is consulted before the event log is touched, and a
// duplicate delivery short-circuits with a success response so the upstream
// provider stops retrying.
func (d *Dependencies) handleWebhook(w http.ResponseWriter, r *http.Request) {
	rawID := r.PathValue("event_id")

	id, err := eventid.Parse(rawID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid event id"})
		return
	}

	var req WebhookRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	status := pipeline.Status(req.Status)
	if req.Status == "" {
		status = pipeline.StatusSuccess
	}
	if !status.Valid() {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Unknown status"})
		return
	}

	deliveryID := uuid.New().String()

	duplicate, err := idempotency.CheckAndMark(r.Context(), d.Idempotency, id.String())
	if err != nil {
		// A backend failure must not read as "not processed"; surface it so
		// the provider retries the delivery.
		d.Logger.Error("idempotency check failed", zap.String("event_id", id.String()), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Idempotency store unavailable"})
		return
	}

	if duplicate {
		d.writeAnalytics(id, req, status, true)
		writeJSON(w, http.StatusOK, WebhookResponse{
			Accepted:   true,
			Duplicate:  true,
			DeliveryID: deliveryID,
			EventID:    id.String(),
		})
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	ev := pipeline.Event{
		ID:           id.String(),
		SessionID:    id.SessionID,
		PipelineType: id.PipelineType,
		Step:         id.Step,
		Status:       status,
		Timestamp:    ts,
		Handler:      req.Handler,
		DurationMs:   req.DurationMs,
		Error:        req.Error,
		Metadata:     req.Metadata,
	}

	if err := d.Tracker.Record(r.Context(), ev); err != nil {
		d.Logger.Error("record failed", zap.String("event_id", id.String()), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event log unavailable"})
		return
	}

	d.writeAnalytics(id, req, status, false)

	checksum, err := d.Tracker.Checksum(r.Context(), id.SessionID)
	resp := WebhookResponse{
		Accepted:   true,
		Duplicate:  false,
		DeliveryID: deliveryID,
		EventID:    id.String(),
	}
	if err != nil {
		d.Logger.Warn("checksum after append failed", zap.String("session_id", id.SessionID), zap.Error(err))
	} else {
		resp.Checksum = &checksum
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeAnalytics fires a record to the async analytics writer.
func (d *Dependencies) writeAnalytics(id eventid.EventID, req WebhookRequest, status pipeline.Status, duplicate bool) {
	rec := &analytics.EventRecord{
		EventID:      id.String(),
		SessionID:    id.SessionID,
		PipelineType: id.PipelineType,
		Step:         id.Step,
		Status:       string(status),
		Handler:      req.Handler,
		Error:        req.Error,
		Duplicate:    duplicate,
		Timestamp:    time.Now().UTC(),
	}
	if req.DurationMs != nil {
		rec.DurationMs = *req.DurationMs
		rec.HasDuration = true
	}
	d.Writer.Write(rec)
}
