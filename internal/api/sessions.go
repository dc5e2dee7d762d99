package api

import (
	"net/http"

	"go.uber.org/zap"
)

func (d *Dependencies) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := d.Tracker.Sessions(r.Context())
	if err != nil {
		d.Logger.Error("failed to list sessions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list sessions"})
		return
	}

	resp := SessionListResp{
		Sessions: make([]SessionSummaryResp, 0, len(summaries)),
		Total:    len(summaries),
	}
	for _, s := range summaries {
		resp.Sessions = append(resp.Sessions, SessionSummaryResp{
			SessionID:    s.SessionID,
			PipelineType: s.PipelineType,
			EventCount:   s.EventCount,
			LastUpdated:  s.LastUpdated,
			Checksum:     s.Checksum,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	sess, err := d.Tracker.Session(r.Context(), sessionID)
	if err != nil {
		d.Logger.Error("failed to get session", zap.String("session_id", sessionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get session"})
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Session not found."})
		return
	}

	writeJSON(w, http.StatusOK, SessionResp{
		SessionID:    sess.SessionID,
		PipelineType: sess.PipelineType,
		Events:       sess.Events,
		Checksum:     sess.Checksum,
		LastUpdated:  sess.LastUpdated,
	})
}
