package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ucp-labs/pipetrack/internal/analytics"
	"github.com/ucp-labs/pipetrack/internal/idempotency"
	"github.com/ucp-labs/pipetrack/internal/pipeline"
	"github.com/ucp-labs/pipetrack/internal/tracker"
	"github.com/ucp-labs/pipetrack/internal/velocity"
	"go.uber.org/zap"
)

func newTestRouter() (http.Handler, *tracker.Tracker) {
	tr := tracker.New(tracker.NewMemoryLog(), pipeline.NewRegistry())
	deps := &Dependencies{
		Tracker:     tr,
		Idempotency: idempotency.NewMemoryStore(),
		Velocity:    velocity.NewMemoryStore(),
		Writer:      analytics.NewLogWriter(zap.NewNop()),
		Logger:      zap.NewNop(),
	}
	return NewRouter(deps), tr
}

func postWebhook(t *testing.T, router http.Handler, eventID string, body map[string]any) (*httptest.ResponseRecorder, WebhookResponse) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/"+eventID, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp WebhookResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, resp
}

func TestWebhook_MalformedIDRejectedWithoutSideEffects(t *testing.T) {
	router, tr := newTestRouter()

	rec, _ := postWebhook(t, router, "not-a-valid-id", map[string]any{"status": "success"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	sessions, err := tr.Sessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("malformed webhook must not append events, got %d sessions", len(sessions))
	}
}

func TestWebhook_DoubleDelivery(t *testing.T) {
	router, tr := newTestRouter()
	const eventID = "evt_polar_001.checkout_subscription.webhook_received.0"

	rec, resp := postWebhook(t, router, eventID, map[string]any{"status": "success", "handler": "polar"})
	if rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if resp.Duplicate {
		t.Error("first delivery must not be a duplicate")
	}
	if !resp.Accepted {
		t.Error("first delivery must be accepted")
	}
	if resp.Checksum == nil {
		t.Error("first delivery should carry the fresh checksum")
	}

	rec, resp = postWebhook(t, router, eventID, map[string]any{"status": "success", "handler": "polar"})
	if rec.Code != http.StatusOK {
		t.Fatalf("second delivery status = %d", rec.Code)
	}
	if !resp.Duplicate {
		t.Error("second delivery must be a duplicate")
	}
	if !resp.Accepted {
		t.Error("duplicate delivery is still a success response")
	}

	sess, err := tr.Session(context.Background(), "evt_polar_001")
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Events) != 1 {
		t.Errorf("duplicate delivery must not double-append: %d events", len(sess.Events))
	}
}

func TestWebhook_UnknownStatusRejected(t *testing.T) {
	router, _ := newTestRouter()
	rec, _ := postWebhook(t, router, "chk_001.checkout_digital.buyer_validated.0",
		map[string]any{"status": "cancelled"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhook_FullDigitalCheckout(t *testing.T) {
	router, _ := newTestRouter()

	steps := []string{"buyer_validated", "payment_initiated", "payment_confirmed", "checkout_completed"}
	var last WebhookResponse
	for _, step := range steps {
		rec, resp := postWebhook(t, router, "chk_001.checkout_digital."+step+".0",
			map[string]any{"status": "success", "handler": "stripe"})
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", step, rec.Code)
		}
		last = resp
	}

	if last.Checksum == nil {
		t.Fatal("expected checksum in response")
	}
	if last.Checksum.StepsCompleted != 4 || last.Checksum.StepsExpected != 4 {
		t.Errorf("unexpected checksum counts: %+v", last.Checksum)
	}
	if !last.Checksum.IsValid {
		t.Error("expected valid checksum after all required steps succeeded")
	}
}

func TestGetSession_NotFound(t *testing.T) {
	router, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/pipetrack/sessions/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	router, _ := newTestRouter()

	postWebhook(t, router, "chk_001.checkout_digital.buyer_validated.0", map[string]any{"status": "success"})
	postWebhook(t, router, "chk_002.checkout_physical.buyer_validated.0", map[string]any{"status": "success"})

	req := httptest.NewRequest(http.MethodGet, "/api/pipetrack/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp SessionListResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
}

func TestHandlerHealth_Endpoint(t *testing.T) {
	router, _ := newTestRouter()

	postWebhook(t, router, "chk_001.checkout_digital.payment_confirmed.0",
		map[string]any{"status": "success", "handler": "stripe", "duration_ms": 120.0})

	req := httptest.NewRequest(http.MethodGet, "/api/pipetrack/handlers/stripe/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp HandlerHealthResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalCalls != 1 || resp.SuccessRate != 100 {
		t.Errorf("unexpected health: %+v", resp.Health)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %s, want healthy", resp.Status)
	}
}

func TestAssessment_Endpoint(t *testing.T) {
	router, _ := newTestRouter()

	body, _ := json.Marshal(AssessmentRequest{Email: "buyer@example.com", IP: "203.0.113.7"})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/pipetrack/assessments", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d", i, rec.Code)
		}

		var resp AssessmentResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if i == 0 && resp.Velocity {
			t.Error("first assessment must carry no velocity signal")
		}
		if i == 1 && !resp.Velocity {
			t.Error("repeat assessment must carry a velocity signal")
		}
	}
}

func TestAnalytics_UnavailableWithoutClickHouse(t *testing.T) {
	router, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/pipetrack/analytics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
