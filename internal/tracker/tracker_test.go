package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ucp-labs/pipetrack/internal/pipeline"
)

func newTestTracker() *Tracker {
	return New(NewMemoryLog(), pipeline.NewRegistry())
}

func digitalEvent(session, step string, status pipeline.Status, ts time.Time) pipeline.Event {
	return pipeline.Event{
		ID:           session + ".checkout_digital." + step + ".0",
		SessionID:    session,
		PipelineType: "checkout_digital",
		Step:         step,
		Status:       status,
		Timestamp:    ts,
	}
}

func TestTracker_RecordAndSession(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	steps := []string{"buyer_validated", "payment_initiated", "payment_confirmed", "checkout_completed"}
	for i, step := range steps {
		ev := digitalEvent("chk_001", step, pipeline.StatusSuccess, t0.Add(time.Duration(i)*time.Second))
		if err := tr.Record(ctx, ev); err != nil {
			t.Fatalf("Record %s: %v", step, err)
		}
	}

	sess, err := tr.Session(ctx, "chk_001")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session")
	}
	if len(sess.Events) != 4 {
		t.Errorf("event count = %d, want 4", len(sess.Events))
	}
	if !sess.Checksum.IsValid {
		t.Errorf("expected valid checksum, got %+v", sess.Checksum)
	}
	if sess.Checksum.StepsCompleted != 4 || sess.Checksum.StepsExpected != 4 {
		t.Errorf("unexpected checksum counts: %+v", sess.Checksum)
	}
	if !sess.LastUpdated.Equal(t0.Add(3 * time.Second)) {
		t.Errorf("last_updated = %v", sess.LastUpdated)
	}
}

func TestTracker_UnknownSession(t *testing.T) {
	sess, err := newTestTracker().Session(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil for unknown session, got %+v", sess)
	}
}

func TestTracker_Sessions(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, session := range []string{"chk_001", "chk_002"} {
		if err := tr.Record(ctx, digitalEvent(session, "buyer_validated", pipeline.StatusSuccess, t0)); err != nil {
			t.Fatal(err)
		}
	}

	summaries, err := tr.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summary count = %d, want 2", len(summaries))
	}
	for _, s := range summaries {
		if s.PipelineType != "checkout_digital" {
			t.Errorf("pipeline_type = %s", s.PipelineType)
		}
		if s.EventCount != 1 {
			t.Errorf("event_count = %d, want 1", s.EventCount)
		}
		if s.Checksum.IsValid {
			t.Error("single-step session should not be valid")
		}
	}
}

func TestTracker_RecordRejectsMalformed(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	if err := tr.Record(ctx, pipeline.Event{SessionID: "chk_001"}); err == nil {
		t.Error("expected error for missing event id")
	}
	if err := tr.Record(ctx, pipeline.Event{
		ID: "chk_001.checkout_digital.buyer_validated.0", SessionID: "chk_001",
		Status: pipeline.Status("cancelled"),
	}); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestTracker_RetryAppendsNewEvent(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := digitalEvent("chk_003", "payment_confirmed", pipeline.StatusFailure, t0)
	retry := first
	retry.ID = "chk_003.checkout_digital.payment_confirmed.1"
	retry.Status = pipeline.StatusSuccess
	retry.Timestamp = t0.Add(time.Second)

	if err := tr.Record(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := tr.Record(ctx, retry); err != nil {
		t.Fatal(err)
	}

	sess, err := tr.Session(ctx, "chk_003")
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Events) != 2 {
		t.Errorf("retry must append, not replace: %d events", len(sess.Events))
	}
	if sess.Checksum.StepsFailed != 0 {
		t.Errorf("latest attempt succeeded, steps_failed = %d", sess.Checksum.StepsFailed)
	}
}

func TestMemoryLog_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	const perSession = 50
	var wg sync.WaitGroup
	for _, session := range []string{"s1", "s2"} {
		for i := 0; i < perSession; i++ {
			wg.Add(1)
			go func(session string, i int) {
				defer wg.Done()
				ev := pipeline.Event{
					ID:        fmt.Sprintf("%s.checkout_digital.buyer_validated.%d", session, i),
					SessionID: session, PipelineType: "checkout_digital",
					Step: "buyer_validated", Status: pipeline.StatusSuccess,
					Timestamp: t0,
				}
				if err := log.Append(ctx, ev); err != nil {
					t.Errorf("Append: %v", err)
				}
			}(session, i)
		}
	}
	wg.Wait()

	for _, session := range []string{"s1", "s2"} {
		events, err := log.List(ctx, session)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(events) != perSession {
			t.Errorf("%s: %d events, want %d", session, len(events), perSession)
		}
	}
}

func TestMemoryLog_ListReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := pipeline.Event{
		ID: "s1.checkout_digital.buyer_validated.0", SessionID: "s1",
		PipelineType: "checkout_digital", Step: "buyer_validated",
		Status: pipeline.StatusSuccess, Timestamp: t0,
	}
	if err := log.Append(ctx, ev); err != nil {
		t.Fatal(err)
	}

	snapshot, _ := log.List(ctx, "s1")
	ev.ID = "s1.checkout_digital.payment_initiated.0"
	ev.Step = "payment_initiated"
	if err := log.Append(ctx, ev); err != nil {
		t.Fatal(err)
	}

	if len(snapshot) != 1 {
		t.Errorf("snapshot mutated by later append: %d events", len(snapshot))
	}
}
