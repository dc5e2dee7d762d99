package integrity

import (
	"testing"
	"time"

	"github.com/ucp-labs/pipetrack/internal/pipeline"
)

var digitalSteps = []string{"buyer_validated", "payment_initiated", "payment_confirmed", "checkout_completed"}

func digitalDef() *pipeline.Definition {
	return pipeline.NewRegistry().GetDefinition("checkout_digital")
}

func successEvents(session string, t0 time.Time) []pipeline.Event {
	events := make([]pipeline.Event, 0, len(digitalSteps))
	for i, step := range digitalSteps {
		events = append(events, pipeline.Event{
			ID:           session + ".checkout_digital." + step + ".0",
			SessionID:    session,
			PipelineType: "checkout_digital",
			Step:         step,
			Status:       pipeline.StatusSuccess,
			Timestamp:    t0.Add(time.Duration(i) * time.Second),
		})
	}
	return events
}

func TestCompute_AllRequiredSucceeded(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := successEvents("chk_001", t0)

	cs := Compute(events, digitalDef())
	if cs.StepsCompleted != 4 {
		t.Errorf("steps_completed = %d, want 4", cs.StepsCompleted)
	}
	if cs.StepsExpected != 4 {
		t.Errorf("steps_expected = %d, want 4", cs.StepsExpected)
	}
	if cs.StepsFailed != 0 {
		t.Errorf("steps_failed = %d, want 0", cs.StepsFailed)
	}
	if !cs.IsValid {
		t.Error("expected is_valid=true")
	}
	if cs.ChainHash == "" {
		t.Error("expected non-empty chain hash")
	}
}

func TestCompute_LateFailureInvalidates(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := successEvents("chk_001", t0)
	// Inject a failure for payment_confirmed at t4, later than its success.
	events = append(events, pipeline.Event{
		ID:           "chk_001.checkout_digital.payment_confirmed.1",
		SessionID:    "chk_001",
		PipelineType: "checkout_digital",
		Step:         "payment_confirmed",
		Status:       pipeline.StatusFailure,
		Timestamp:    t0.Add(4 * time.Second),
	})

	cs := Compute(events, digitalDef())
	if cs.IsValid {
		t.Error("expected is_valid=false when latest event for a required step is failure")
	}
	if cs.StepsCompleted != 4 {
		t.Errorf("steps_completed = %d, want 4 (step had a success at some point)", cs.StepsCompleted)
	}
	if cs.StepsFailed != 1 {
		t.Errorf("steps_failed = %d, want 1", cs.StepsFailed)
	}
}

func TestCompute_MissingRequiredStep(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := successEvents("chk_001", t0)[:3] // checkout_completed never ran

	cs := Compute(events, digitalDef())
	if cs.IsValid {
		t.Error("expected is_valid=false with a required step missing")
	}
	if cs.StepsCompleted != 3 {
		t.Errorf("steps_completed = %d, want 3", cs.StepsCompleted)
	}
	if cs.StepsFailed != 0 {
		t.Errorf("steps_failed = %d, want 0", cs.StepsFailed)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := successEvents("chk_001", t0)

	first := Compute(events, digitalDef())
	second := Compute(events, digitalDef())
	if first.ChainHash != second.ChainHash {
		t.Errorf("chain hash not deterministic: %s vs %s", first.ChainHash, second.ChainHash)
	}

	// Input slice order must not matter: the chain is canonicalized by sort.
	reversed := make([]pipeline.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		reversed = append(reversed, events[i])
	}
	third := Compute(reversed, digitalDef())
	if third.ChainHash != first.ChainHash {
		t.Errorf("chain hash depends on input slice order: %s vs %s", third.ChainHash, first.ChainHash)
	}
}

func TestCompute_AppendChangesHash(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := successEvents("chk_001", t0)
	before := Compute(events, digitalDef())

	events = append(events, pipeline.Event{
		ID:           "chk_001.checkout_digital.fulfillment_scheduled.0",
		SessionID:    "chk_001",
		PipelineType: "checkout_digital",
		Step:         "fulfillment_scheduled",
		Status:       pipeline.StatusSuccess,
		Timestamp:    t0.Add(10 * time.Second),
	})
	after := Compute(events, digitalDef())

	if before.ChainHash == after.ChainHash {
		t.Error("appending an event must change the chain hash")
	}
}

func TestCompute_RemovalChangesHash(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := successEvents("chk_001", t0)
	full := Compute(events, digitalDef())
	truncated := Compute(events[:3], digitalDef())

	if full.ChainHash == truncated.ChainHash {
		t.Error("removing an event must change the chain hash")
	}
}

func TestCompute_TimestampTieBreaksOnSequence(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Same timestamp, retry has higher sequence: the retry is "latest".
	events := []pipeline.Event{
		{
			ID:        "chk_002.checkout_digital.payment_confirmed.0",
			SessionID: "chk_002", PipelineType: "checkout_digital",
			Step: "payment_confirmed", Status: pipeline.StatusFailure, Timestamp: t0,
		},
		{
			ID:        "chk_002.checkout_digital.payment_confirmed.1",
			SessionID: "chk_002", PipelineType: "checkout_digital",
			Step: "payment_confirmed", Status: pipeline.StatusSuccess, Timestamp: t0,
		},
	}

	cs := Compute(events, nil)
	if cs.StepsFailed != 0 {
		t.Errorf("steps_failed = %d, want 0 (seq 1 success is latest)", cs.StepsFailed)
	}
	if !cs.IsValid {
		t.Error("expected is_valid=true when the highest-sequence event succeeded")
	}
}

func TestCompute_UnregisteredPipelineFallsBack(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []pipeline.Event{
		{
			ID:        "s1.legacy_flow.step_one.0",
			SessionID: "s1", PipelineType: "legacy_flow",
			Step: "step_one", Status: pipeline.StatusSuccess, Timestamp: t0,
		},
		{
			ID:        "s1.legacy_flow.step_two.0",
			SessionID: "s1", PipelineType: "legacy_flow",
			Step: "step_two", Status: pipeline.StatusSuccess, Timestamp: t0.Add(time.Second),
		},
	}

	cs := Compute(events, nil)
	if cs.StepsExpected != 2 {
		t.Errorf("steps_expected = %d, want 2 (distinct observed steps)", cs.StepsExpected)
	}
	if !cs.IsValid {
		t.Error("expected is_valid=true for all-success unregistered pipeline")
	}
}

func TestCompute_EmptySession(t *testing.T) {
	cs := Compute(nil, digitalDef())
	if cs.IsValid {
		t.Error("expected is_valid=false with no events")
	}
	if cs.StepsCompleted != 0 || cs.StepsFailed != 0 {
		t.Errorf("unexpected counts: %+v", cs)
	}
	if cs.ChainHash == "" {
		t.Error("empty session still has the seed hash")
	}
}

func BenchmarkCompute(b *testing.B) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := successEvents("chk_001", t0)
	def := digitalDef()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Compute(events, def)
	}
}
