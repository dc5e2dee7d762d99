// Package integrity computes tamper-evident checksums over a session's
// ordered event history.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/ucp-labs/pipetrack/internal/eventid"
	"github.com/ucp-labs/pipetrack/internal/pipeline"
)

// Checksum summarizes one session's event list. ChainHash is a sha256
// chain folded over the canonically ordered events, so any append,
// removal, or reorder produces a different hash.
type Checksum struct {
	ChainHash      string `json:"chain_hash"`
	StepsCompleted int    `json:"steps_completed"`
	StepsExpected  int    `json:"steps_expected"`
	StepsFailed    int    `json:"steps_failed"`
	IsValid        bool   `json:"is_valid"`
}

// Compute derives the checksum for a session's events against its pipeline
// definition. def may be nil for unregistered pipeline types; tracking then
// degrades to counting distinct observed steps instead of failing.
//
// A required step that never ran and one whose latest attempt failed both
// leave IsValid false; callers distinguish the two through StepsCompleted
// versus StepsFailed.
func Compute(events []pipeline.Event, def *pipeline.Definition) Checksum {
	ordered := canonicalOrder(events)

	sum := sha256.Sum256(nil)
	hash := hex.EncodeToString(sum[:])
	for _, ev := range ordered {
		h := sha256.New()
		h.Write([]byte(hash))
		h.Write([]byte(ev.ID))
		h.Write([]byte(ev.Status))
		h.Write([]byte(ev.Timestamp.UTC().Format(time.RFC3339Nano)))
		hash = hex.EncodeToString(h.Sum(nil))
	}

	succeeded := make(map[string]bool)
	latest := make(map[string]pipeline.Event)
	for _, ev := range ordered {
		if ev.Status == pipeline.StatusSuccess {
			succeeded[ev.Step] = true
		}
		// ordered is ascending, so the last write wins the tie-break.
		latest[ev.Step] = ev
	}

	failed := 0
	for _, ev := range latest {
		if ev.Status == pipeline.StatusFailure {
			failed++
		}
	}

	cs := Checksum{
		ChainHash:      hash,
		StepsCompleted: len(succeeded),
		StepsFailed:    failed,
	}

	if def == nil {
		cs.StepsExpected = len(latest)
		cs.IsValid = validAgainst(stepKeys(latest), succeeded, latest)
		return cs
	}

	cs.StepsExpected = len(def.RequiredSteps)
	cs.IsValid = validAgainst(def.RequiredSteps, succeeded, latest)
	return cs
}

// validAgainst reports whether every required step has at least one success
// and no required step's latest event is a failure.
func validAgainst(required []string, succeeded map[string]bool, latest map[string]pipeline.Event) bool {
	for _, step := range required {
		if !succeeded[step] {
			return false
		}
		if ev, ok := latest[step]; ok && ev.Status == pipeline.StatusFailure {
			return false
		}
	}
	return len(required) > 0
}

// canonicalOrder returns a copy of events sorted by (timestamp, sequence)
// ascending. Sequence comes from the event id; unparseable ids sort as
// sequence 0 so the fold stays total.
func canonicalOrder(events []pipeline.Event) []pipeline.Event {
	ordered := make([]pipeline.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return sequenceOf(ordered[i]) < sequenceOf(ordered[j])
	})
	return ordered
}

func sequenceOf(ev pipeline.Event) int {
	id, err := eventid.Parse(ev.ID)
	if err != nil {
		return 0
	}
	return id.Sequence
}

func stepKeys(latest map[string]pipeline.Event) []string {
	out := make([]string, 0, len(latest))
	for step := range latest {
		out = append(out, step)
	}
	sort.Strings(out)
	return out
}
