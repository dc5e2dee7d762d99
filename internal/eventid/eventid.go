// Package eventid implements the composite event coordinate
// {session_id}.{pipeline_type}.{step}.{sequence} that uniquely addresses
// every pipeline event.
package eventid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidEventID is returned when a coordinate does not match the
// canonical session.pipeline.step.seq form. Malformed ids are rejected
// before any store mutation and never retried.
var ErrInvalidEventID = errors.New("invalid event id")

var (
	sessionPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	wordPattern    = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	fullPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+\.[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*\.\d+$`)
)

// EventID is the parsed form of a pipeline event coordinate.
// Sequence 0 is the first attempt; higher sequences are retries.
type EventID struct {
	SessionID    string
	PipelineType string
	Step         string
	Sequence     int
}

// New builds a validated EventID. Sequence defaults to 0 when negative
// input is not desired; callers pass 0 for first attempts.
func New(sessionID, pipelineType, step string, sequence int) (EventID, error) {
	if !sessionPattern.MatchString(sessionID) {
		return EventID{}, fmt.Errorf("%w: session_id %q", ErrInvalidEventID, sessionID)
	}
	if !wordPattern.MatchString(pipelineType) {
		return EventID{}, fmt.Errorf("%w: pipeline_type %q", ErrInvalidEventID, pipelineType)
	}
	if !wordPattern.MatchString(step) {
		return EventID{}, fmt.Errorf("%w: step %q", ErrInvalidEventID, step)
	}
	if sequence < 0 {
		return EventID{}, fmt.Errorf("%w: negative sequence %d", ErrInvalidEventID, sequence)
	}

	id := EventID{
		SessionID:    sessionID,
		PipelineType: pipelineType,
		Step:         step,
		Sequence:     sequence,
	}
	if !fullPattern.MatchString(id.String()) {
		return EventID{}, fmt.Errorf("%w: %q", ErrInvalidEventID, id.String())
	}
	return id, nil
}

// Parse decodes a canonical coordinate string.
func Parse(s string) (EventID, error) {
	if !fullPattern.MatchString(s) {
		return EventID{}, fmt.Errorf("%w: %q", ErrInvalidEventID, s)
	}

	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return EventID{}, fmt.Errorf("%w: %q", ErrInvalidEventID, s)
	}

	seq, err := strconv.Atoi(parts[3])
	if err != nil || seq < 0 {
		return EventID{}, fmt.Errorf("%w: sequence %q", ErrInvalidEventID, parts[3])
	}

	return EventID{
		SessionID:    parts[0],
		PipelineType: parts[1],
		Step:         parts[2],
		Sequence:     seq,
	}, nil
}

// String returns the canonical session.pipeline.step.seq form.
// Parse(id.String()) recovers the original fields exactly.
func (id EventID) String() string {
	return id.SessionID + "." + id.PipelineType + "." + id.Step + "." + strconv.Itoa(id.Sequence)
}

// Retry returns the coordinate for the next attempt of the same step.
func (id EventID) Retry() EventID {
	next := id
	next.Sequence++
	return next
}
