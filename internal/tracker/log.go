// Package tracker owns the append-only pipeline event log and answers
// session queries with freshly computed checksums.
package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ucp-labs/pipetrack/internal/pipeline"
)

// ErrUnavailable signals that the backing event log could not be reached.
var ErrUnavailable = errors.New("event log unavailable")

// EventLog stores pipeline events grouped by session. Appends for the same
// session must be linearizable; List must observe a consistent snapshot of
// appends so far.
type EventLog interface {
	// Append records one event under its session. Never deduplicates —
	// idempotency belongs to the ingest route.
	Append(ctx context.Context, ev pipeline.Event) error

	// List returns the session's events in append order. A session with no
	// events returns an empty slice, not an error.
	List(ctx context.Context, sessionID string) ([]pipeline.Event, error)

	// SessionIDs returns every session that has at least one event.
	SessionIDs(ctx context.Context) ([]string, error)
}

// MemoryLog is the in-process fallback. A single RWMutex guards the
// per-session slices; reads hand out copies so checksum computation never
// races a concurrent append.
type MemoryLog struct {
	mu       sync.RWMutex
	sessions map[string][]pipeline.Event
}

// NewMemoryLog returns an empty in-process event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{sessions: make(map[string][]pipeline.Event)}
}

func (l *MemoryLog) Append(_ context.Context, ev pipeline.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[ev.SessionID] = append(l.sessions[ev.SessionID], ev)
	return nil
}

func (l *MemoryLog) List(_ context.Context, sessionID string) ([]pipeline.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.sessions[sessionID]
	out := make([]pipeline.Event, len(events))
	copy(out, events)
	return out, nil
}

func (l *MemoryLog) SessionIDs(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
