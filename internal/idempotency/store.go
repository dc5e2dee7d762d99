// Package idempotency deduplicates inbound webhook deliveries by event id.
//
// "Not found" always means "assume unprocessed": a false negative only
// causes a reprocess, after which idempotency is re-established. A backend
// failure is never reported as "not processed" — it surfaces as
// ErrUnavailable so the caller can fail the delivery and let the upstream
// system retry.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable signals that the backing store could not be reached.
var ErrUnavailable = errors.New("idempotency store unavailable")

// Store records which event ids have already been processed.
type Store interface {
	// HasProcessed reports whether the exact event id was previously marked.
	HasProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed marks an event id as processed. Marking twice is a no-op.
	MarkProcessed(ctx context.Context, eventID string) error
}

// MemoryStore is the in-process fallback. State does not survive restarts,
// which is safe: unknown ids are simply reprocessed.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]time.Time)}
}

func (s *MemoryStore) HasProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID]
	return ok, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[eventID]; !ok {
		s.seen[eventID] = time.Now()
	}
	return nil
}

// CheckAndMark atomically checks and records an event id, returning whether
// it had already been processed. This closes the race where two concurrent
// deliveries of the same webhook both observe "not processed".
func (s *MemoryStore) CheckAndMark(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[eventID]; ok {
		return true, nil
	}
	s.seen[eventID] = time.Now()
	return false, nil
}

// CheckAndMarker is implemented by stores supporting a single atomic
// check-and-set. The ingest route prefers it over the two-call sequence.
type CheckAndMarker interface {
	CheckAndMark(ctx context.Context, eventID string) (alreadyProcessed bool, err error)
}

// CheckAndMark performs an atomic check-and-set when the store supports it,
// falling back to HasProcessed + MarkProcessed otherwise.
func CheckAndMark(ctx context.Context, store Store, eventID string) (bool, error) {
	if cm, ok := store.(CheckAndMarker); ok {
		return cm.CheckAndMark(ctx, eventID)
	}
	processed, err := store.HasProcessed(ctx, eventID)
	if err != nil || processed {
		return processed, err
	}
	return false, store.MarkProcessed(ctx, eventID)
}
