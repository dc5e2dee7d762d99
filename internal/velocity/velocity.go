// Package velocity accumulates per-identity request counts across risk
// assessments. Repeat activity by the same email, device, or IP within the
// store's window is a fraud signal; the first sighting is the baseline and
// produces no signal.
package velocity

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// ErrUnavailable signals that the backing store could not be reached.
var ErrUnavailable = errors.New("velocity store unavailable")

// Identity is the tuple tracked across assessments. Empty components are
// skipped; they contribute no signal either way.
type Identity struct {
	Email      string `json:"email,omitempty"`
	DeviceHash string `json:"device_hash,omitempty"`
	IP         string `json:"ip,omitempty"`
}

// Signals carries the prior-sighting counts for each identity component.
// All zeros means the identity was seen for the first time.
type Signals struct {
	EmailRepeats  int `json:"email_repeats"`
	DeviceRepeats int `json:"device_repeats"`
	IPRepeats     int `json:"ip_repeats"`
}

// Any reports whether at least one component has prior sightings.
func (s Signals) Any() bool {
	return s.EmailRepeats > 0 || s.DeviceRepeats > 0 || s.IPRepeats > 0
}

// Store records an identity sighting and returns how often each component
// was seen before. Shared across concurrent assessments so velocity is
// visible cluster-wide when the backend is persistent.
type Store interface {
	RecordAndScore(ctx context.Context, id Identity) (Signals, error)
}

// Fingerprint derives the namespaced key component for an identity value.
// Raw emails and IPs never land in the keyspace; a blake2b-256 digest
// (truncated) stands in for them.
func Fingerprint(value string) string {
	sum := blake2b.Sum256([]byte(strings.ToLower(strings.TrimSpace(value))))
	return hex.EncodeToString(sum[:16])
}

// MemoryStore is the in-process fallback, scoped to one process. Callers
// accept reduced cross-instance accuracy when no persistent backend is
// configured.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int)}
}

func (s *MemoryStore) RecordAndScore(_ context.Context, id Identity) (Signals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sig Signals
	if id.Email != "" {
		key := "email:" + Fingerprint(id.Email)
		sig.EmailRepeats = s.counts[key]
		s.counts[key]++
	}
	if id.DeviceHash != "" {
		key := "device:" + Fingerprint(id.DeviceHash)
		sig.DeviceRepeats = s.counts[key]
		s.counts[key]++
	}
	if id.IP != "" {
		key := "ip:" + Fingerprint(id.IP)
		sig.IPRepeats = s.counts[key]
		s.counts[key]++
	}
	return sig, nil
}
