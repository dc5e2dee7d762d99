package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces processed-webhook markers in the shared keyspace.
const keyPrefix = "pipetrack:webhooks:processed:"

// RedisStore is the persistent backend. SET NX gives the atomic
// check-and-set required to dedupe concurrent deliveries cluster-wide.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps an existing client. ttl bounds how long processed
// markers are retained; zero keeps them forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("HasProcessed: %w: %w", ErrUnavailable, err)
	}
	return n > 0, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, eventID string) error {
	// NX keeps the first-processed timestamp on duplicate marks.
	err := s.rdb.SetNX(ctx, keyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
	if err != nil {
		return fmt.Errorf("MarkProcessed: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	set, err := s.rdb.SetNX(ctx, keyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("CheckAndMark: %w: %w", ErrUnavailable, err)
	}
	return !set, nil
}
