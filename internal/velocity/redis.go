package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces velocity counters in the shared keyspace.
const keyPrefix = "pipetrack:velocity:"

// RedisStore backs velocity counters with Redis so concurrent assessments
// across instances see prior history. INCR returns the post-increment
// count; prior sightings = count - 1.
type RedisStore struct {
	rdb    *redis.Client
	window time.Duration
}

// NewRedisStore wraps an existing client. window bounds the counter
// lifetime; zero keeps counters forever.
func NewRedisStore(rdb *redis.Client, window time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, window: window}
}

func (s *RedisStore) RecordAndScore(ctx context.Context, id Identity) (Signals, error) {
	pipe := s.rdb.Pipeline()

	var emailCmd, deviceCmd, ipCmd *redis.IntCmd
	if id.Email != "" {
		emailCmd = s.incr(ctx, pipe, "email:"+Fingerprint(id.Email))
	}
	if id.DeviceHash != "" {
		deviceCmd = s.incr(ctx, pipe, "device:"+Fingerprint(id.DeviceHash))
	}
	if id.IP != "" {
		ipCmd = s.incr(ctx, pipe, "ip:"+Fingerprint(id.IP))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return Signals{}, fmt.Errorf("RecordAndScore: %w: %w", ErrUnavailable, err)
	}

	var sig Signals
	if emailCmd != nil {
		sig.EmailRepeats = int(emailCmd.Val()) - 1
	}
	if deviceCmd != nil {
		sig.DeviceRepeats = int(deviceCmd.Val()) - 1
	}
	if ipCmd != nil {
		sig.IPRepeats = int(ipCmd.Val()) - 1
	}
	return sig, nil
}

func (s *RedisStore) incr(ctx context.Context, pipe redis.Pipeliner, key string) *redis.IntCmd {
	cmd := pipe.Incr(ctx, keyPrefix+key)
	if s.window > 0 {
		pipe.Expire(ctx, keyPrefix+key, s.window)
	}
	return cmd
}
