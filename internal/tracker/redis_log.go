package tracker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ucp-labs/pipetrack/internal/pipeline"
)

const (
	eventsKeyPrefix = "pipetrack:events:"
	sessionIndexKey = "pipetrack:sessions"
)

// RedisLog persists the event log as one Redis list per session. RPUSH is
// atomic per key, which gives the per-session linearizable append the log
// contract requires without client-side locking.
type RedisLog struct {
	rdb *redis.Client
}

// NewRedisLog wraps an existing client.
func NewRedisLog(rdb *redis.Client) *RedisLog {
	return &RedisLog{rdb: rdb}
}

func (l *RedisLog) Append(ctx context.Context, ev pipeline.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}

	pipe := l.rdb.TxPipeline()
	pipe.RPush(ctx, eventsKeyPrefix+ev.SessionID, payload)
	pipe.SAdd(ctx, sessionIndexKey, ev.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Append: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (l *RedisLog) List(ctx context.Context, sessionID string) ([]pipeline.Event, error) {
	raw, err := l.rdb.LRange(ctx, eventsKeyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("List: %w: %w", ErrUnavailable, err)
	}

	events := make([]pipeline.Event, 0, len(raw))
	for _, item := range raw {
		var ev pipeline.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (l *RedisLog) SessionIDs(ctx context.Context) ([]string, error) {
	ids, err := l.rdb.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("SessionIDs: %w: %w", ErrUnavailable, err)
	}
	return ids, nil
}
