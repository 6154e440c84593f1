package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventCache remembers recently applied payment event ids so webhook
// replays can be acknowledged without touching the claims store. It is
// a fast path only; the record watermark stays authoritative.
type EventCache struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
}

func NewEventCache(rdb *redis.Client, keyPrefix string, ttl time.Duration) *EventCache {
	if keyPrefix == "" {
		keyPrefix = "pay:webhook:event:"
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &EventCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (c *EventCache) key(eventID string) string { return c.keyNS + eventID }

// Seen reports whether the event id was marked within the TTL window.
func (c *EventCache) Seen(ctx context.Context, eventID string) (bool, error) {
	err := c.rdb.Get(ctx, c.key(eventID)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkSeen records the event id with the cache TTL.
func (c *EventCache) MarkSeen(ctx context.Context, eventID string) error {
	return c.rdb.Set(ctx, c.key(eventID), 1, c.ttl).Err()
}
