package memorystore

import (
	"context"
	"sync"
	"time"
)

// EventCache is an in-memory seen-event cache with TTL, for deployments
// without Redis and for tests.
// Starts a background goroutine to clean up expired entries every minute.
type EventCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	data   map[string]time.Time
	closed chan struct{}
}

// NewEventCache creates the cache. If ttl <= 0, a default of 48 hours
// is used. Call Close when done to stop the cleanup goroutine.
func NewEventCache(ttl time.Duration) *EventCache {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	c := &EventCache{ttl: ttl, data: make(map[string]time.Time), closed: make(chan struct{})}
	go c.cleanupLoop()
	return c
}

func (c *EventCache) Seen(ctx context.Context, eventID string) (bool, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.data[eventID]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(c.data, eventID)
		return false, nil
	}
	return true, nil
}

func (c *EventCache) MarkSeen(ctx context.Context, eventID string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[eventID] = time.Now().Add(c.ttl)
	return nil
}

func (c *EventCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.closed:
			return
		}
	}
}

func (c *EventCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, exp := range c.data {
		if now.After(exp) {
			delete(c.data, k)
		}
	}
}

// Close stops the background cleanup goroutine.
func (c *EventCache) Close() error {
	close(c.closed)
	return nil
}
