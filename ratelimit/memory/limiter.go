package memorylimiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter is an in-memory sliding-window rate limiter. Single-node
// fallback for deployments without Redis.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string][]int64 // request times in Unix ms, newest last
}

func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Limiter{limits: limits, buckets: make(map[string][]int64)}
}

func (l *Limiter) limit(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return Limit{Limit: 100, Window: time.Minute}
}

// Allow records one attempt for key in bucket, pruning entries outside
// the window and dropping empty buckets to bound memory.
func (l *Limiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	_ = ctx
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("ratelimit: bucket and key required")
	}
	lim := l.limit(bucket)
	nowMs := time.Now().UnixMilli()
	windowStart := nowMs - lim.Window.Milliseconds()
	limitKey := bucket + ":" + key

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.buckets[limitKey]
	prune := 0
	for prune < len(ts) && ts[prune] < windowStart {
		prune++
	}
	ts = ts[prune:]

	if len(ts) >= lim.Limit {
		// Deny without recording this attempt.
		if len(ts) == 0 {
			delete(l.buckets, limitKey)
		} else {
			l.buckets[limitKey] = ts
		}
		return false, nil
	}

	l.buckets[limitKey] = append(ts, nowMs)
	return true, nil
}
