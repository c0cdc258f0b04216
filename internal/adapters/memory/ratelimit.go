package memory

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

// RateLimiter is a single-node sliding-window limiter, used when the
// service runs without Redis.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string][]int64
	nowFn   func() time.Time
}

func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &RateLimiter{
		limits:  limits,
		buckets: map[string][]int64{},
		nowFn:   time.Now,
	}
}

func (l *RateLimiter) get(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return Limit{Limit: 100, Window: time.Minute}
}

func (l *RateLimiter) Allow(_ context.Context, bucket, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("bucket and key required")
	}

	lim := l.get(bucket)
	nowMs := l.nowFn().UnixMilli()
	windowStart := nowMs - lim.Window.Milliseconds()
	limitKey := key + ":" + bucket

	l.mu.Lock()
	defer l.mu.Unlock()

	// Timestamps are appended in order, so expired ones form a prefix.
	ts := l.buckets[limitKey]
	prune := 0
	for prune < len(ts) && ts[prune] <= windowStart {
		prune++
	}
	ts = ts[prune:]

	if len(ts) >= lim.Limit {
		l.buckets[limitKey] = ts
		return false, nil
	}
	l.buckets[limitKey] = append(ts, nowMs)
	return true, nil
}
