package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limit defines the window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// RateLimiter is a sliding window limiter over one ZSET per bucket and key.
// Members are scored by arrival time in milliseconds.
type RateLimiter struct {
	client *redis.Client
	keys   keyspace
	limits map[string]Limit
	nowFn  func() time.Time
}

func NewRateLimiter(client *redis.Client, keyPrefix string, limits map[string]Limit) *RateLimiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &RateLimiter{
		client: client,
		keys:   newKeyspace(keyPrefix),
		limits: limits,
		nowFn:  time.Now,
	}
}

func (l *RateLimiter) limitFor(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return Limit{Limit: 100, Window: time.Minute}
}

func (l *RateLimiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("bucket and key required")
	}
	lim := l.limitFor(bucket)
	now := l.nowFn().UnixMilli()
	start := now - lim.Window.Milliseconds()
	limitKey := fmt.Sprintf("%s:ratelimit:%s:%s", l.keys.prefix, bucket, key)
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, limitKey, redis.Z{Score: float64(now), Member: member})
	pipe.ZRemRangeByScore(ctx, limitKey, "0", strconv.FormatInt(start, 10))
	countCmd := pipe.ZCard(ctx, limitKey)
	pipe.Expire(ctx, limitKey, lim.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}
	if count > int64(lim.Limit) {
		// Denied requests do not consume the window.
		l.client.ZRem(ctx, limitKey, member)
		return false, nil
	}
	return true, nil
}
