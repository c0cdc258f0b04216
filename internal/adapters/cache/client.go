package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "license"

// Connect parses a redis:// URL and pings the server before returning.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Default().InfoContext(ctx, "redis connect completed",
		"module", "cache",
		"layer", "adapter",
		"operation", "connect",
		"outcome", "success",
		"addr", opts.Addr,
	)
	return client, nil
}

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) guard(id string) string   { return k.prefix + ":guard:" + id }
func (k keyspace) license(id string) string { return k.prefix + ":record:" + id }
func (k keyspace) outboxQueue() string      { return k.prefix + ":outbox" }
func (k keyspace) outboxRecord(id string) string {
	return k.prefix + ":outbox:record:" + id
}
