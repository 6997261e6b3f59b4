// Package cache holds short-lived state in Redis: login sessions, plus the
// client the round event stream is published through.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the Redis connection shared by the session store and the round
// event stream. Sessions live under their own key prefix; the stream keys
// belong to the events package.
type Cache struct {
	client *redis.Client
}

// New dials REDIS_URL and pings it, so startup fails fast when sessions
// would be unavailable.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	// Sized for session lookups on every authenticated request plus one
	// stream reader and the async publisher.
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Ping reports whether Redis answers; /readyz uses it.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool after the event consumer has stopped.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the connection to the round event publisher, the stream
// consumer and the winner feed.
func (c *Cache) Client() *redis.Client {
	return c.client
}
