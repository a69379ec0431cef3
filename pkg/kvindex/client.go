// Package kvindex implements Thorium's key-value index (C1): partitioned
// sets, hashes, sorted streams, and counters backed by Redis. It is the only
// durable ordering primitive in the system — the deadline and running
// streams the reaction/job engine claims against live here. Tag census
// counts are not kept here; pkg/columnar stores them in census_counts.
package kvindex

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection with the key-namespacing Thorium's stores
// rely on. All keys are prefixed so the KV index can share a Redis instance
// with other tenants without collision.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New creates a Client from a Config, pinging the server to fail fast on
// misconfiguration.
func New(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kvindex: failed to ping redis at %s: %w", cfg.Addr, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "thorium"
	}
	return &Client{rdb: rdb, prefix: prefix}, nil
}

// NewFromRedis wraps an existing *redis.Client, used by tests to point at a
// miniredis instance.
func NewFromRedis(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "thorium"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// key namespaces a logical key under the configured prefix.
func (c *Client) key(parts ...string) string {
	out := c.prefix
	for _, p := range parts {
		out += ":" + p
	}
	return out
}

// Ping exposes a liveness check for health endpoints.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
