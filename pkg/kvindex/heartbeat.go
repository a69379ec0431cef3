package kvindex

import (
	"context"
	"time"
)

// Heartbeat is a TTL-backed liveness key: Beat refreshes it and Alive
// reports whether it has not yet expired. No worker or reactor code calls
// it; the reactor judges worker liveness from process trees instead.
type Heartbeat struct {
	c   *Client
	key string
}

// Heartbeat returns the liveness key for a worker name.
func (c *Client) Heartbeat(worker string) *Heartbeat {
	return &Heartbeat{c: c, key: c.key("heartbeat", worker)}
}

// Beat (re)sets the key with the given TTL.
func (h *Heartbeat) Beat(ctx context.Context, ttl time.Duration) error {
	return h.c.rdb.Set(ctx, h.key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Err()
}

// Alive reports whether the heartbeat key is still present.
func (h *Heartbeat) Alive(ctx context.Context) (bool, error) {
	n, err := h.c.rdb.Exists(ctx, h.key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear removes the heartbeat key immediately instead of waiting out the
// TTL.
func (h *Heartbeat) Clear(ctx context.Context) error {
	return h.c.rdb.Del(ctx, h.key).Err()
}
