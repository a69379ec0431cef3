package kvindex

import "context"

// Counter wraps a Redis string used as an atomic integer.
type Counter struct {
	c   *Client
	key string
}

// Counter returns the named counter.
func (c *Client) Counter(kind string, parts ...string) *Counter {
	return &Counter{c: c, key: c.key(append([]string{kind}, parts...)...)}
}

// Incr atomically increments the counter by delta and returns the new
// value.
func (ctr *Counter) Incr(ctx context.Context, delta int64) (int64, error) {
	return ctr.c.rdb.IncrBy(ctx, ctr.key, delta).Result()
}

// Value returns the current counter value, or 0 if unset.
func (ctr *Counter) Value(ctx context.Context) (int64, error) {
	v, err := ctr.c.rdb.Get(ctx, ctr.key).Int64()
	if err != nil {
		if err.Error() == "redis: nil" {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

// Reset zeroes the counter.
func (ctr *Counter) Reset(ctx context.Context) error {
	return ctr.c.rdb.Set(ctx, ctr.key, 0, 0).Err()
}
