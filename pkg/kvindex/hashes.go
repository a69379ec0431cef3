package kvindex

import "context"

// Hash wraps a Redis hash used for small structured records, such as the
// per-worker status record the engine writes on claim.
type Hash struct {
	c   *Client
	key string
}

// Hash returns the named hash.
func (c *Client) Hash(kind string, parts ...string) *Hash {
	return &Hash{c: c, key: c.key(append([]string{kind}, parts...)...)}
}

// Set writes one or more fields.
func (h *Hash) Set(ctx context.Context, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	vals := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		vals[k] = v
	}
	return h.c.rdb.HSet(ctx, h.key, vals).Err()
}

// Get reads all fields of the hash.
func (h *Hash) Get(ctx context.Context) (map[string]string, error) {
	return h.c.rdb.HGetAll(ctx, h.key).Result()
}

// GetField reads a single field.
func (h *Hash) GetField(ctx context.Context, field string) (string, error) {
	return h.c.rdb.HGet(ctx, h.key, field).Result()
}

// Delete removes the whole hash.
func (h *Hash) Delete(ctx context.Context) error {
	return h.c.rdb.Del(ctx, h.key).Err()
}

// DeleteField removes a single field.
func (h *Hash) DeleteField(ctx context.Context, field string) error {
	return h.c.rdb.HDel(ctx, h.key, field).Err()
}
