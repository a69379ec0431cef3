package kvindex

import "context"

// Set wraps a Redis set used for membership indexes, such as the
// per-worker running-jobs set the engine maintains on claim, proceed,
// error and reset.
type Set struct {
	c   *Client
	key string
}

// Set returns the named set, namespaced under the given kind (e.g.
// "group-members", "running-jobs").
func (c *Client) Set(kind string, parts ...string) *Set {
	return &Set{c: c, key: c.key(append([]string{kind}, parts...)...)}
}

// Add inserts one or more members.
func (s *Set) Add(ctx context.Context, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return s.c.rdb.SAdd(ctx, s.key, vals...).Err()
}

// Remove drops one or more members.
func (s *Set) Remove(ctx context.Context, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return s.c.rdb.SRem(ctx, s.key, vals...).Err()
}

// Members returns every member currently in the set.
func (s *Set) Members(ctx context.Context) ([]string, error) {
	return s.c.rdb.SMembers(ctx, s.key).Result()
}

// IsMember reports whether a given value is in the set.
func (s *Set) IsMember(ctx context.Context, member string) (bool, error) {
	return s.c.rdb.SIsMember(ctx, s.key, member).Result()
}

// Card reports the set's cardinality without pulling every member across
// the wire.
func (s *Set) Card(ctx context.Context) (int64, error) {
	return s.c.rdb.SCard(ctx, s.key).Result()
}
