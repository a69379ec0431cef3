package kvindex

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream is a non-destructively-read Redis sorted set, used for the
// per-scaler global deadline stream (spec.md §4.1 create (b)) and the
// global running stream jobs move to on claim (ordered by claim time).
// Unlike DeadlineQueue, Stream never pops: callers range over a score
// window and the member stays until explicitly removed.
type Stream struct {
	c   *Client
	key string
}

// Stream returns the named stream, namespaced under kind plus any
// additional key parts (e.g. the scaler kind).
func (c *Client) Stream(kind string, parts ...string) *Stream {
	return &Stream{c: c, key: c.key(append([]string{kind}, parts...)...)}
}

// Add inserts or reschedules a member at the given score (a timestamp).
func (s *Stream) Add(ctx context.Context, member string, at time.Time) error {
	return s.c.rdb.ZAdd(ctx, s.key, redis.Z{Score: float64(at.UnixNano()), Member: member}).Err()
}

// Remove drops a member outright.
func (s *Stream) Remove(ctx context.Context, member string) error {
	return s.c.rdb.ZRem(ctx, s.key, member).Err()
}

// Range returns members whose score falls within [start, end], ascending,
// bounded by limit. spec.md §4.1: "page-consistency is not guaranteed
// under concurrent claim" — this is a plain, non-locking range read.
func (s *Stream) Range(ctx context.Context, start, end time.Time, limit int64) ([]string, error) {
	res, err := s.c.rdb.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   formatScore(start),
		Max:   formatScore(end),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Member pairs a stream entry with the timestamp it was scored under.
type Member struct {
	Value string
	At    time.Time
}

// RangeWithScores is Range but also returns each member's score decoded
// back to a time.Time, used by the deadlines() API to report a job's
// queued deadline alongside its id.
func (s *Stream) RangeWithScores(ctx context.Context, start, end time.Time, limit int64) ([]Member, error) {
	res, err := s.c.rdb.ZRangeByScoreWithScores(ctx, s.key, &redis.ZRangeBy{
		Min:   formatScore(start),
		Max:   formatScore(end),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(res))
	for _, z := range res {
		if v, ok := z.Member.(string); ok {
			out = append(out, Member{Value: v, At: time.Unix(0, int64(z.Score))})
		}
	}
	return out, nil
}

func formatScore(t time.Time) string {
	if t.IsZero() {
		return "-inf"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

// Len reports the stream's current size.
func (s *Stream) Len(ctx context.Context) (int64, error) {
	return s.c.rdb.ZCard(ctx, s.key).Result()
}
