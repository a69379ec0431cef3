package kvindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Claim when no member's score has elapsed.
var ErrEmpty = errors.New("kvindex: no claimable member")

// DeadlineQueue is a Redis sorted set used as a claim queue: members are
// job ids, scored by their deadline as a unix-nanosecond float. Claim pops
// the earliest-deadline member atomically, so two callers racing on the
// same queue never receive the same job. Ties are broken by Redis's own
// lexicographic ordering of equal-score members, which is sufficient for
// the total order the job-claim contract requires.
type DeadlineQueue struct {
	c   *Client
	key string
}

// DeadlineQueue returns the claim queue for a given (group, pipeline,
// stage) bucket. Buckets are split per stage so a claim for one stage pops
// only that stage's jobs; the scaler pages the per-scaler-kind "deadlines"
// Stream instead.
func (c *Client) DeadlineQueue(group, pipeline, stage string) *DeadlineQueue {
	return &DeadlineQueue{c: c, key: c.key("deadlines", group, pipeline, stage)}
}

// Push adds or reschedules a member at the given deadline.
func (q *DeadlineQueue) Push(ctx context.Context, member string, deadline time.Time) error {
	return q.c.rdb.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(deadline.UnixNano()),
		Member: member,
	}).Err()
}

// Remove drops a member from the queue outright, used when a job is
// errored or completed before its deadline elapses.
func (q *DeadlineQueue) Remove(ctx context.Context, member string) error {
	return q.c.rdb.ZRem(ctx, q.key, member).Err()
}

// Claim pops the single earliest-deadline member whose deadline is <= now.
// It returns ErrEmpty if the queue is empty or every remaining member's
// deadline is still in the future. The pop is atomic: ZPOPMIN removes and
// returns in one round trip, so the popped member belongs to exactly one
// caller.
func (q *DeadlineQueue) Claim(ctx context.Context, now time.Time) (string, error) {
	res, err := q.c.rdb.ZPopMin(ctx, q.key, 1).Result()
	if err != nil {
		return "", fmt.Errorf("kvindex: claim from %s: %w", q.key, err)
	}
	if len(res) == 0 {
		return "", ErrEmpty
	}
	z := res[0]
	if int64(z.Score) > now.UnixNano() {
		// Not yet due: put it back and report empty rather than busy-loop
		// stealing a member nobody else can claim yet either.
		if pushErr := q.c.rdb.ZAdd(ctx, q.key, z).Err(); pushErr != nil {
			return "", fmt.Errorf("kvindex: restoring unclaimed member: %w", pushErr)
		}
		return "", ErrEmpty
	}
	member, _ := z.Member.(string)
	return member, nil
}

// Peek reports the n earliest-deadline members without removing them.
func (q *DeadlineQueue) Peek(ctx context.Context, n int64) ([]string, error) {
	res, err := q.c.rdb.ZRangeWithScores(ctx, q.key, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res))
	for _, z := range res {
		if s, ok := z.Member.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Len reports the current queue size.
func (q *DeadlineQueue) Len(ctx context.Context) (int64, error) {
	return q.c.rdb.ZCard(ctx, q.key).Result()
}

// Requeue restores a previously claimed member, used by the engine to
// compensate when the durable columnar update that should follow a claim
// fails — the member goes back in front of the queue at its original
// deadline so no job is silently lost to a partial failure.
func (q *DeadlineQueue) Requeue(ctx context.Context, member string, deadline time.Time) error {
	return q.Push(ctx, member, deadline)
}
