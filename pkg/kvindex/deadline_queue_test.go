package kvindex

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromRedis(rdb, "test")
}

func TestDeadlineQueueClaimOrdersByDeadline(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	q := c.DeadlineQueue("g", "p", "s1")

	base := time.Unix(1700000000, 0).UTC()
	require.NoError(t, q.Push(ctx, "job-b", base.Add(2*time.Second)))
	require.NoError(t, q.Push(ctx, "job-a", base.Add(1*time.Second)))

	claimed, err := q.Claim(ctx, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "job-a", claimed)

	claimed, err = q.Claim(ctx, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "job-b", claimed)

	_, err = q.Claim(ctx, base.Add(10*time.Second))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDeadlineQueueClaimRespectsFutureDeadline(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	q := c.DeadlineQueue("g", "p", "s1")

	base := time.Unix(1700000000, 0).UTC()
	require.NoError(t, q.Push(ctx, "job-a", base.Add(time.Hour)))

	_, err := q.Claim(ctx, base)
	assert.ErrorIs(t, err, ErrEmpty)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "unclaimed member must be restored to the queue")
}

func TestDeadlineQueueRemove(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	q := c.DeadlineQueue("g", "p", "s1")

	base := time.Unix(1700000000, 0).UTC()
	require.NoError(t, q.Push(ctx, "job-a", base))
	require.NoError(t, q.Remove(ctx, "job-a"))

	_, err := q.Claim(ctx, base.Add(time.Minute))
	assert.ErrorIs(t, err, ErrEmpty)
}
