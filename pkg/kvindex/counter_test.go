package kvindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterIncrAndReset(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	ctr := c.Counter("census", "g", "os", "linux")

	v, err := ctr.Incr(ctx, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)

	v, err = ctr.Incr(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)

	require.NoError(t, ctr.Reset(ctx))
	v, err = ctr.Value(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v)
}

func TestCounterValueDefaultsToZero(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	ctr := c.Counter("census", "g", "os", "unseen")

	v, err := ctr.Value(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v)
}

func TestSetMembership(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	s := c.Set("running-jobs", "g", "p", "s1")

	require.NoError(t, s.Add(ctx, "job-a", "job-b"))
	card, err := s.Card(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, card)

	ok, err := s.IsMember(ctx, "job-a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Remove(ctx, "job-a"))
	ok, err = s.IsMember(ctx, "job-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashSetAndGet(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	h := c.Hash("worker", "w1")

	require.NoError(t, h.Set(ctx, map[string]string{"status": "Running", "node": "n1"}))
	fields, err := h.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Running", fields["status"])
	assert.Equal(t, "n1", fields["node"])

	require.NoError(t, h.DeleteField(ctx, "node"))
	fields, err = h.Get(ctx)
	require.NoError(t, err)
	_, ok := fields["node"]
	assert.False(t, ok)
}
