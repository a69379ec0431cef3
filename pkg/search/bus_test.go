package search

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thorium-sh/thorium/pkg/kvindex"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(kvindex.NewFromRedis(rdb, "test"))
}

func TestBusDeliversResultEventToSubscriber(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := newTestBus(t)

	received := make(chan Event, 1)
	sub, err := b.Subscribe(ctx, ResultModified, func(ev Event) { received <- ev })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.PublishResult(ctx, "group-a", "deadbeef"))

	select {
	case ev := <-received:
		assert.Equal(t, ResultModified, ev.Kind)
		assert.Equal(t, "group-a", ev.Group)
		assert.Equal(t, "deadbeef", ev.Key)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestBusKeepsResultAndTagChannelsSeparate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := newTestBus(t)

	tagReceived := make(chan Event, 1)
	sub, err := b.Subscribe(ctx, TagModified, func(ev Event) { tagReceived <- ev })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.PublishResult(ctx, "group-a", "deadbeef"))
	require.NoError(t, b.PublishTag(ctx, "group-a", "deadbeef"))

	select {
	case ev := <-tagReceived:
		assert.Equal(t, TagModified, ev.Kind)
	case <-ctx.Done():
		t.Fatal("timed out waiting for tag event")
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := newTestBus(t)

	received := make(chan Event, 2)
	sub, err := b.Subscribe(ctx, ResultModified, func(ev Event) { received <- ev })
	require.NoError(t, err)

	require.NoError(t, b.PublishResult(ctx, "group-a", "first"))
	select {
	case <-received:
	case <-ctx.Done():
		t.Fatal("timed out waiting for first event")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "Close must be safe to call twice")

	require.NoError(t, b.PublishResult(ctx, "group-a", "second"))
	select {
	case ev := <-received:
		t.Fatalf("unexpected event delivered after Close: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBusRejectsUnknownEventKind(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(t)
	err := b.Publish(ctx, Event{Kind: "bogus"})
	assert.Error(t, err)
}
