// Package search implements Thorium's search event bus (C9): a best-effort
// publish/subscribe fan-out that tells interested consumers a result or tag
// changed, without itself indexing or storing anything (spec.md §4.5 — the
// actual searchable state lives in pkg/columnar; this package only notifies).
//
// Grounded on the teacher's pkg/events/manager.go (connection/channel
// bookkeeping) and pkg/events/listener.go (a dedicated receive loop owning
// the one connection that may not be touched concurrently), generalized
// from Postgres LISTEN/NOTIFY to Redis pub/sub channels since kvindex (C1)
// is already the system's Redis connection.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/thorium-sh/thorium/pkg/kvindex"
)

// EventKind distinguishes the two search event families spec.md §4.5 names.
type EventKind string

// Event kinds.
const (
	ResultModified EventKind = "ResultSearchEvent::modified"
	TagModified    EventKind = "TagSearchEvent::modified"
)

// Event is the payload carried over both channels. Key is the sample
// sha256, repo url, or output id the event concerns; Group scopes it to the
// group the item is visible in, matching the scoping every other columnar
// read in this system uses.
type Event struct {
	Kind  EventKind `json:"kind"`
	Group string    `json:"group"`
	Key   string    `json:"key"`
}

// resultChannel and tagChannel are the two pub/sub channels this package
// multiplexes every event onto — one per kind, not one per group, since the
// number of groups is unbounded and subscribers filter client-side.
const (
	resultChannel = "search:results"
	tagChannel    = "search:tags"
)

// Bus publishes and delivers search events over kvindex's Redis connection.
type Bus struct {
	kv  *kvindex.Client
	log *slog.Logger
}

// New constructs a Bus over an already-connected kvindex client.
func New(kv *kvindex.Client) *Bus {
	return &Bus{kv: kv, log: slog.With("component", "search")}
}

func channelFor(kind EventKind) (string, error) {
	switch kind {
	case ResultModified:
		return resultChannel, nil
	case TagModified:
		return tagChannel, nil
	default:
		return "", fmt.Errorf("search: unknown event kind %q", kind)
	}
}

// Publish emits an event to every current subscriber of its channel.
// Delivery is best-effort: a subscriber that isn't listening at publish
// time simply misses it, matching the advisory nature spec.md §4.5 gives
// search events — pkg/columnar remains the durable source of truth a
// client can always fall back to polling.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	channel, err := channelFor(ev.Kind)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("search: encode event: %w", err)
	}
	if err := b.kv.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("search: publish %s: %w", ev.Kind, err)
	}
	return nil
}

// PublishResult is a convenience wrapper for the common case of notifying a
// single group that a result under key changed.
func (b *Bus) PublishResult(ctx context.Context, group, key string) error {
	return b.Publish(ctx, Event{Kind: ResultModified, Group: group, Key: key})
}

// PublishTag is the tag equivalent of PublishResult, used after
// pkg/columnar/tags.go's Create/Delete so that subscribers stay consistent
// with the tag rows and census counters those calls just mutated (spec.md
// §8 testable property "tag delete consistency").
func (b *Bus) PublishTag(ctx context.Context, group, key string) error {
	return b.Publish(ctx, Event{Kind: TagModified, Group: group, Key: key})
}

// Handler receives one delivered Event. It returns nothing and an event is
// never redelivered — subscriptions are at-most-once.
type Handler func(Event)

// Subscription owns one Redis pub/sub connection and a single goroutine
// reading off it, mirroring NotifyListener's rule that exactly one
// goroutine may touch the underlying connection at a time.
type Subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe starts delivering every event of kind to handler until the
// returned Subscription is closed or ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, kind EventKind, handler Handler) (*Subscription, error) {
	channel, err := channelFor(kind)
	if err != nil {
		return nil, err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	ps := b.kv.Subscribe(loopCtx, channel)
	if _, err := ps.Receive(loopCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("search: subscribe %s: %w", kind, err)
	}

	sub := &Subscription{ps: ps, cancel: cancel, done: make(chan struct{})}
	msgs := ps.Channel()
	go func() {
		defer close(sub.done)
		for {
			select {
			case <-loopCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Error("search: decode event", "channel", msg.Channel, "error", err)
					continue
				}
				handler(ev)
			}
		}
	}()
	return sub, nil
}

// Close stops delivery and releases the underlying connection. Safe to call
// more than once.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
		<-s.done
	})
	return err
}
