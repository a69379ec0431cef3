package kvindex

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Channel namespaces a pub/sub channel name under the configured prefix, so
// Publish/Subscribe share the same collision-avoidance scheme as every other
// key this package manages.
func (c *Client) Channel(parts ...string) string {
	return c.key(parts...)
}

// Publish sends payload to every current subscriber of channel. Redis
// pub/sub is fire-and-forget: a payload published with no subscriber
// listening is simply dropped, which is why search events are advisory
// (spec.md §4.5) rather than a durable queue — kvindex's Stream types are
// the durable primitive when loss is unacceptable.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, c.Channel(channel), payload).Err()
}

// Subscribe returns a *redis.PubSub subscribed to channel, namespaced the
// same way Publish namespaces its target. Callers read off Subscription.Channel()
// and must Close it when done.
func (c *Client) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, c.Channel(channel))
}
