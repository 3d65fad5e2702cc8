package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// FeedEvent is one raw change-feed delivery before envelope decoding.
type FeedEvent struct {
	Channel string
	Payload []byte
}

// Feed is the broadcast-and-subscribe primitive behind the dispatcher and
// the presence tracker. Delivery is best-effort: events published while a
// subscriber is disconnected are not replayed, and callers reconcile gaps by
// refetching history.
type Feed interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (FeedSubscription, error)
}

type FeedSubscription interface {
	Events() <-chan FeedEvent
	Close() error
}

// RedisFeed implements Feed over Redis pub/sub. The go-redis PubSub
// reconnects on transport drops by itself; missed events during the gap are
// simply lost, matching the Feed contract.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func (f *RedisFeed) Publish(ctx context.Context, channel string, payload []byte) error {
	return f.client.Publish(ctx, channel, payload).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, channels ...string) (FeedSubscription, error) {
	pubsub := f.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisFeedSubscription{
		pubsub: pubsub,
		events: make(chan FeedEvent, 64),
	}
	go sub.pump()
	return sub, nil
}

type redisFeedSubscription struct {
	pubsub *redis.PubSub
	events chan FeedEvent
}

func (s *redisFeedSubscription) pump() {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		s.events <- FeedEvent{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisFeedSubscription) Events() <-chan FeedEvent {
	return s.events
}

func (s *redisFeedSubscription) Close() error {
	return s.pubsub.Close()
}
