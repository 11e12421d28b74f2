package realtime

import (
	"context"

	"codebattle/internal/common/cache"
	"codebattle/pkg/utils/logger"

	"go.uber.org/zap"
)

// RedisBroadcaster rides on the cache layer's pub/sub so events reach
// sessions hosted by other processes.
type RedisBroadcaster struct {
	pubsub cache.PubSubOps
}

// NewRedisBroadcaster wraps a pub/sub capable cache client.
func NewRedisBroadcaster(pubsub cache.PubSubOps) *RedisBroadcaster {
	return &RedisBroadcaster{pubsub: pubsub}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, event *Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	return b.pubsub.Publish(ctx, channel, payload)
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	raw, err := b.pubsub.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	sub := &redisSubscription{
		raw:    raw,
		events: make(chan *Event, 32),
	}
	go sub.pump(channel)
	return sub, nil
}

// Close is a no-op; the underlying cache client is owned by the caller.
func (b *RedisBroadcaster) Close() error {
	return nil
}

type redisSubscription struct {
	raw    cache.Subscription
	events chan *Event
}

func (s *redisSubscription) pump(channel string) {
	defer close(s.events)
	for payload := range s.raw.Messages() {
		event, err := DecodeEvent(payload)
		if err != nil {
			logger.Warn(context.Background(), "dropping undecodable event",
				zap.String("channel", channel), zap.Error(err))
			continue
		}
		s.events <- event
	}
}

func (s *redisSubscription) Events() <-chan *Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	return s.raw.Close()
}

var _ Broadcaster = (*RedisBroadcaster)(nil)
