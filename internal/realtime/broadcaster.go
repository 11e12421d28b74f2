package realtime

import "context"

// Broadcaster fans events out to every subscriber of a channel.
// Delivery is at-most-once and fire-and-forget; a client that needs
// certainty re-fetches a snapshot on reconnect.
type Broadcaster interface {
	// Publish sends the event to current subscribers of the channel.
	Publish(ctx context.Context, channel string, event *Event) error

	// Subscribe opens a subscription. The caller must Close it.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close tears down the broadcaster and all open subscriptions.
	Close() error
}

// Subscription is one open channel subscription.
type Subscription interface {
	// Events streams decoded events. Closed when the subscription ends.
	Events() <-chan *Event

	// Close ends the subscription.
	Close() error
}
