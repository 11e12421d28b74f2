package cache

import (
	"context"
	"time"
)

// Cache defines the unified interface for cache operations.
// This abstraction allows switching between different cache implementations
// (Redis, local memory) without changing business logic.
type Cache interface {
	BasicOps
	PubSubOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key.
	// Returns an empty string when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist (atomic operation)
	// Returns true if the key was set, false if it already existed
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists checks if one or more keys exist
	// Returns the number of keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr increments the integer value of a key by 1
	Incr(ctx context.Context, key string) (int64, error)
}

// PubSubOps defines publish/subscribe fan-out. Battle and user event
// channels ride on this so events reach sessions in other processes.
type PubSubOps interface {
	// Publish sends a payload to every current subscriber of the channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a subscription to a single channel.
	// The caller owns the returned Subscription and must Close it.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is an open pub/sub subscription to one channel.
type Subscription interface {
	// Messages returns the stream of payloads published to the channel.
	// It is closed after Close is called or the connection drops.
	Messages() <-chan []byte

	// Close tears down the subscription.
	Close() error
}
