package realtime

import (
	"context"
	"errors"
	"sync"
)

// MemoryBroadcaster is a single-process Broadcaster for tests and local
// development. Slow subscribers drop events rather than block publishers.
type MemoryBroadcaster struct {
	mu       sync.Mutex
	channels map[string]map[*memorySubscription]struct{}
	closed   bool
}

// NewMemoryBroadcaster creates an empty in-memory broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{
		channels: make(map[string]map[*memorySubscription]struct{}),
	}
}

func (b *MemoryBroadcaster) Publish(ctx context.Context, channel string, event *Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("broadcaster closed")
	}
	for sub := range b.channels[channel] {
		select {
		case sub.events <- event:
		default:
		}
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("broadcaster closed")
	}
	sub := &memorySubscription{
		parent:  b,
		channel: channel,
		events:  make(chan *Event, 32),
	}
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[*memorySubscription]struct{})
	}
	b.channels[channel][sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.channels {
		for sub := range subs {
			close(sub.events)
		}
	}
	b.channels = make(map[string]map[*memorySubscription]struct{})
	return nil
}

type memorySubscription struct {
	parent  *MemoryBroadcaster
	channel string
	events  chan *Event
	once    sync.Once
}

func (s *memorySubscription) Events() <-chan *Event {
	return s.events
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.parent.mu.Lock()
		defer s.parent.mu.Unlock()
		if s.parent.closed {
			return
		}
		if subs, ok := s.parent.channels[s.channel]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.parent.channels, s.channel)
			}
		}
		close(s.events)
	})
	return nil
}

var _ Broadcaster = (*MemoryBroadcaster)(nil)
