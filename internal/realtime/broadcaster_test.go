package realtime

import (
	"context"
	"testing"
	"time"

	"codebattle/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func waitEvent(t *testing.T, sub Subscription) *Event {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestMemoryBroadcasterFanOut(t *testing.T) {
	b := NewMemoryBroadcaster()
	defer b.Close()
	ctx := context.Background()

	sub1, err := b.Subscribe(ctx, BattleChannel("b1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub2, err := b.Subscribe(ctx, BattleChannel("b1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	other, err := b.Subscribe(ctx, BattleChannel("b2"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	event, err := NewEvent(EventTimerTick, TimerTickPayload{BattleID: "b1", RemainingSeconds: 90})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := b.Publish(ctx, BattleChannel("b1"), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, sub := range []Subscription{sub1, sub2} {
		got := waitEvent(t, sub)
		if got.Type != EventTimerTick {
			t.Fatalf("type = %s, want timer_tick", got.Type)
		}
	}
	select {
	case event := <-other.Events():
		t.Fatalf("unrelated channel received %v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBroadcasterCloseUnsubscribes(t *testing.T) {
	b := NewMemoryBroadcaster()
	defer b.Close()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "ch")
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("events channel should be closed after Close")
	}
	// Publishing after close must not panic or deliver.
	event, _ := NewEvent(EventPong, nil)
	if err := b.Publish(ctx, "ch", event); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
}

func TestRedisBroadcasterRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("NewRedisCacheWithClient: %v", err)
	}
	defer redisCache.Close()

	b := NewRedisBroadcaster(redisCache)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, UserChannel("u1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	event, err := NewEvent(EventBattleRequest, BattleRequestPayload{
		RequestID:    "r1",
		ChallengerID: "alice",
		Difficulty:   "easy",
	})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := b.Publish(ctx, UserChannel("u1"), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := waitEvent(t, sub)
	if got.Type != EventBattleRequest {
		t.Fatalf("type = %s, want battle_request", got.Type)
	}
	if len(got.Payload) == 0 {
		t.Fatal("payload lost in transit")
	}
}
