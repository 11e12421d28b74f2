package service

import (
	"context"
	"testing"
	"time"

	"codebattle/internal/battle/model"
	"codebattle/internal/realtime"
	pkgerrors "codebattle/pkg/errors"
)

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)
	f.seedProblems(5, model.DifficultyEasy)
	ctx := context.Background()

	if _, err := f.requests.CreateRequest(ctx, "alice", "alice", model.DifficultyEasy); !pkgerrors.Is(err, pkgerrors.SelfChallenge) {
		t.Fatalf("self challenge err = %v, want SelfChallenge", err)
	}
	if _, err := f.requests.CreateRequest(ctx, "alice", "bob", "impossible"); err == nil {
		t.Fatal("unknown difficulty must be rejected")
	}

	req, err := f.requests.CreateRequest(ctx, "alice", "bob", model.DifficultyEasy)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.Status != model.RequestPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	if got := req.ExpiresAt.Sub(req.CreatedAt); got != model.RequestTTL {
		t.Fatalf("ttl = %v, want %v", got, model.RequestTTL)
	}

	// A second pending request to the same opponent is refused.
	if _, err := f.requests.CreateRequest(ctx, "alice", "bob", model.DifficultyEasy); !pkgerrors.Is(err, pkgerrors.RequestAlreadyPending) {
		t.Fatalf("duplicate err = %v, want RequestAlreadyPending", err)
	}
}

func TestCreateRequestNotifiesOpponent(t *testing.T) {
	f := newFixture(t)
	f.seedProblems(5, model.DifficultyEasy)
	ctx := context.Background()

	sub, err := f.broadcaster.Subscribe(ctx, realtime.UserChannel("bob"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := f.requests.CreateRequest(ctx, "alice", "bob", model.DifficultyMedium); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	select {
	case event := <-sub.Events():
		if event.Type != realtime.EventBattleRequest {
			t.Fatalf("type = %s, want battle_request", event.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("opponent never notified")
	}
}

func TestRespondAcceptCreatesBattle(t *testing.T) {
	f := newFixture(t)
	f.seedProblems(5, model.DifficultyEasy)
	ctx := context.Background()

	req, err := f.requests.CreateRequest(ctx, "alice", "bob", model.DifficultyEasy)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	// Only the addressed opponent may respond.
	if _, err := f.requests.Respond(ctx, req.ID, "mallory", true); !pkgerrors.Is(err, pkgerrors.NotParticipant) {
		t.Fatalf("outsider respond err = %v, want NotParticipant", err)
	}

	battle, err := f.requests.Respond(ctx, req.ID, "bob", true)
	if err != nil {
		t.Fatalf("Respond accept: %v", err)
	}
	if battle == nil {
		t.Fatal("accept must create a battle")
	}
	if battle.Status != model.BattleWaiting {
		t.Fatalf("battle status = %s, want waiting", battle.Status)
	}
	if len(battle.ProblemIDs) != model.ProblemsPerBattle {
		t.Fatalf("problems = %d, want %d", len(battle.ProblemIDs), model.ProblemsPerBattle)
	}
	participants, _ := f.store.Battles.Participants(ctx, battle.ID)
	if len(participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(participants))
	}

	// Accepting again loses the CAS.
	if _, err := f.requests.Respond(ctx, req.ID, "bob", true); err == nil {
		t.Fatal("double accept must fail")
	}

	// Both fighters are now busy.
	if _, err := f.requests.CreateRequest(ctx, "alice", "carol", model.DifficultyEasy); !pkgerrors.Is(err, pkgerrors.AlreadyInBattle) {
		t.Fatalf("busy challenger err = %v, want AlreadyInBattle", err)
	}
	if _, err := f.requests.CreateRequest(ctx, "carol", "bob", model.DifficultyEasy); !pkgerrors.Is(err, pkgerrors.OpponentInBattle) {
		t.Fatalf("busy opponent err = %v, want OpponentInBattle", err)
	}
}

func TestRespondReject(t *testing.T) {
	f := newFixture(t)
	f.seedProblems(5, model.DifficultyEasy)
	ctx := context.Background()

	req, _ := f.requests.CreateRequest(ctx, "alice", "bob", model.DifficultyEasy)

	sub, err := f.broadcaster.Subscribe(ctx, realtime.UserChannel("alice"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	battle, err := f.requests.Respond(ctx, req.ID, "bob", false)
	if err != nil {
		t.Fatalf("Respond reject: %v", err)
	}
	if battle != nil {
		t.Fatal("reject must not create a battle")
	}

	select {
	case event := <-sub.Events():
		if event.Type != realtime.EventBattleRejected {
			t.Fatalf("type = %s, want battle_rejected", event.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("challenger never notified of rejection")
	}

	got, _ := f.store.Requests.GetByID(ctx, req.ID)
	if got.Status != model.RequestRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
}

func TestRespondExpiredRequest(t *testing.T) {
	f := newFixture(t)
	f.seedProblems(5, model.DifficultyEasy)
	ctx := context.Background()

	req, _ := f.requests.CreateRequest(ctx, "alice", "bob", model.DifficultyEasy)

	// Move the service clock past the TTL.
	f.requests.now = func() time.Time { return time.Now().UTC().Add(model.RequestTTL + time.Minute) }

	if _, err := f.requests.Respond(ctx, req.ID, "bob", true); !pkgerrors.Is(err, pkgerrors.RequestExpired) {
		t.Fatalf("expired respond err = %v, want RequestExpired", err)
	}
	got, _ := f.store.Requests.GetByID(ctx, req.ID)
	if got.Status != model.RequestExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
}

func TestInbox(t *testing.T) {
	f := newFixture(t)
	f.seedProblems(5, model.DifficultyEasy)
	ctx := context.Background()

	_, _ = f.requests.CreateRequest(ctx, "alice", "bob", model.DifficultyEasy)
	_, _ = f.requests.CreateRequest(ctx, "carol", "bob", model.DifficultyHard)

	inbox, err := f.requests.Inbox(ctx, "bob")
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(inbox) != 2 {
		t.Fatalf("inbox size = %d, want 2", len(inbox))
	}
	if inbox, _ := f.requests.Inbox(ctx, "alice"); len(inbox) != 0 {
		t.Fatalf("alice inbox = %d, want 0", len(inbox))
	}
}

func TestSweepFinalizesExpiredActiveBattles(t *testing.T) {
	f := newFixture(t)
	ids := f.seedProblems(2, model.DifficultyEasy)
	battle := f.seedBattle(t, ids)
	ctx := context.Background()

	// Activate with a deadline already in the past.
	started := time.Now().UTC().Add(-model.BattleDuration - time.Minute)
	if ok, err := f.store.Battles.TryActivate(ctx, battle.ID, started, started.Add(model.BattleDuration)); err != nil || !ok {
		t.Fatalf("TryActivate: ok=%v err=%v", ok, err)
	}

	f.requests.Sweep(ctx)

	got, _ := f.store.Battles.GetByID(ctx, battle.ID)
	if got.Status != model.BattleCompleted {
		t.Fatalf("status = %s, want completed by sweep", got.Status)
	}
	if len(f.stats.snapshot()) != 2 {
		t.Fatal("sweep completion must emit stats events")
	}
}

func TestSweepCancelsStaleWaiting(t *testing.T) {
	f := newFixture(t)
	ids := f.seedProblems(2, model.DifficultyEasy)
	battle := f.seedBattle(t, ids)
	ctx := context.Background()

	// Age the battle past the waiting grace via the service clock.
	f.requests.now = func() time.Time {
		return time.Now().UTC().Add(model.StaleWaitingGrace + time.Minute)
	}
	f.requests.Sweep(ctx)

	got, _ := f.store.Battles.GetByID(ctx, battle.ID)
	if got.Status != model.BattleCancelled {
		t.Fatalf("status = %s, want cancelled by sweep", got.Status)
	}
}
