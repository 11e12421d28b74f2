package service

import (
	"context"
	"time"

	"codebattle/internal/battle/model"
	"codebattle/internal/battle/repository"
	"codebattle/internal/problem"
	"codebattle/internal/realtime"
	pkgerrors "codebattle/pkg/errors"
	"codebattle/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestService owns the challenge flow: creating requests, responding
// to them, and sweeping stale state before new work is admitted.
type RequestService struct {
	store       *repository.Store
	problems    problem.Store
	broadcaster realtime.Broadcaster
	coordinator *Coordinator

	now func() time.Time
}

// NewRequestService wires the request flow.
func NewRequestService(store *repository.Store, problems problem.Store, broadcaster realtime.Broadcaster, coordinator *Coordinator) *RequestService {
	return &RequestService{
		store:       store,
		problems:    problems,
		broadcaster: broadcaster,
		coordinator: coordinator,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest issues a challenge from challenger to opponent. The
// staleness sweep runs first so decisions are made against fresh state.
func (s *RequestService) CreateRequest(ctx context.Context, challengerID, opponentID string, difficulty model.Difficulty) (*model.BattleRequest, error) {
	if challengerID == opponentID {
		return nil, pkgerrors.New(pkgerrors.SelfChallenge)
	}
	if !difficulty.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.InvalidParams, "unknown difficulty %q", difficulty)
	}

	s.Sweep(ctx)
	now := s.now()

	pending, err := s.store.Requests.HasPendingBetween(ctx, challengerID, opponentID, now)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, pkgerrors.New(pkgerrors.RequestAlreadyPending)
	}
	if busy, err := s.store.Battles.UserInOpenBattle(ctx, challengerID); err != nil {
		return nil, err
	} else if busy {
		return nil, pkgerrors.New(pkgerrors.AlreadyInBattle)
	}
	if busy, err := s.store.Battles.UserInOpenBattle(ctx, opponentID); err != nil {
		return nil, err
	} else if busy {
		return nil, pkgerrors.New(pkgerrors.OpponentInBattle)
	}

	req := &model.BattleRequest{
		ID:           uuid.NewString(),
		ChallengerID: challengerID,
		OpponentID:   opponentID,
		Difficulty:   difficulty,
		Status:       model.RequestPending,
		ExpiresAt:    now.Add(model.RequestTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.notify(ctx, realtime.UserChannel(opponentID), realtime.EventBattleRequest, realtime.BattleRequestPayload{
		RequestID:    req.ID,
		ChallengerID: challengerID,
		Difficulty:   difficulty,
		ExpiresAt:    req.ExpiresAt.Format(time.RFC3339),
	})
	return req, nil
}

// Respond accepts or rejects a request. Only the addressed opponent may
// respond; the pending -> accepted/rejected transition is a CAS, so a
// double response resolves to exactly one effect.
func (s *RequestService) Respond(ctx context.Context, requestID, userID string, accept bool) (*model.Battle, error) {
	req, err := s.store.Requests.GetByID(ctx, requestID)
	if err != nil {
		if err == repository.ErrRequestNotFound {
			return nil, pkgerrors.New(pkgerrors.RequestNotFound)
		}
		return nil, err
	}
	if req.OpponentID != userID {
		return nil, pkgerrors.New(pkgerrors.NotParticipant)
	}
	if req.Status != model.RequestPending {
		return nil, pkgerrors.New(pkgerrors.RequestNotFound).WithMessage("request is no longer pending")
	}
	if req.Expired(s.now()) {
		_, _ = s.store.Requests.UpdateStatus(ctx, requestID, model.RequestPending, model.RequestExpired)
		return nil, pkgerrors.New(pkgerrors.RequestExpired)
	}

	if !accept {
		changed, err := s.store.Requests.UpdateStatus(ctx, requestID, model.RequestPending, model.RequestRejected)
		if err != nil {
			return nil, err
		}
		if changed {
			s.notify(ctx, realtime.UserChannel(req.ChallengerID), realtime.EventBattleRejected, realtime.BattleRejectedPayload{
				RequestID:  requestID,
				OpponentID: userID,
			})
		}
		return nil, nil
	}

	changed, err := s.store.Requests.UpdateStatus(ctx, requestID, model.RequestPending, model.RequestAccepted)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, pkgerrors.New(pkgerrors.RequestNotFound).WithMessage("request is no longer pending")
	}

	battle, err := s.createBattle(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, pair := range [][2]string{
		{req.ChallengerID, req.OpponentID},
		{req.OpponentID, req.ChallengerID},
	} {
		s.notify(ctx, realtime.UserChannel(pair[0]), realtime.EventBattleStarted, realtime.BattleStartedPayload{
			BattleID:   battle.ID,
			RequestID:  requestID,
			OpponentID: pair[1],
			Difficulty: battle.Difficulty,
		})
	}
	return battle, nil
}

func (s *RequestService) createBattle(ctx context.Context, req *model.BattleRequest) (*model.Battle, error) {
	problemIDs, err := s.problems.PickProblems(ctx, req.Difficulty, model.ProblemsPerBattle)
	if err != nil {
		return nil, err
	}
	now := s.now()
	battle := &model.Battle{
		ID:           uuid.NewString(),
		RequestID:    req.ID,
		ChallengerID: req.ChallengerID,
		OpponentID:   req.OpponentID,
		ProblemIDs:   problemIDs,
		Difficulty:   req.Difficulty,
		Status:       model.BattleWaiting,
		CreatedAt:    now,
	}
	participants := []*model.BattleParticipant{
		{ID: uuid.NewString(), BattleID: battle.ID, UserID: req.ChallengerID, Username: req.ChallengerID, JoinedAt: now},
		{ID: uuid.NewString(), BattleID: battle.ID, UserID: req.OpponentID, Username: req.OpponentID, JoinedAt: now},
	}
	if err := s.store.Battles.CreateWithParticipants(ctx, battle, participants); err != nil {
		return nil, err
	}
	return battle, nil
}

// Inbox lists pending requests addressed to the user.
func (s *RequestService) Inbox(ctx context.Context, userID string) ([]*model.BattleRequest, error) {
	return s.store.Requests.PendingForUser(ctx, userID, s.now())
}

// GetBattle returns a battle snapshot the caller participates in.
func (s *RequestService) GetBattle(ctx context.Context, battleID, userID string) (*realtime.BattleStatePayload, error) {
	snapshot, err := s.coordinator.Snapshot(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if !snapshot.Battle.HasParticipant(userID) {
		return nil, pkgerrors.New(pkgerrors.NotParticipant)
	}
	return snapshot, nil
}

// MyBattles lists the caller's battles, newest first.
func (s *RequestService) MyBattles(ctx context.Context, userID string) ([]*model.Battle, error) {
	return s.store.Battles.ListByUser(ctx, userID)
}

// Sweep clears stale state: expired pending requests, waiting battles
// nobody joined, active battles past their deadline, and active battles
// that never got a deadline. Failures are logged; the sweep is advisory
// and the next caller retries it.
func (s *RequestService) Sweep(ctx context.Context) {
	now := s.now()

	if _, err := s.store.Requests.ExpirePending(ctx, now); err != nil {
		logger.Warn(ctx, "request expiry sweep failed", zap.Error(err))
	}

	if ids, err := s.store.Battles.StaleWaitingIDs(ctx, now.Add(-model.StaleWaitingGrace)); err != nil {
		logger.Warn(ctx, "stale waiting sweep failed", zap.Error(err))
	} else {
		for _, id := range ids {
			if _, err := s.store.Battles.TryCancel(ctx, id, model.BattleWaiting); err != nil {
				logger.Warn(ctx, "cancel stale waiting battle failed",
					zap.String("battle_id", id), zap.Error(err))
			}
		}
	}

	if ids, err := s.store.Battles.ExpiredActiveIDs(ctx, now); err != nil {
		logger.Warn(ctx, "expired active sweep failed", zap.Error(err))
	} else {
		for _, id := range ids {
			if err := s.coordinator.EndBattle(ctx, id, EndReasonTimeout); err != nil {
				logger.Warn(ctx, "complete expired battle failed",
					zap.String("battle_id", id), zap.Error(err))
			}
		}
	}

	if ids, err := s.store.Battles.OrphanedActiveIDs(ctx, now.Add(-model.OrphanedActiveMargin)); err != nil {
		logger.Warn(ctx, "orphaned active sweep failed", zap.Error(err))
	} else {
		for _, id := range ids {
			if _, err := s.store.Battles.TryCancel(ctx, id, model.BattleActive); err != nil {
				logger.Warn(ctx, "cancel orphaned battle failed",
					zap.String("battle_id", id), zap.Error(err))
			}
		}
	}
}

func (s *RequestService) notify(ctx context.Context, channel string, eventType realtime.EventType, payload interface{}) {
	event, err := realtime.NewEvent(eventType, payload)
	if err != nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, channel, event); err != nil {
		logger.Warn(ctx, "user notification failed",
			zap.String("channel", channel), zap.String("event", string(eventType)), zap.Error(err))
	}
}
