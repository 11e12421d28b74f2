package service

import (
	"context"
	"sort"
	"time"

	"codebattle/internal/battle/model"
	"codebattle/internal/battle/repository"
	"codebattle/internal/realtime"
	"codebattle/internal/stats"
	pkgerrors "codebattle/pkg/errors"
	"codebattle/pkg/utils/logger"

	"go.uber.org/zap"
)

// End reasons carried in the battle_ended broadcast.
const (
	EndReasonTimeout   = "timeout"
	EndReasonAllSolved = "all_solved"
	EndReasonRequested = "request_end"
)

// Coordinator drives a battle's lifecycle. All cross-session decisions
// funnel through the store's conditional updates: the caller whose
// update changes a row owns the matching side effects, everyone else
// takes the no-op branch.
type Coordinator struct {
	store       *repository.Store
	broadcaster realtime.Broadcaster
	stats       stats.Publisher

	tick time.Duration
	now  func() time.Time
}

// NewCoordinator wires a coordinator. statsPublisher may be a NopPublisher.
func NewCoordinator(store *repository.Store, broadcaster realtime.Broadcaster, statsPublisher stats.Publisher) *Coordinator {
	if statsPublisher == nil {
		statsPublisher = stats.NopPublisher{}
	}
	return &Coordinator{
		store:       store,
		broadcaster: broadcaster,
		stats:       statsPublisher,
		tick:        model.TimerTickInterval,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ConnectResult is what a session learns from joining a battle.
type ConnectResult struct {
	// Snapshot is the personal battle_state for the connecting user.
	Snapshot *realtime.BattleStatePayload

	// Activated is true only for the one session whose connect flipped
	// the battle to active. That session owns the countdown.
	Activated bool
}

// Connect marks the participant connected and, when both fighters are
// present, races to activate the battle. Exactly one caller observes
// Activated; it must start RunCountdown and broadcast the activation
// snapshot (Connect already does the broadcast). The username comes
// from the session handshake; participant rows are seeded with the
// user id until the first connect supplies the display name.
func (c *Coordinator) Connect(ctx context.Context, battleID, userID, username string) (*ConnectResult, error) {
	battle, err := c.store.Battles.GetByID(ctx, battleID)
	if err != nil {
		if err == repository.ErrBattleNotFound {
			return nil, pkgerrors.New(pkgerrors.BattleNotFound)
		}
		return nil, err
	}
	if !battle.HasParticipant(userID) {
		return nil, pkgerrors.New(pkgerrors.NotParticipant)
	}

	if username != "" && username != userID {
		if err := c.store.Battles.SetUsername(ctx, battleID, userID, username); err != nil {
			logger.Warn(ctx, "record username failed",
				zap.String("battle_id", battleID), zap.String("user_id", userID), zap.Error(err))
		}
	}

	if err := c.store.Battles.SetConnected(ctx, battleID, userID, true); err != nil {
		return nil, err
	}

	activated := false
	if battle.Status == model.BattleWaiting {
		both, err := c.store.Battles.BothConnected(ctx, battleID)
		if err != nil {
			return nil, err
		}
		if both {
			startedAt := c.now()
			activated, err = c.store.Battles.TryActivate(ctx, battleID, startedAt, startedAt.Add(model.BattleDuration))
			if err != nil {
				return nil, err
			}
		}
	}

	snapshot, err := c.Snapshot(ctx, battleID)
	if err != nil {
		return nil, err
	}

	if activated {
		event, err := realtime.NewEvent(realtime.EventBattleState, snapshot)
		if err != nil {
			return nil, err
		}
		if err := c.broadcaster.Publish(ctx, realtime.BattleChannel(battleID), event); err != nil {
			logger.Warn(ctx, "activation broadcast failed",
				zap.String("battle_id", battleID), zap.Error(err))
		}
	}

	return &ConnectResult{Snapshot: snapshot, Activated: activated}, nil
}

// Disconnect clears the participant's connected flag. It never ends
// the battle; an absent fighter can reconnect until the clock runs out.
func (c *Coordinator) Disconnect(ctx context.Context, battleID, userID string) {
	if err := c.store.Battles.SetConnected(ctx, battleID, userID, false); err != nil {
		logger.Warn(ctx, "mark disconnected failed",
			zap.String("battle_id", battleID), zap.String("user_id", userID), zap.Error(err))
	}
}

// Snapshot assembles the current battle_state payload.
func (c *Coordinator) Snapshot(ctx context.Context, battleID string) (*realtime.BattleStatePayload, error) {
	battle, err := c.store.Battles.GetByID(ctx, battleID)
	if err != nil {
		if err == repository.ErrBattleNotFound {
			return nil, pkgerrors.New(pkgerrors.BattleNotFound)
		}
		return nil, err
	}
	participants, err := c.store.Battles.Participants(ctx, battleID)
	if err != nil {
		return nil, err
	}
	return &realtime.BattleStatePayload{
		Battle:           battle,
		Participants:     participants,
		RemainingSeconds: battle.Remaining(c.now()),
	}, nil
}

// RunCountdown broadcasts timer ticks until the battle leaves the
// active state or ctx is cancelled. The deadline is re-read from the
// store each tick so every process agrees on the clock. Cancelling the
// loop never ends the battle; the timeout path only fires when the
// stored ends_at has truly passed.
func (c *Coordinator) RunCountdown(ctx context.Context, battleID string) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		battle, err := c.store.Battles.GetByID(ctx, battleID)
		if err != nil {
			logger.Warn(ctx, "countdown read failed",
				zap.String("battle_id", battleID), zap.Error(err))
			continue
		}
		if battle.Status != model.BattleActive {
			return
		}

		remaining := battle.Remaining(c.now())
		event, err := realtime.NewEvent(realtime.EventTimerTick, realtime.TimerTickPayload{
			BattleID:         battleID,
			RemainingSeconds: remaining,
		})
		if err == nil {
			if err := c.broadcaster.Publish(ctx, realtime.BattleChannel(battleID), event); err != nil {
				logger.Warn(ctx, "timer broadcast failed",
					zap.String("battle_id", battleID), zap.Error(err))
			}
		}

		if remaining == 0 && battle.EndsAt != nil {
			if err := c.EndBattle(ctx, battleID, EndReasonTimeout); err != nil {
				logger.Error(ctx, "timeout completion failed",
					zap.String("battle_id", battleID), zap.Error(err))
			}
			return
		}
	}
}

// EndBattle routes every end trigger through the completion CAS. Only
// the caller whose update flipped active -> completed computes the
// winner, persists the result, emits stats and broadcasts battle_ended;
// concurrent and repeated invocations are safe no-ops.
func (c *Coordinator) EndBattle(ctx context.Context, battleID, reason string) error {
	won, err := c.store.Battles.TryComplete(ctx, battleID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	participants, err := c.store.Battles.Participants(ctx, battleID)
	if err != nil {
		return err
	}
	winnerID := DetermineWinner(participants)

	endedAt := c.now()
	if err := c.store.Battles.FinalizeResult(ctx, battleID, winnerID, endedAt); err != nil {
		return err
	}

	c.stats.PublishBattleFinished(ctx, outcomeEvents(battleID, participants, winnerID))

	event, err := realtime.NewEvent(realtime.EventBattleEnded, realtime.BattleEndedPayload{
		BattleID: battleID,
		WinnerID: winnerID,
		Draw:     winnerID == "",
		Reason:   reason,
		Results:  participantResults(participants, winnerID),
		EndedAt:  endedAt,
	})
	if err != nil {
		return err
	}
	if err := c.broadcaster.Publish(ctx, realtime.BattleChannel(battleID), event); err != nil {
		logger.Warn(ctx, "battle_ended broadcast failed",
			zap.String("battle_id", battleID), zap.Error(err))
	}

	logger.Info(ctx, "battle completed",
		zap.String("battle_id", battleID),
		zap.String("winner_id", winnerID),
		zap.String("reason", reason))
	return nil
}

// DetermineWinner orders participants by score, then problems solved.
// The leader wins only with a strict score lead; equal scores are a
// draw regardless of solve counts.
func DetermineWinner(participants []*model.BattleParticipant) string {
	if len(participants) < 2 {
		return ""
	}
	ranked := make([]*model.BattleParticipant, len(participants))
	copy(ranked, participants)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ProblemsSolved > ranked[j].ProblemsSolved
	})
	if ranked[0].Score > ranked[1].Score {
		return ranked[0].UserID
	}
	return ""
}

func participantResults(participants []*model.BattleParticipant, winnerID string) []realtime.ParticipantResult {
	results := make([]realtime.ParticipantResult, 0, len(participants))
	for _, p := range participants {
		result := realtime.ResultDraw
		if winnerID != "" {
			result = realtime.ResultLoss
			if p.UserID == winnerID {
				result = realtime.ResultWin
			}
		}
		results = append(results, realtime.ParticipantResult{
			UserID:         p.UserID,
			Username:       p.Username,
			Score:          p.Score,
			ProblemsSolved: p.ProblemsSolved,
			Result:         result,
		})
	}
	return results
}

func outcomeEvents(battleID string, participants []*model.BattleParticipant, winnerID string) []stats.BattleFinished {
	events := make([]stats.BattleFinished, 0, len(participants))
	for _, p := range participants {
		event := stats.BattleFinished{
			UserID:             p.UserID,
			BattleID:           battleID,
			BattlesPlayedDelta: 1,
		}
		if p.UserID == winnerID {
			event.BattlesWonDelta = 1
			event.RatingDelta = model.WinnerRatingBonus
		}
		events = append(events, event)
	}
	return events
}
