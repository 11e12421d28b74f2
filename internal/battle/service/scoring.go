package service

import (
	"context"

	"codebattle/internal/battle/model"
	"codebattle/internal/battle/repository"
	"codebattle/internal/judge"
	"codebattle/internal/problem"
	"codebattle/internal/realtime"
	pkgerrors "codebattle/pkg/errors"
	"codebattle/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxCodeSize = 128 << 10

// Scorer judges submissions and applies battle scoring. Points are
// awarded at most once per (user, problem); the repository transaction
// is the arbiter under concurrency.
type Scorer struct {
	store       *repository.Store
	problems    problem.Store
	judge       *judge.Judge
	broadcaster realtime.Broadcaster
	coordinator *Coordinator
}

// NewScorer wires the scoring engine.
func NewScorer(store *repository.Store, problems problem.Store, j *judge.Judge, broadcaster realtime.Broadcaster, coordinator *Coordinator) *Scorer {
	return &Scorer{
		store:       store,
		problems:    problems,
		judge:       j,
		broadcaster: broadcaster,
		coordinator: coordinator,
	}
}

// ScoreSubmission validates, judges and records one submission, then
// broadcasts the updated scoreboard and runs the all-solved check.
// The returned payload goes only to the submitter.
func (s *Scorer) ScoreSubmission(ctx context.Context, battleID, userID, problemID, language, code string) (*realtime.SubmissionResultPayload, error) {
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("code is required")
	}
	if len(code) > maxCodeSize {
		return nil, pkgerrors.New(pkgerrors.CodeTooLarge)
	}

	battle, err := s.store.Battles.GetByID(ctx, battleID)
	if err != nil {
		if err == repository.ErrBattleNotFound {
			return nil, pkgerrors.New(pkgerrors.BattleNotFound)
		}
		return nil, err
	}
	if !battle.HasParticipant(userID) {
		return nil, pkgerrors.New(pkgerrors.NotParticipant)
	}
	if battle.Status != model.BattleActive {
		return nil, pkgerrors.New(pkgerrors.BattleNotActive)
	}
	if !contains(battle.ProblemIDs, problemID) {
		return nil, pkgerrors.New(pkgerrors.ProblemNotInBattle)
	}

	prob, err := s.problems.GetProblem(ctx, problemID)
	if err != nil {
		return nil, err
	}

	result, err := s.judge.Run(ctx, code, language, prob.TestCases, prob.TimeLimitMs, prob.MemoryLimitMB)
	if err != nil {
		return nil, err
	}

	sub := &model.BattleSubmission{
		ID:              uuid.NewString(),
		BattleID:        battleID,
		UserID:          userID,
		ProblemID:       problemID,
		Language:        language,
		Code:            code,
		Verdict:         result.Verdict,
		ExecutionTimeMs: result.ExecutionTimeMs,
		MemoryUsedKB:    result.MemoryUsedKB,
		ErrorOutput:     result.Error,
		SubmittedAt:     s.coordinator.now(),
	}
	awarded, err := s.store.Submissions.Record(ctx, sub, model.PointsPerProblem)
	if err != nil {
		return nil, err
	}

	s.broadcastScoreboard(ctx, battle)

	if awarded {
		// All-solved means every assigned problem has an accepted
		// submission from either fighter. The count runs after the
		// recording transaction commits, so of two racing final
		// acceptances at least one observes the full set; TryComplete
		// collapses duplicate triggers.
		solved, err := s.store.Submissions.CountSolvedProblems(ctx, battleID)
		if err != nil {
			logger.Warn(ctx, "all-solved check failed",
				zap.String("battle_id", battleID), zap.Error(err))
		} else if solved == len(battle.ProblemIDs) {
			if err := s.coordinator.EndBattle(ctx, battleID, EndReasonAllSolved); err != nil {
				logger.Error(ctx, "all-solved completion failed",
					zap.String("battle_id", battleID), zap.Error(err))
			}
		}
	}

	return &realtime.SubmissionResultPayload{
		SubmissionID:    sub.ID,
		ProblemID:       problemID,
		Verdict:         sub.Verdict,
		PointsEarned:    sub.PointsEarned,
		ExecutionTimeMs: sub.ExecutionTimeMs,
		MemoryUsedKB:    sub.MemoryUsedKB,
		Error:           sub.ErrorOutput,
		FailedCase:      result.FailedCase,
	}, nil
}

// broadcastScoreboard publishes standings as committed, after the
// scoring transaction.
func (s *Scorer) broadcastScoreboard(ctx context.Context, battle *model.Battle) {
	participants, err := s.store.Battles.Participants(ctx, battle.ID)
	if err != nil {
		logger.Warn(ctx, "scoreboard read failed",
			zap.String("battle_id", battle.ID), zap.Error(err))
		return
	}
	event, err := realtime.NewEvent(realtime.EventScoreboardUpdate, realtime.ScoreboardPayload{
		BattleID:         battle.ID,
		Participants:     participants,
		RemainingSeconds: battle.Remaining(s.coordinator.now()),
	})
	if err != nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, realtime.BattleChannel(battle.ID), event); err != nil {
		logger.Warn(ctx, "scoreboard broadcast failed",
			zap.String("battle_id", battle.ID), zap.Error(err))
	}
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
