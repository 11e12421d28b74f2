package repository

import (
	"context"
	"errors"
	"time"

	"codebattle/internal/battle/model"
)

var (
	ErrRequestNotFound = errors.New("battle request not found")
	ErrBattleNotFound  = errors.New("battle not found")
)

// RequestRepository persists battle requests.
type RequestRepository interface {
	Create(ctx context.Context, req *model.BattleRequest) error
	GetByID(ctx context.Context, id string) (*model.BattleRequest, error)

	// PendingForUser lists pending, unexpired requests addressed to userID.
	PendingForUser(ctx context.Context, userID string, now time.Time) ([]*model.BattleRequest, error)

	// HasPendingBetween reports whether a pending request from challenger
	// to opponent already exists.
	HasPendingBetween(ctx context.Context, challengerID, opponentID string, now time.Time) (bool, error)

	// UpdateStatus transitions a request from one status to another.
	// Returns true only when this call performed the transition.
	UpdateStatus(ctx context.Context, id string, from, to model.RequestStatus) (bool, error)

	// ExpirePending marks every pending request past its deadline expired
	// and returns how many rows changed.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

// BattleRepository persists battles and participants. The conditional
// updates (TryActivate, TryComplete, UpdateStatus) are the only
// cross-process synchronization in the system: whichever caller's
// update changes a row owns the corresponding side effects.
type BattleRepository interface {
	// CreateWithParticipants inserts the battle and both participant rows
	// in one transaction.
	CreateWithParticipants(ctx context.Context, battle *model.Battle, participants []*model.BattleParticipant) error

	GetByID(ctx context.Context, id string) (*model.Battle, error)
	Participants(ctx context.Context, battleID string) ([]*model.BattleParticipant, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Battle, error)

	// UserInOpenBattle reports whether userID is a participant of any
	// waiting or active battle.
	UserInOpenBattle(ctx context.Context, userID string) (bool, error)

	// SetConnected flips a participant's connected flag.
	SetConnected(ctx context.Context, battleID, userID string, connected bool) error

	// SetUsername records the participant's display name.
	SetUsername(ctx context.Context, battleID, userID, username string) error

	// BothConnected reports whether both participants are marked connected.
	BothConnected(ctx context.Context, battleID string) (bool, error)

	// TryActivate transitions waiting -> active and stamps started_at and
	// ends_at in the same conditional update. Returns true only for the
	// single caller whose update changed the row.
	TryActivate(ctx context.Context, battleID string, startedAt, endsAt time.Time) (bool, error)

	// TryComplete transitions active -> completed. Returns true only for
	// the single caller whose update changed the row.
	TryComplete(ctx context.Context, battleID string) (bool, error)

	// TryCancel transitions from the given status to cancelled.
	TryCancel(ctx context.Context, battleID string, from model.BattleStatus) (bool, error)

	// FinalizeResult records winner and ended_at on a completed battle.
	// An empty winnerID records a draw.
	FinalizeResult(ctx context.Context, battleID, winnerID string, endedAt time.Time) error

	// StaleWaitingIDs lists waiting battles created before the cutoff.
	StaleWaitingIDs(ctx context.Context, before time.Time) ([]string, error)

	// ExpiredActiveIDs lists active battles whose ends_at has passed.
	ExpiredActiveIDs(ctx context.Context, now time.Time) ([]string, error)

	// OrphanedActiveIDs lists active battles with no ends_at created
	// before the cutoff.
	OrphanedActiveIDs(ctx context.Context, before time.Time) ([]string, error)
}

// SubmissionRepository persists judged submissions and owns the
// first-acceptance scoring transaction.
type SubmissionRepository interface {
	// Record inserts the submission and, when it is the user's first
	// accepted answer for the problem, awards points and increments
	// problems_solved in the same transaction. Returns whether points
	// were awarded; sub.PointsEarned is set accordingly before insert.
	Record(ctx context.Context, sub *model.BattleSubmission, points int) (awarded bool, err error)

	// CountSolvedProblems counts the distinct problems with at least one
	// accepted submission in the battle, across both participants.
	CountSolvedProblems(ctx context.Context, battleID string) (int, error)

	ListByBattle(ctx context.Context, battleID string) ([]*model.BattleSubmission, error)
}

// Store bundles the three repositories behind one construction point.
type Store struct {
	Requests    RequestRepository
	Battles     BattleRepository
	Submissions SubmissionRepository
}
