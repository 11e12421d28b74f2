package model

import "time"

// Difficulty buckets a battle's problem set.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether d is one of the known difficulties.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// RequestStatus is the lifecycle of a battle request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
	RequestExpired   RequestStatus = "expired"
)

// BattleStatus is the lifecycle of a battle. Transitions are monotonic:
// waiting -> active -> completed, or waiting/active -> cancelled.
type BattleStatus string

const (
	BattleWaiting   BattleStatus = "waiting"
	BattleActive    BattleStatus = "active"
	BattleCompleted BattleStatus = "completed"
	BattleCancelled BattleStatus = "cancelled"
)

// Verdict classifies a judged submission.
type Verdict string

const (
	VerdictAccepted     Verdict = "accepted"
	VerdictWrongAnswer  Verdict = "wrong_answer"
	VerdictTimeLimit    Verdict = "time_limit"
	VerdictRuntimeError Verdict = "runtime_error"
	VerdictCompileError Verdict = "compile_error"
)

// Tunables shared by the request flow, coordinator and sweep.
const (
	// BattleDuration is the fixed active phase length.
	BattleDuration = 30 * time.Minute

	// RequestTTL is how long a pending request stays acceptable.
	RequestTTL = 5 * time.Minute

	// ProblemsPerBattle is the number of problems assigned at creation.
	ProblemsPerBattle = 5

	// PointsPerProblem is awarded on the first acceptance of each problem.
	PointsPerProblem = 10

	// WinnerRatingBonus is the rating delta emitted for the winner.
	WinnerRatingBonus = 20

	// TimerTickInterval drives the countdown broadcast.
	TimerTickInterval = 5 * time.Second

	// StaleWaitingGrace is how long a waiting battle may sit before the
	// sweep cancels it.
	StaleWaitingGrace = 15 * time.Minute

	// OrphanedActiveMargin bounds active battles that never got an ends_at.
	OrphanedActiveMargin = BattleDuration + 5*time.Minute
)

// BattleRequest is a challenge from one user to another.
type BattleRequest struct {
	ID           string        `json:"id"`
	ChallengerID string        `json:"challenger_id"`
	OpponentID   string        `json:"opponent_id"`
	Difficulty   Difficulty    `json:"difficulty"`
	Status       RequestStatus `json:"status"`
	ExpiresAt    time.Time     `json:"expires_at"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Expired reports whether the request's acceptance window has passed.
func (r *BattleRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Battle is one 1v1 match.
type Battle struct {
	ID           string       `json:"id"`
	RequestID    string       `json:"request_id"`
	ChallengerID string       `json:"challenger_id"`
	OpponentID   string       `json:"opponent_id"`
	ProblemIDs   []string     `json:"problem_ids"`
	Difficulty   Difficulty   `json:"difficulty"`
	Status       BattleStatus `json:"status"`
	WinnerID     string       `json:"winner_id,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	EndsAt       *time.Time   `json:"ends_at,omitempty"`
	EndedAt      *time.Time   `json:"ended_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// HasParticipant reports whether userID is one of the two fighters.
func (b *Battle) HasParticipant(userID string) bool {
	return userID == b.ChallengerID || userID == b.OpponentID
}

// Remaining returns the seconds left on the clock, never negative.
// Zero when the battle has no deadline yet.
func (b *Battle) Remaining(now time.Time) int64 {
	if b.EndsAt == nil {
		return 0
	}
	left := b.EndsAt.Sub(now)
	if left < 0 {
		return 0
	}
	return int64(left.Seconds())
}

// BattleParticipant is one fighter's live state within a battle.
type BattleParticipant struct {
	ID             string    `json:"id"`
	BattleID       string    `json:"battle_id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Score          int       `json:"score"`
	ProblemsSolved int       `json:"problems_solved"`
	Connected      bool      `json:"connected"`
	JoinedAt       time.Time `json:"joined_at"`
}

// BattleSubmission is one judged attempt. Append-only.
type BattleSubmission struct {
	ID              string    `json:"id"`
	BattleID        string    `json:"battle_id"`
	UserID          string    `json:"user_id"`
	ProblemID       string    `json:"problem_id"`
	Language        string    `json:"language"`
	Code            string    `json:"code"`
	Verdict         Verdict   `json:"verdict"`
	PointsEarned    int       `json:"points_earned"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	MemoryUsedKB    int64     `json:"memory_used_kb"`
	ErrorOutput     string    `json:"error_output,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
}
