package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"codebattle/internal/battle/model"
)

// EventType tags every frame crossing the realtime boundary.
type EventType string

// Room events, delivered on battle:{id}.
const (
	EventBattleState      EventType = "battle_state"
	EventScoreboardUpdate EventType = "scoreboard_update"
	EventTimerTick        EventType = "timer_tick"
	EventSubmissionResult EventType = "submission_result"
	EventBattleEnded      EventType = "battle_ended"
	EventPong             EventType = "pong"
)

// User notifications, delivered on user:{id}.
const (
	EventBattleRequest  EventType = "battle_request"
	EventBattleRejected EventType = "battle_rejected"
	EventBattleStarted  EventType = "battle_started"
)

// Event is the wire envelope: a type tag plus a typed payload.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event from a payload struct.
func NewEvent(eventType EventType, payload interface{}) (*Event, error) {
	if payload == nil {
		return &Event{Type: eventType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{Type: eventType, Payload: raw}, nil
}

// Encode serializes the event for the wire.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a wire frame back into an event.
func DecodeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event missing type")
	}
	return &event, nil
}

// BattleChannel is the room channel for one battle.
func BattleChannel(battleID string) string {
	return "battle:" + battleID
}

// UserChannel is the personal notification channel for one user.
func UserChannel(userID string) string {
	return "user:" + userID
}

// BattleStatePayload is the full snapshot sent on connect and activation.
type BattleStatePayload struct {
	Battle           *model.Battle              `json:"battle"`
	Participants     []*model.BattleParticipant `json:"participants"`
	RemainingSeconds int64                      `json:"remaining_seconds"`
}

// ScoreboardPayload reflects participant standings after a scoring
// commit, plus the authoritative remaining clock.
type ScoreboardPayload struct {
	BattleID         string                     `json:"battle_id"`
	Participants     []*model.BattleParticipant `json:"participants"`
	RemainingSeconds int64                      `json:"remaining_seconds"`
}

// TimerTickPayload carries the authoritative remaining clock.
type TimerTickPayload struct {
	BattleID         string `json:"battle_id"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// SubmissionResultPayload goes only to the submitter.
type SubmissionResultPayload struct {
	SubmissionID    string        `json:"submission_id"`
	ProblemID       string        `json:"problem_id"`
	Verdict         model.Verdict `json:"verdict"`
	PointsEarned    int           `json:"points_earned"`
	ExecutionTimeMs int64         `json:"execution_time_ms"`
	MemoryUsedKB    int64         `json:"memory_used_kb"`
	Error           string        `json:"error,omitempty"`
	FailedCase      *int          `json:"failed_case,omitempty"`
}

// Per-participant outcomes in a battle_ended broadcast.
const (
	ResultWin  = "win"
	ResultLoss = "loss"
	ResultDraw = "draw"
)

// ParticipantResult is one fighter's line in the final result.
type ParticipantResult struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	Score          int    `json:"score"`
	ProblemsSolved int    `json:"problems_solved"`
	Result         string `json:"result"`
}

// BattleEndedPayload is the final result broadcast.
type BattleEndedPayload struct {
	BattleID string              `json:"battle_id"`
	WinnerID string              `json:"winner_id,omitempty"`
	Draw     bool                `json:"draw"`
	Reason   string              `json:"reason"`
	Results  []ParticipantResult `json:"results"`
	EndedAt  time.Time           `json:"ended_at"`
}

// BattleRequestPayload notifies an opponent of a new challenge.
type BattleRequestPayload struct {
	RequestID    string           `json:"request_id"`
	ChallengerID string           `json:"challenger_id"`
	Difficulty   model.Difficulty `json:"difficulty"`
	ExpiresAt    string           `json:"expires_at"`
}

// BattleRejectedPayload notifies a challenger of a rejection.
type BattleRejectedPayload struct {
	RequestID  string `json:"request_id"`
	OpponentID string `json:"opponent_id"`
}

// BattleStartedPayload notifies both fighters that a battle was created.
type BattleStartedPayload struct {
	BattleID   string           `json:"battle_id"`
	RequestID  string           `json:"request_id"`
	OpponentID string           `json:"opponent_id"`
	Difficulty model.Difficulty `json:"difficulty"`
}
