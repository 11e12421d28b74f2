package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codebattle/internal/battle/model"
	"codebattle/internal/common/db"
)

// NewMySQLStore wires the MySQL-backed repositories.
func NewMySQLStore(database db.Database) *Store {
	return &Store{
		Requests:    &MySQLRequestRepository{db: database},
		Battles:     &MySQLBattleRepository{db: database},
		Submissions: &MySQLSubmissionRepository{db: database},
	}
}

// MySQLRequestRepository implements RequestRepository with MySQL.
type MySQLRequestRepository struct {
	db db.Database
}

const requestColumns = "id, challenger_id, opponent_id, difficulty, status, expires_at, created_at, updated_at"

func (r *MySQLRequestRepository) Create(ctx context.Context, req *model.BattleRequest) error {
	if req == nil {
		return errors.New("request is nil")
	}
	if req.ID == "" {
		return errors.New("request id is required")
	}
	if req.ChallengerID == "" || req.OpponentID == "" {
		return errors.New("challenger and opponent are required")
	}
	query := `
		INSERT INTO battle_requests
		(id, challenger_id, opponent_id, difficulty, status, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(ctx, query,
		req.ID, req.ChallengerID, req.OpponentID, string(req.Difficulty),
		string(req.Status), req.ExpiresAt, req.CreatedAt, req.UpdatedAt,
	)
	return err
}

func (r *MySQLRequestRepository) GetByID(ctx context.Context, id string) (*model.BattleRequest, error) {
	if id == "" {
		return nil, errors.New("request id is required")
	}
	query := "SELECT " + requestColumns + " FROM battle_requests WHERE id = ? LIMIT 1"
	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

func (r *MySQLRequestRepository) PendingForUser(ctx context.Context, userID string, now time.Time) ([]*model.BattleRequest, error) {
	query := "SELECT " + requestColumns + ` FROM battle_requests
		WHERE opponent_id = ? AND status = ? AND expires_at > ?
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID, string(model.RequestPending), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*model.BattleRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (r *MySQLRequestRepository) HasPendingBetween(ctx context.Context, challengerID, opponentID string, now time.Time) (bool, error) {
	query := `SELECT COUNT(*) FROM battle_requests
		WHERE challenger_id = ? AND opponent_id = ? AND status = ? AND expires_at > ?`
	var count int
	row := r.db.QueryRow(ctx, query, challengerID, opponentID, string(model.RequestPending), now)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *MySQLRequestRepository) UpdateStatus(ctx context.Context, id string, from, to model.RequestStatus) (bool, error) {
	query := "UPDATE battle_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?"
	result, err := r.db.Exec(ctx, query, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *MySQLRequestRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	query := "UPDATE battle_requests SET status = ?, updated_at = ? WHERE status = ? AND expires_at <= ?"
	result, err := r.db.Exec(ctx, query, string(model.RequestExpired), now, string(model.RequestPending), now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanRequest(row db.Row) (*model.BattleRequest, error) {
	req := &model.BattleRequest{}
	var difficulty, status string
	if err := row.Scan(
		&req.ID, &req.ChallengerID, &req.OpponentID, &difficulty,
		&status, &req.ExpiresAt, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.Difficulty = model.Difficulty(difficulty)
	req.Status = model.RequestStatus(status)
	return req, nil
}

// MySQLBattleRepository implements BattleRepository with MySQL.
// problem_ids is stored as a JSON array column.
type MySQLBattleRepository struct {
	db db.Database
}

const battleColumns = "id, request_id, challenger_id, opponent_id, problem_ids, difficulty, status, winner_id, started_at, ends_at, ended_at, created_at"

func (r *MySQLBattleRepository) CreateWithParticipants(ctx context.Context, battle *model.Battle, participants []*model.BattleParticipant) error {
	if battle == nil {
		return errors.New("battle is nil")
	}
	if battle.ID == "" {
		return errors.New("battle id is required")
	}
	if len(participants) != 2 {
		return errors.New("a battle needs exactly two participants")
	}
	problemIDs, err := json.Marshal(battle.ProblemIDs)
	if err != nil {
		return err
	}

	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		battleQuery := `
			INSERT INTO battles
			(id, request_id, challenger_id, opponent_id, problem_ids, difficulty, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.Exec(ctx, battleQuery,
			battle.ID, battle.RequestID, battle.ChallengerID, battle.OpponentID,
			string(problemIDs), string(battle.Difficulty), string(battle.Status), battle.CreatedAt,
		); err != nil {
			return err
		}

		participantQuery := `
			INSERT INTO battle_participants
			(id, battle_id, user_id, username, score, problems_solved, connected, joined_at)
			VALUES (?, ?, ?, ?, 0, 0, FALSE, ?)
		`
		for _, p := range participants {
			if _, err := tx.Exec(ctx, participantQuery,
				p.ID, p.BattleID, p.UserID, p.Username, p.JoinedAt,
			); err != nil {
				if key, ok := db.UniqueViolation(err); ok {
					return fmt.Errorf("user %s already joined battle %s (%s)", p.UserID, p.BattleID, key)
				}
				return err
			}
		}
		return nil
	})
}

func (r *MySQLBattleRepository) GetByID(ctx context.Context, id string) (*model.Battle, error) {
	if id == "" {
		return nil, errors.New("battle id is required")
	}
	query := "SELECT " + battleColumns + " FROM battles WHERE id = ? LIMIT 1"
	battle, err := scanBattle(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrBattleNotFound
		}
		return nil, err
	}
	return battle, nil
}

func (r *MySQLBattleRepository) Participants(ctx context.Context, battleID string) ([]*model.BattleParticipant, error) {
	query := `SELECT id, battle_id, user_id, username, score, problems_solved, connected, joined_at
		FROM battle_participants WHERE battle_id = ? ORDER BY joined_at ASC`
	rows, err := r.db.Query(ctx, query, battleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []*model.BattleParticipant
	for rows.Next() {
		p := &model.BattleParticipant{}
		if err := rows.Scan(
			&p.ID, &p.BattleID, &p.UserID, &p.Username,
			&p.Score, &p.ProblemsSolved, &p.Connected, &p.JoinedAt,
		); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *MySQLBattleRepository) ListByUser(ctx context.Context, userID string) ([]*model.Battle, error) {
	query := "SELECT " + battleColumns + ` FROM battles
		WHERE challenger_id = ? OR opponent_id = ?
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var battles []*model.Battle
	for rows.Next() {
		battle, err := scanBattle(rows)
		if err != nil {
			return nil, err
		}
		battles = append(battles, battle)
	}
	return battles, rows.Err()
}

func (r *MySQLBattleRepository) UserInOpenBattle(ctx context.Context, userID string) (bool, error) {
	query := `SELECT COUNT(*) FROM battles
		WHERE (challenger_id = ? OR opponent_id = ?) AND status IN (?, ?)`
	var count int
	row := r.db.QueryRow(ctx, query, userID, userID, string(model.BattleWaiting), string(model.BattleActive))
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *MySQLBattleRepository) SetConnected(ctx context.Context, battleID, userID string, connected bool) error {
	query := "UPDATE battle_participants SET connected = ? WHERE battle_id = ? AND user_id = ?"
	_, err := r.db.Exec(ctx, query, connected, battleID, userID)
	return err
}

func (r *MySQLBattleRepository) SetUsername(ctx context.Context, battleID, userID, username string) error {
	query := "UPDATE battle_participants SET username = ? WHERE battle_id = ? AND user_id = ? AND username <> ?"
	_, err := r.db.Exec(ctx, query, username, battleID, userID, username)
	return err
}

func (r *MySQLBattleRepository) BothConnected(ctx context.Context, battleID string) (bool, error) {
	query := "SELECT COUNT(*) FROM battle_participants WHERE battle_id = ? AND connected = TRUE"
	var count int
	if err := r.db.QueryRow(ctx, query, battleID).Scan(&count); err != nil {
		return false, err
	}
	return count == 2, nil
}

func (r *MySQLBattleRepository) TryActivate(ctx context.Context, battleID string, startedAt, endsAt time.Time) (bool, error) {
	query := `UPDATE battles SET status = ?, started_at = ?, ends_at = ?
		WHERE id = ? AND status = ?`
	result, err := r.db.Exec(ctx, query,
		string(model.BattleActive), startedAt, endsAt, battleID, string(model.BattleWaiting))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *MySQLBattleRepository) TryComplete(ctx context.Context, battleID string) (bool, error) {
	query := "UPDATE battles SET status = ? WHERE id = ? AND status = ?"
	result, err := r.db.Exec(ctx, query, string(model.BattleCompleted), battleID, string(model.BattleActive))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *MySQLBattleRepository) TryCancel(ctx context.Context, battleID string, from model.BattleStatus) (bool, error) {
	query := "UPDATE battles SET status = ?, ended_at = ? WHERE id = ? AND status = ?"
	result, err := r.db.Exec(ctx, query, string(model.BattleCancelled), time.Now().UTC(), battleID, string(from))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *MySQLBattleRepository) FinalizeResult(ctx context.Context, battleID, winnerID string, endedAt time.Time) error {
	var winner interface{}
	if winnerID != "" {
		winner = winnerID
	}
	query := "UPDATE battles SET winner_id = ?, ended_at = ? WHERE id = ?"
	_, err := r.db.Exec(ctx, query, winner, endedAt, battleID)
	return err
}

func (r *MySQLBattleRepository) StaleWaitingIDs(ctx context.Context, before time.Time) ([]string, error) {
	query := "SELECT id FROM battles WHERE status = ? AND created_at < ?"
	return r.queryIDs(ctx, query, string(model.BattleWaiting), before)
}

func (r *MySQLBattleRepository) ExpiredActiveIDs(ctx context.Context, now time.Time) ([]string, error) {
	query := "SELECT id FROM battles WHERE status = ? AND ends_at IS NOT NULL AND ends_at <= ?"
	return r.queryIDs(ctx, query, string(model.BattleActive), now)
}

func (r *MySQLBattleRepository) OrphanedActiveIDs(ctx context.Context, before time.Time) ([]string, error) {
	query := "SELECT id FROM battles WHERE status = ? AND ends_at IS NULL AND created_at < ?"
	return r.queryIDs(ctx, query, string(model.BattleActive), before)
}

func (r *MySQLBattleRepository) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanBattle(row db.Row) (*model.Battle, error) {
	battle := &model.Battle{}
	var problemIDs string
	var difficulty, status string
	var winnerID *string
	if err := row.Scan(
		&battle.ID, &battle.RequestID, &battle.ChallengerID, &battle.OpponentID,
		&problemIDs, &difficulty, &status, &winnerID,
		&battle.StartedAt, &battle.EndsAt, &battle.EndedAt, &battle.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(problemIDs), &battle.ProblemIDs); err != nil {
		return nil, err
	}
	battle.Difficulty = model.Difficulty(difficulty)
	battle.Status = model.BattleStatus(status)
	if winnerID != nil {
		battle.WinnerID = *winnerID
	}
	return battle, nil
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

const submissionColumns = "id, battle_id, user_id, problem_id, language, code, verdict, points_earned, execution_time_ms, memory_used_kb, error_output, submitted_at"

// Record inserts the submission and awards points for the user's first
// accepted answer to the problem. The participant row is locked for the
// duration of the transaction so two racing submissions cannot both
// count as first.
func (r *MySQLSubmissionRepository) Record(ctx context.Context, sub *model.BattleSubmission, points int) (bool, error) {
	if sub == nil {
		return false, errors.New("submission is nil")
	}
	if sub.ID == "" {
		return false, errors.New("submission id is required")
	}

	awarded := false
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		lockQuery := "SELECT id FROM battle_participants WHERE battle_id = ? AND user_id = ? FOR UPDATE"
		var participantID string
		if err := tx.QueryRow(ctx, lockQuery, sub.BattleID, sub.UserID).Scan(&participantID); err != nil {
			return err
		}

		if sub.Verdict == model.VerdictAccepted {
			countQuery := `SELECT COUNT(*) FROM battle_submissions
				WHERE battle_id = ? AND user_id = ? AND problem_id = ? AND verdict = ?`
			var prior int
			if err := tx.QueryRow(ctx, countQuery,
				sub.BattleID, sub.UserID, sub.ProblemID, string(model.VerdictAccepted),
			).Scan(&prior); err != nil {
				return err
			}
			awarded = prior == 0
		}

		if awarded {
			sub.PointsEarned = points
		} else {
			sub.PointsEarned = 0
		}

		insertQuery := `
			INSERT INTO battle_submissions
			(id, battle_id, user_id, problem_id, language, code, verdict, points_earned, execution_time_ms, memory_used_kb, error_output, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.Exec(ctx, insertQuery,
			sub.ID, sub.BattleID, sub.UserID, sub.ProblemID, sub.Language, sub.Code,
			string(sub.Verdict), sub.PointsEarned, sub.ExecutionTimeMs, sub.MemoryUsedKB,
			sub.ErrorOutput, sub.SubmittedAt,
		); err != nil {
			return err
		}

		if awarded {
			updateQuery := `UPDATE battle_participants
				SET score = score + ?, problems_solved = problems_solved + 1
				WHERE battle_id = ? AND user_id = ?`
			if _, err := tx.Exec(ctx, updateQuery, points, sub.BattleID, sub.UserID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return awarded, nil
}

func (r *MySQLSubmissionRepository) CountSolvedProblems(ctx context.Context, battleID string) (int, error) {
	query := `SELECT COUNT(DISTINCT problem_id) FROM battle_submissions
		WHERE battle_id = ? AND verdict = ?`
	var count int
	row := r.db.QueryRow(ctx, query, battleID, string(model.VerdictAccepted))
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *MySQLSubmissionRepository) ListByBattle(ctx context.Context, battleID string) ([]*model.BattleSubmission, error) {
	query := "SELECT " + submissionColumns + " FROM battle_submissions WHERE battle_id = ? ORDER BY submitted_at ASC"
	rows, err := r.db.Query(ctx, query, battleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*model.BattleSubmission
	for rows.Next() {
		sub := &model.BattleSubmission{}
		var verdict string
		var errorOutput *string
		if err := rows.Scan(
			&sub.ID, &sub.BattleID, &sub.UserID, &sub.ProblemID, &sub.Language, &sub.Code,
			&verdict, &sub.PointsEarned, &sub.ExecutionTimeMs, &sub.MemoryUsedKB,
			&errorOutput, &sub.SubmittedAt,
		); err != nil {
			return nil, err
		}
		sub.Verdict = model.Verdict(verdict)
		if errorOutput != nil {
			sub.ErrorOutput = *errorOutput
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

var _ RequestRepository = (*MySQLRequestRepository)(nil)
var _ BattleRepository = (*MySQLBattleRepository)(nil)
var _ SubmissionRepository = (*MySQLSubmissionRepository)(nil)
