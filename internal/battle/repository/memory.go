package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"codebattle/internal/battle/model"
)

// NewMemoryStore wires in-memory repositories that honor the same CAS
// contract as the MySQL ones under a single mutex. Used by tests and
// local development.
func NewMemoryStore() *Store {
	state := &memoryState{
		requests:     make(map[string]*model.BattleRequest),
		battles:      make(map[string]*model.Battle),
		participants: make(map[string][]*model.BattleParticipant),
		submissions:  make(map[string][]*model.BattleSubmission),
	}
	return &Store{
		Requests:    &memoryRequestRepository{state: state},
		Battles:     &memoryBattleRepository{state: state},
		Submissions: &memorySubmissionRepository{state: state},
	}
}

type memoryState struct {
	mu           sync.Mutex
	requests     map[string]*model.BattleRequest
	battles      map[string]*model.Battle
	participants map[string][]*model.BattleParticipant
	submissions  map[string][]*model.BattleSubmission
}

type memoryRequestRepository struct {
	state *memoryState
}

func (r *memoryRequestRepository) Create(ctx context.Context, req *model.BattleRequest) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	clone := *req
	r.state.requests[req.ID] = &clone
	return nil
}

func (r *memoryRequestRepository) GetByID(ctx context.Context, id string) (*model.BattleRequest, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	req, ok := r.state.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	clone := *req
	return &clone, nil
}

func (r *memoryRequestRepository) PendingForUser(ctx context.Context, userID string, now time.Time) ([]*model.BattleRequest, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	var result []*model.BattleRequest
	for _, req := range r.state.requests {
		if req.OpponentID == userID && req.Status == model.RequestPending && req.ExpiresAt.After(now) {
			clone := *req
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *memoryRequestRepository) HasPendingBetween(ctx context.Context, challengerID, opponentID string, now time.Time) (bool, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for _, req := range r.state.requests {
		if req.ChallengerID == challengerID && req.OpponentID == opponentID &&
			req.Status == model.RequestPending && req.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRequestRepository) UpdateStatus(ctx context.Context, id string, from, to model.RequestStatus) (bool, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	req, ok := r.state.requests[id]
	if !ok || req.Status != from {
		return false, nil
	}
	req.Status = to
	req.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memoryRequestRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	var changed int64
	for _, req := range r.state.requests {
		if req.Status == model.RequestPending && !req.ExpiresAt.After(now) {
			req.Status = model.RequestExpired
			req.UpdatedAt = now
			changed++
		}
	}
	return changed, nil
}

type memoryBattleRepository struct {
	state *memoryState
}

func (r *memoryBattleRepository) CreateWithParticipants(ctx context.Context, battle *model.Battle, participants []*model.BattleParticipant) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	clone := *battle
	clone.ProblemIDs = append([]string(nil), battle.ProblemIDs...)
	r.state.battles[battle.ID] = &clone
	list := make([]*model.BattleParticipant, 0, len(participants))
	for _, p := range participants {
		pc := *p
		list = append(list, &pc)
	}
	r.state.participants[battle.ID] = list
	return nil
}

func (r *memoryBattleRepository) GetByID(ctx context.Context, id string) (*model.Battle, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	battle, ok := r.state.battles[id]
	if !ok {
		return nil, ErrBattleNotFound
	}
	return cloneBattle(battle), nil
}

func (r *memoryBattleRepository) Participants(ctx context.Context, battleID string) ([]*model.BattleParticipant, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	list := r.state.participants[battleID]
	result := make([]*model.BattleParticipant, 0, len(list))
	for _, p := range list {
		pc := *p
		result = append(result, &pc)
	}
	return result, nil
}

func (r *memoryBattleRepository) ListByUser(ctx context.Context, userID string) ([]*model.Battle, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	var result []*model.Battle
	for _, battle := range r.state.battles {
		if battle.HasParticipant(userID) {
			result = append(result, cloneBattle(battle))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *memoryBattleRepository) UserInOpenBattle(ctx context.Context, userID string) (bool, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for _, battle := range r.state.battles {
		if battle.HasParticipant(userID) &&
			(battle.Status == model.BattleWaiting || battle.Status == model.BattleActive) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryBattleRepository) SetConnected(ctx context.Context, battleID, userID string, connected bool) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for _, p := range r.state.participants[battleID] {
		if p.UserID == userID {
			p.Connected = connected
		}
	}
	return nil
}

func (r *memoryBattleRepository) SetUsername(ctx context.Context, battleID, userID, username string) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for _, p := range r.state.participants[battleID] {
		if p.UserID == userID {
			p.Username = username
		}
	}
	return nil
}

func (r *memoryBattleRepository) BothConnected(ctx context.Context, battleID string) (bool, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	list := r.state.participants[battleID]
	if len(list) != 2 {
		return false, nil
	}
	return list[0].Connected && list[1].Connected, nil
}

func (r *memoryBattleRepository) TryActivate(ctx context.Context, battleID string, startedAt, endsAt time.Time) (bool, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	battle, ok := r.state.battles[battleID]
	if !ok || battle.Status != model.BattleWaiting {
		return false, nil
	}
	battle.Status = model.BattleActive
	battle.StartedAt = &startedAt
	battle.EndsAt = &endsAt
	return true, nil
}

func (r *memoryBattleRepository) TryComplete(ctx context.Context, battleID string) (bool, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	battle, ok := r.state.battles[battleID]
	if !ok || battle.Status != model.BattleActive {
		return false, nil
	}
	battle.Status = model.BattleCompleted
	return true, nil
}

func (r *memoryBattleRepository) TryCancel(ctx context.Context, battleID string, from model.BattleStatus) (bool, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	battle, ok := r.state.battles[battleID]
	if !ok || battle.Status != from {
		return false, nil
	}
	now := time.Now().UTC()
	battle.Status = model.BattleCancelled
	battle.EndedAt = &now
	return true, nil
}

func (r *memoryBattleRepository) FinalizeResult(ctx context.Context, battleID, winnerID string, endedAt time.Time) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	battle, ok := r.state.battles[battleID]
	if !ok {
		return ErrBattleNotFound
	}
	battle.WinnerID = winnerID
	battle.EndedAt = &endedAt
	return nil
}

func (r *memoryBattleRepository) StaleWaitingIDs(ctx context.Context, before time.Time) ([]string, error) {
	return r.collectIDs(func(b *model.Battle) bool {
		return b.Status == model.BattleWaiting && b.CreatedAt.Before(before)
	})
}

func (r *memoryBattleRepository) ExpiredActiveIDs(ctx context.Context, now time.Time) ([]string, error) {
	return r.collectIDs(func(b *model.Battle) bool {
		return b.Status == model.BattleActive && b.EndsAt != nil && !b.EndsAt.After(now)
	})
}

func (r *memoryBattleRepository) OrphanedActiveIDs(ctx context.Context, before time.Time) ([]string, error) {
	return r.collectIDs(func(b *model.Battle) bool {
		return b.Status == model.BattleActive && b.EndsAt == nil && b.CreatedAt.Before(before)
	})
}

func (r *memoryBattleRepository) collectIDs(match func(*model.Battle) bool) ([]string, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	var ids []string
	for id, battle := range r.state.battles {
		if match(battle) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneBattle(b *model.Battle) *model.Battle {
	clone := *b
	clone.ProblemIDs = append([]string(nil), b.ProblemIDs...)
	return &clone
}

type memorySubmissionRepository struct {
	state *memoryState
}

func (r *memorySubmissionRepository) Record(ctx context.Context, sub *model.BattleSubmission, points int) (bool, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	awarded := false
	if sub.Verdict == model.VerdictAccepted {
		awarded = true
		for _, existing := range r.state.submissions[sub.BattleID] {
			if existing.UserID == sub.UserID && existing.ProblemID == sub.ProblemID &&
				existing.Verdict == model.VerdictAccepted {
				awarded = false
				break
			}
		}
	}

	if awarded {
		sub.PointsEarned = points
		for _, p := range r.state.participants[sub.BattleID] {
			if p.UserID == sub.UserID {
				p.Score += points
				p.ProblemsSolved++
			}
		}
	} else {
		sub.PointsEarned = 0
	}

	clone := *sub
	r.state.submissions[sub.BattleID] = append(r.state.submissions[sub.BattleID], &clone)
	return awarded, nil
}

func (r *memorySubmissionRepository) CountSolvedProblems(ctx context.Context, battleID string) (int, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	seen := make(map[string]struct{})
	for _, sub := range r.state.submissions[battleID] {
		if sub.Verdict == model.VerdictAccepted {
			seen[sub.ProblemID] = struct{}{}
		}
	}
	return len(seen), nil
}

func (r *memorySubmissionRepository) ListByBattle(ctx context.Context, battleID string) ([]*model.BattleSubmission, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	list := r.state.submissions[battleID]
	result := make([]*model.BattleSubmission, 0, len(list))
	for _, sub := range list {
		clone := *sub
		result = append(result, &clone)
	}
	return result, nil
}

var _ RequestRepository = (*memoryRequestRepository)(nil)
var _ BattleRepository = (*memoryBattleRepository)(nil)
var _ SubmissionRepository = (*memorySubmissionRepository)(nil)
