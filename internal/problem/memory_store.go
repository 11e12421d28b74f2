package problem

import (
	"context"
	"sync"

	"codebattle/internal/battle/model"
	pkgerrors "codebattle/pkg/errors"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	problems map[string]*Problem
}

// NewMemoryStore creates an empty in-memory problem store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{problems: make(map[string]*Problem)}
}

// Put registers a problem.
func (s *MemoryStore) Put(p *Problem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems[p.ID] = p
}

// GetProblem returns the registered problem or ProblemNotFound.
func (s *MemoryStore) GetProblem(ctx context.Context, id string) (*Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.problems[id]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.ProblemNotFound, "problem %s not found", id)
	}
	return p, nil
}

// PickProblems returns n problem ids in insertion-independent map
// order, preferring the difficulty and topping up from the others.
func (s *MemoryStore) PickProblems(ctx context.Context, difficulty model.Difficulty, n int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, n)
	for id, p := range s.problems {
		if p.Difficulty == difficulty {
			ids = append(ids, id)
		}
	}
	if len(ids) < n {
		for id, p := range s.problems {
			if p.Difficulty != difficulty {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) < n {
		return nil, pkgerrors.Newf(pkgerrors.ProblemLoadFailed,
			"not enough problems: have %d, need %d", len(ids), n)
	}
	return ids[:n], nil
}

var _ Store = (*MemoryStore)(nil)
