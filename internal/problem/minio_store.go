package problem

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"codebattle/internal/battle/model"
	"codebattle/internal/common/storage"
	pkgerrors "codebattle/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	packKeyPrefix   = "problems/"
	packKeySuffix   = ".json.zst"
	indexObjectKey  = "problems/index.json"
	defaultCacheTTL = 10 * time.Minute
)

// MinIOStoreConfig configures the object-storage backed problem store.
type MinIOStoreConfig struct {
	Bucket   string        `yaml:"bucket"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// MinIOStore loads zstd-compressed problem packs from object storage.
// Packs live at problems/{id}.json.zst; a difficulty index lives at
// problems/index.json. Loaded problems are cached in memory with a TTL.
type MinIOStore struct {
	store    storage.ObjectStorage
	bucket   string
	cacheTTL time.Duration

	mu       sync.RWMutex
	problems map[string]cachedProblem
	index    *cachedIndex
}

type cachedProblem struct {
	problem   *Problem
	expiresAt time.Time
}

type cachedIndex struct {
	byDifficulty map[model.Difficulty][]string
	expiresAt    time.Time
}

// difficultyIndex is the wire shape of the index object.
type difficultyIndex struct {
	Easy   []string `json:"easy"`
	Medium []string `json:"medium"`
	Hard   []string `json:"hard"`
}

// NewMinIOStore creates a problem store over object storage.
func NewMinIOStore(store storage.ObjectStorage, cfg MinIOStoreConfig) (*MinIOStore, error) {
	if store == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &MinIOStore{
		store:    store,
		bucket:   cfg.Bucket,
		cacheTTL: ttl,
		problems: make(map[string]cachedProblem),
	}, nil
}

// GetProblem loads a problem pack, preferring the in-memory cache.
func (s *MinIOStore) GetProblem(ctx context.Context, id string) (*Problem, error) {
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
	}

	s.mu.RLock()
	entry, ok := s.problems[id]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.problem, nil
	}

	p, err := s.loadPack(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.problems[id] = cachedProblem{problem: p, expiresAt: time.Now().Add(s.cacheTTL)}
	s.mu.Unlock()
	return p, nil
}

// PickProblems selects n distinct random problem ids, preferring the
// requested difficulty. When that pool runs short the remainder is
// drawn from the other difficulties; only a catalogue with fewer than
// n problems overall is an error.
func (s *MinIOStore) PickProblems(ctx context.Context, difficulty model.Difficulty, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive")
	}
	index, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	picked := shuffled(index[difficulty])
	if len(picked) < n {
		var rest []string
		for diff, ids := range index {
			if diff == difficulty {
				continue
			}
			rest = append(rest, ids...)
		}
		picked = append(picked, shuffled(rest)...)
	}
	if len(picked) < n {
		return nil, pkgerrors.Newf(pkgerrors.ProblemLoadFailed,
			"not enough problems: have %d, need %d", len(picked), n)
	}
	return picked[:n], nil
}

func shuffled(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

func (s *MinIOStore) loadPack(ctx context.Context, id string) (*Problem, error) {
	key := packKeyPrefix + id + packKeySuffix
	obj, err := s.store.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.ProblemNotFound, "problem pack %s not readable", id)
	}
	defer obj.Close()

	dec, err := zstd.NewReader(obj)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ProblemPackInvalid)
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ProblemPackInvalid)
	}

	var p Problem
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ProblemPackInvalid)
	}
	if p.ID == "" {
		p.ID = id
	}
	if len(p.TestCases) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.ProblemPackInvalid, "problem %s has no test cases", id)
	}
	return &p, nil
}

func (s *MinIOStore) loadIndex(ctx context.Context) (map[model.Difficulty][]string, error) {
	s.mu.RLock()
	cached := s.index
	s.mu.RUnlock()
	if cached != nil && time.Now().Before(cached.expiresAt) {
		return cached.byDifficulty, nil
	}

	obj, err := s.store.GetObject(ctx, s.bucket, indexObjectKey)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ProblemLoadFailed)
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ProblemLoadFailed)
	}
	var idx difficultyIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ProblemLoadFailed)
	}

	byDifficulty := map[model.Difficulty][]string{
		model.DifficultyEasy:   idx.Easy,
		model.DifficultyMedium: idx.Medium,
		model.DifficultyHard:   idx.Hard,
	}

	s.mu.Lock()
	s.index = &cachedIndex{byDifficulty: byDifficulty, expiresAt: time.Now().Add(s.cacheTTL)}
	s.mu.Unlock()
	return byDifficulty, nil
}

var _ Store = (*MinIOStore)(nil)
