package problem

import (
	"context"

	"codebattle/internal/battle/model"
)

// TestCase is one input/expected pair fed to the judge in order.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// Problem is the read-only view the judge and battle flow need.
// Authoring and editing live elsewhere; this boundary never mutates.
type Problem struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Difficulty    model.Difficulty `json:"difficulty"`
	TimeLimitMs   int64            `json:"time_limit_ms"`
	MemoryLimitMB int64            `json:"memory_limit_mb"`
	TestCases     []TestCase       `json:"test_cases"`
}

// Store provides problem lookup and selection for battle creation.
type Store interface {
	// GetProblem loads a full problem including its test cases.
	GetProblem(ctx context.Context, id string) (*Problem, error)

	// PickProblems selects n distinct problem ids for the difficulty.
	PickProblems(ctx context.Context, difficulty model.Difficulty, n int) ([]string, error)
}
