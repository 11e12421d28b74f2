package judge

import (
	"context"
	"strings"

	"codebattle/internal/battle/model"
	"codebattle/internal/judge/executor"
	"codebattle/internal/problem"
)

// Result is the outcome of judging one submission against a problem.
type Result struct {
	Verdict         model.Verdict
	ExecutionTimeMs int64
	MemoryUsedKB    int64
	Error           string

	// FailedCase is the 1-based index of the first failing test case.
	// Nil on acceptance and on compile errors.
	FailedCase *int
}

// Judge runs submissions through a sandbox executor and classifies
// the outcome. Test cases run in order; judging stops at the first
// failure. Execution time accumulates across the cases that ran;
// memory is the maximum observed.
type Judge struct {
	exec executor.Executor
}

// New creates a judge over the given executor backend.
func New(exec executor.Executor) *Judge {
	return &Judge{exec: exec}
}

// Run judges code against the problem's ordered test cases.
// An error return means the sandbox infrastructure failed; every
// property of the user's code comes back inside Result.
func (j *Judge) Run(ctx context.Context, code, language string, testCases []problem.TestCase, timeLimitMs, memoryLimitMB int64) (*Result, error) {
	limits := executor.Limits{TimeMs: timeLimitMs, MemoryMB: memoryLimitMB}
	result := &Result{Verdict: model.VerdictAccepted}

	for i, tc := range testCases {
		exec, err := j.exec.Execute(ctx, language, code, tc.Input, limits)
		if err != nil {
			return nil, err
		}

		result.ExecutionTimeMs += exec.TimeMs
		if exec.MemoryKB > result.MemoryUsedKB {
			result.MemoryUsedKB = exec.MemoryKB
		}

		if exec.CompileFailed {
			result.Verdict = model.VerdictCompileError
			result.Error = exec.Stderr
			return result, nil
		}
		if exec.TimedOut() {
			result.Verdict = model.VerdictTimeLimit
			result.FailedCase = caseIndex(i)
			return result, nil
		}
		if exec.ExitCode != 0 {
			result.Verdict = model.VerdictRuntimeError
			result.Error = exec.Stderr
			result.FailedCase = caseIndex(i)
			return result, nil
		}
		if NormalizeOutput(exec.Stdout) != NormalizeOutput(tc.ExpectedOutput) {
			result.Verdict = model.VerdictWrongAnswer
			result.FailedCase = caseIndex(i)
			return result, nil
		}
	}
	return result, nil
}

func caseIndex(i int) *int {
	n := i + 1
	return &n
}

// NormalizeOutput strips trailing whitespace from every line and drops
// leading and trailing blank lines, so formatting noise does not flip
// a correct answer into a wrong one.
func NormalizeOutput(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	start := 0
	end := len(lines)
	for start < end && lines[start] == "" {
		start++
	}
	for end > start && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
