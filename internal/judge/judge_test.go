package judge

import (
	"context"
	"errors"
	"testing"

	"codebattle/internal/battle/model"
	"codebattle/internal/judge/executor"
	"codebattle/internal/problem"
)

// scriptedExecutor returns canned results keyed by stdin.
type scriptedExecutor struct {
	results map[string]*executor.ExecResult
	err     error
	calls   int
}

func (f *scriptedExecutor) Execute(ctx context.Context, language, source, stdin string, limits executor.Limits) (*executor.ExecResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[stdin]; ok {
		return r, nil
	}
	return &executor.ExecResult{Stdout: stdin, TimeMs: 10}, nil
}

func cases(inputs ...string) []problem.TestCase {
	tcs := make([]problem.TestCase, 0, len(inputs))
	for _, in := range inputs {
		tcs = append(tcs, problem.TestCase{Input: in, ExpectedOutput: in})
	}
	return tcs
}

func TestRunAllAccepted(t *testing.T) {
	exec := &scriptedExecutor{}
	j := New(exec)

	res, err := j.Run(context.Background(), "code", "python", cases("1", "2", "3"), 1000, 64)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Verdict != model.VerdictAccepted {
		t.Fatalf("verdict = %s, want accepted", res.Verdict)
	}
	if res.FailedCase != nil {
		t.Fatalf("FailedCase = %v, want nil", *res.FailedCase)
	}
	if res.ExecutionTimeMs != 30 {
		t.Fatalf("ExecutionTimeMs = %d, want 30", res.ExecutionTimeMs)
	}
	if exec.calls != 3 {
		t.Fatalf("executor calls = %d, want 3", exec.calls)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	exec := &scriptedExecutor{results: map[string]*executor.ExecResult{
		"2": {Stdout: "wrong", TimeMs: 5},
	}}
	j := New(exec)

	res, err := j.Run(context.Background(), "code", "python", cases("1", "2", "3"), 1000, 64)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Verdict != model.VerdictWrongAnswer {
		t.Fatalf("verdict = %s, want wrong_answer", res.Verdict)
	}
	if res.FailedCase == nil || *res.FailedCase != 2 {
		t.Fatalf("FailedCase = %v, want 2", res.FailedCase)
	}
	if exec.calls != 2 {
		t.Fatalf("executor calls = %d, want 2 (must stop early)", exec.calls)
	}
	if res.ExecutionTimeMs != 15 {
		t.Fatalf("ExecutionTimeMs = %d, want 15 (partial accumulation)", res.ExecutionTimeMs)
	}
}

func TestRunTimeLimit(t *testing.T) {
	exec := &scriptedExecutor{results: map[string]*executor.ExecResult{
		"1": {ExitCode: executor.TimeoutExitCode, TimeMs: 1000},
	}}
	j := New(exec)

	res, err := j.Run(context.Background(), "code", "python", cases("1"), 1000, 64)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Verdict != model.VerdictTimeLimit {
		t.Fatalf("verdict = %s, want time_limit", res.Verdict)
	}
	if res.FailedCase == nil || *res.FailedCase != 1 {
		t.Fatalf("FailedCase = %v, want 1", res.FailedCase)
	}
}

func TestRunRuntimeError(t *testing.T) {
	exec := &scriptedExecutor{results: map[string]*executor.ExecResult{
		"1": {Stderr: "panic: boom", ExitCode: 2, TimeMs: 7},
	}}
	j := New(exec)

	res, err := j.Run(context.Background(), "code", "python", cases("1"), 1000, 64)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Verdict != model.VerdictRuntimeError {
		t.Fatalf("verdict = %s, want runtime_error", res.Verdict)
	}
	if res.Error != "panic: boom" {
		t.Fatalf("Error = %q, want stderr", res.Error)
	}
}

func TestRunCompileError(t *testing.T) {
	exec := &scriptedExecutor{results: map[string]*executor.ExecResult{
		"1": {Stderr: "syntax error", ExitCode: 1, CompileFailed: true},
	}}
	j := New(exec)

	res, err := j.Run(context.Background(), "code", "cpp", cases("1", "2"), 1000, 64)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Verdict != model.VerdictCompileError {
		t.Fatalf("verdict = %s, want compile_error", res.Verdict)
	}
	if res.FailedCase != nil {
		t.Fatalf("FailedCase = %v, want nil for compile errors", *res.FailedCase)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d, want 1", exec.calls)
	}
}

func TestRunInfraErrorPropagates(t *testing.T) {
	exec := &scriptedExecutor{err: errors.New("daemon unreachable")}
	j := New(exec)

	if _, err := j.Run(context.Background(), "code", "python", cases("1"), 1000, 64); err == nil {
		t.Fatal("expected infrastructure error to propagate")
	}
}

func TestNormalizeOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing spaces per line", "a  \nb\t\n", "a\nb"},
		{"leading blank lines", "\n\nhello", "hello"},
		{"trailing blank lines", "hello\n\n\n", "hello"},
		{"crlf", "a\r\nb\r\n", "a\nb"},
		{"interior blanks kept", "a\n\nb", "a\n\nb"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeOutput(tt.in); got != tt.want {
				t.Fatalf("NormalizeOutput(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
