package executor

import "context"

// TimeoutExitCode marks a run killed for exceeding its wall-clock limit.
// It cannot collide with a real exit status.
const TimeoutExitCode = -1

// ExecResult is the raw outcome of running user code against one input.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimeMs   int64
	MemoryKB int64

	// CompileFailed is set when the compile phase failed or the
	// toolchain is missing. Stderr then holds the compiler output.
	CompileFailed bool
}

// TimedOut reports whether the run was killed at the wall-clock limit.
func (r *ExecResult) TimedOut() bool {
	return r.ExitCode == TimeoutExitCode
}

// Limits bounds one execution.
type Limits struct {
	// TimeMs is the wall-clock budget for the run phase.
	TimeMs int64

	// MemoryMB caps the process memory. Zero means the backend default;
	// the process backend cannot enforce it and ignores it.
	MemoryMB int64
}

// Executor runs untrusted source against a single stdin.
//
// Implementations return an error only for infrastructure failures
// (backend unreachable, workspace setup failed). Anything the user's
// code did wrong, including compile failures and timeouts, comes back
// inside ExecResult.
type Executor interface {
	Execute(ctx context.Context, language, source, stdin string, limits Limits) (*ExecResult, error)
}
