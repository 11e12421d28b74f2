package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "codebattle/pkg/errors"
)

const (
	defaultCompileTimeout = 30 * time.Second
	maxCapturedOutput     = 64 << 10
)

// ProcessExecutor runs user code as local subprocesses inside a fresh
// temp dir per execution. It enforces the wall-clock limit via context
// cancellation; it cannot enforce a memory limit and reports MemoryKB 0.
// Intended for development and CI, not for hostile multi-tenant use.
type ProcessExecutor struct {
	registry       *Registry
	compileTimeout time.Duration
}

// NewProcessExecutor creates a process-backed executor.
func NewProcessExecutor(registry *Registry) *ProcessExecutor {
	if registry == nil {
		registry = NewRegistry()
	}
	return &ProcessExecutor{
		registry:       registry,
		compileTimeout: defaultCompileTimeout,
	}
}

// Execute compiles (when needed) and runs source against stdin.
func (e *ProcessExecutor) Execute(ctx context.Context, language, source, stdin string, limits Limits) (*ExecResult, error) {
	lang, ok := e.registry.Lookup(language)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q not supported", language)
	}

	dir, err := os.MkdirTemp("", "battle-exec-*")
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, lang.SourceFile)
	if err := os.WriteFile(srcPath, []byte(source), 0o644); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}

	if lang.Compiled() {
		if result, failed, err := e.compile(ctx, lang, dir); err != nil {
			return nil, err
		} else if failed {
			return result, nil
		}
	}

	return e.run(ctx, lang, dir, stdin, limits)
}

// compile runs the compile phase. The bool reports a user-visible
// compile failure; the error reports infrastructure trouble.
func (e *ProcessExecutor) compile(ctx context.Context, lang *Language, dir string) (*ExecResult, bool, error) {
	args, err := lang.CompileArgs(dir)
	if err != nil {
		return nil, false, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return &ExecResult{
			Stderr:        args[0] + ": not found",
			ExitCode:      127,
			CompileFailed: true,
		}, true, nil
	}

	cctx, cancel := context.WithTimeout(ctx, e.compileTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(cctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || cctx.Err() != nil {
			return &ExecResult{
				Stderr:        truncate(stderr.String()),
				ExitCode:      exitCodeOf(cmd, 1),
				CompileFailed: true,
			}, true, nil
		}
		return nil, false, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	return nil, false, nil
}

func (e *ProcessExecutor) run(ctx context.Context, lang *Language, dir, stdin string, limits Limits) (*ExecResult, error) {
	args, err := lang.RunArgs(dir)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.SandboxUnavailable)
	}
	binary := args[0]
	if !strings.HasPrefix(binary, "./") {
		if _, err := exec.LookPath(binary); err != nil {
			return &ExecResult{
				Stderr:        binary + ": not found",
				ExitCode:      127,
				CompileFailed: true,
			}, nil
		}
	}

	timeout := time.Duration(limits.TimeMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(rctx, binary, args[1:]...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	result := &ExecResult{
		Stdout: truncate(stdout.String()),
		Stderr: truncate(stderr.String()),
		TimeMs: elapsed,
	}

	if rctx.Err() == context.DeadlineExceeded {
		result.ExitCode = TimeoutExitCode
		return result, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, pkgerrors.Wrap(runErr, pkgerrors.SandboxUnavailable)
	}
	return result, nil
}

func exitCodeOf(cmd *exec.Cmd, fallback int) int {
	if cmd.ProcessState == nil {
		return fallback
	}
	code := cmd.ProcessState.ExitCode()
	if code < 0 {
		return fallback
	}
	return code
}

func truncate(s string) string {
	if len(s) <= maxCapturedOutput {
		return s
	}
	return s[:maxCapturedOutput] + fmt.Sprintf("\n... truncated (%d bytes)", len(s))
}
