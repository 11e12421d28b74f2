package executor

import (
	"context"
	"testing"

	pkgerrors "codebattle/pkg/errors"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"python", "cpp", "java", "javascript"} {
		if _, ok := r.Lookup(name); !ok {
			t.Fatalf("Lookup(%q) = false, want true", name)
		}
	}
	if _, ok := r.Lookup("brainfuck"); ok {
		t.Fatal("Lookup of unsupported language succeeded")
	}
	if _, ok := r.Lookup("  PYTHON "); !ok {
		t.Fatal("Lookup should normalize case and whitespace")
	}
}

func TestCompileArgsSubstitution(t *testing.T) {
	r := NewRegistry()
	cpp, _ := r.Lookup("cpp")

	args, err := cpp.CompileArgs("/work")
	if err != nil {
		t.Fatalf("CompileArgs returned error: %v", err)
	}
	want := []string{"g++", "-O2", "-std=c++17", "-o", "solution", "solution.cpp"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestRunArgsInterpreted(t *testing.T) {
	r := NewRegistry()
	py, _ := r.Lookup("python")
	if py.Compiled() {
		t.Fatal("python should not have a compile phase")
	}
	args, err := py.RunArgs("/work")
	if err != nil {
		t.Fatalf("RunArgs returned error: %v", err)
	}
	if args[0] != "python3" || args[1] != "solution.py" {
		t.Fatalf("args = %v", args)
	}
}

func TestProcessExecutorUnsupportedLanguage(t *testing.T) {
	e := NewProcessExecutor(nil)
	_, err := e.Execute(context.Background(), "cobol", "x", "", Limits{TimeMs: 100})
	if err == nil {
		t.Fatal("expected error for unsupported language")
	}
	if !pkgerrors.Is(err, pkgerrors.LanguageNotSupported) {
		t.Fatalf("error code = %v, want LanguageNotSupported", pkgerrors.GetCode(err))
	}
}

func TestTimedOut(t *testing.T) {
	r := &ExecResult{ExitCode: TimeoutExitCode}
	if !r.TimedOut() {
		t.Fatal("TimedOut should report true for the timeout exit code")
	}
	if (&ExecResult{ExitCode: 1}).TimedOut() {
		t.Fatal("TimedOut should report false for real exit codes")
	}
}
