package executor

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Language describes how to compile and run one supported language.
// Command templates are shell-like strings split with shlex; the
// placeholders {src}, {bin} and {dir} are substituted after splitting
// so file names with spaces cannot smuggle extra arguments in.
type Language struct {
	Name       string
	SourceFile string
	BinaryFile string
	CompileCmd string
	RunCmd     string

	// Image is the container image used by the docker backend.
	Image string
}

// Compiled reports whether the language has a compile phase.
func (l *Language) Compiled() bool {
	return l.CompileCmd != ""
}

// CompileArgs returns the compile command argv with placeholders filled.
func (l *Language) CompileArgs(dir string) ([]string, error) {
	return l.buildArgs(l.CompileCmd, dir)
}

// RunArgs returns the run command argv with placeholders filled.
func (l *Language) RunArgs(dir string) ([]string, error) {
	return l.buildArgs(l.RunCmd, dir)
}

func (l *Language) buildArgs(template, dir string) ([]string, error) {
	parts, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("bad command template %q: %w", template, err)
	}
	args := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ReplaceAll(part, "{src}", l.SourceFile)
		part = strings.ReplaceAll(part, "{bin}", l.BinaryFile)
		part = strings.ReplaceAll(part, "{dir}", dir)
		args = append(args, part)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command template")
	}
	return args, nil
}

// Registry maps language names to their definitions.
type Registry struct {
	languages map[string]*Language
}

// NewRegistry returns a registry with the built-in language set.
func NewRegistry() *Registry {
	r := &Registry{languages: make(map[string]*Language)}
	for _, l := range builtinLanguages() {
		r.languages[l.Name] = l
	}
	return r
}

// Lookup returns the language definition, or ok=false if unsupported.
func (r *Registry) Lookup(name string) (*Language, bool) {
	l, ok := r.languages[strings.ToLower(strings.TrimSpace(name))]
	return l, ok
}

// Names lists the supported language names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.languages))
	for name := range r.languages {
		names = append(names, name)
	}
	return names
}

func builtinLanguages() []*Language {
	return []*Language{
		{
			Name:       "python",
			SourceFile: "solution.py",
			RunCmd:     "python3 {src}",
			Image:      "python:3.11-alpine",
		},
		{
			Name:       "cpp",
			SourceFile: "solution.cpp",
			BinaryFile: "solution",
			CompileCmd: "g++ -O2 -std=c++17 -o {bin} {src}",
			RunCmd:     "./{bin}",
			Image:      "gcc:13",
		},
		{
			Name:       "java",
			SourceFile: "Main.java",
			BinaryFile: "Main",
			CompileCmd: "javac {src}",
			RunCmd:     "java -Xss64m {bin}",
			Image:      "eclipse-temurin:17-jdk",
		},
		{
			Name:       "javascript",
			SourceFile: "solution.js",
			RunCmd:     "node {src}",
			Image:      "node:20-alpine",
		},
	}
}
