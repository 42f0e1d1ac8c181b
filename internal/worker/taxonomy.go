package worker

import (
	"fmt"
	"strings"
)

// CompilationError is a classified build failure: UserMessage is safe to
// return to the requester, Stderr/Stdout/ExitCode are retained for worker
// logs only.
type CompilationError struct {
	Kind       string
	UserMessage string
	Stderr     string
	Stdout     string
	ExitCode   int
}

func (e *CompilationError) Error() string { return e.UserMessage }

// Compilation error kinds (spec §4.6.1's classification taxonomy).
const (
	ErrRepositoryNotFound    = "repository_not_found"
	ErrRepositoryAccessDenied = "repository_access_denied"
	ErrRustCompilationError  = "rust_compilation_error"
	ErrDependencyNotFound    = "dependency_not_found"
	ErrBuildScriptError      = "build_script_error"
	ErrOutOfMemory           = "out_of_memory"
	ErrTimeout               = "timeout"
	ErrCompilationError      = "compilation_error"
)

// classifyCompilationError maps a failed build's exit code and combined
// output to one of the named kinds, so the requester sees a stable,
// scriptable error taxonomy rather than raw compiler noise.
func classifyCompilationError(timedOut bool, exitCode int, stdout, stderr string) *CompilationError {
	combined := stdout + "\n" + stderr
	lower := strings.ToLower(combined)

	base := &CompilationError{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}

	switch {
	case timedOut:
		base.Kind = ErrTimeout
		base.UserMessage = "compilation exceeded its time budget"
	case strings.Contains(lower, "could not find repository") || strings.Contains(lower, "repository not found") || strings.Contains(lower, "remote: not found"):
		base.Kind = ErrRepositoryNotFound
		base.UserMessage = "source repository was not found"
	case strings.Contains(lower, "permission denied") && strings.Contains(lower, "clone"):
		base.Kind = ErrRepositoryAccessDenied
		base.UserMessage = "source repository could not be accessed"
	case strings.Contains(lower, "authentication failed") || strings.Contains(lower, "could not read username"):
		base.Kind = ErrRepositoryAccessDenied
		base.UserMessage = "source repository requires authentication the worker does not have"
	case strings.Contains(lower, "build script") || strings.Contains(lower, "build.rs"):
		base.Kind = ErrBuildScriptError
		base.UserMessage = "source defines a disallowed build script"
	case strings.Contains(lower, "no matching package named") || strings.Contains(lower, "failed to select a version") || strings.Contains(lower, "unable to get packages from source"):
		base.Kind = ErrDependencyNotFound
		base.UserMessage = "a dependency could not be resolved"
	case strings.Contains(lower, "out of memory") || strings.Contains(lower, "cannot allocate memory") || strings.Contains(lower, "signal: killed"):
		base.Kind = ErrOutOfMemory
		base.UserMessage = "compilation exceeded its memory budget"
	case strings.Contains(lower, "error[e") || strings.Contains(lower, "error: aborting due to"):
		base.Kind = ErrRustCompilationError
		base.UserMessage = "source failed to compile"
	default:
		base.Kind = ErrCompilationError
		base.UserMessage = fmt.Sprintf("compilation failed with exit code %d", exitCode)
	}
	return base
}
