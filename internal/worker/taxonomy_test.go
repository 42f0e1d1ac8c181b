package worker

import "testing"

func TestClassifyCompilationErrorTimeout(t *testing.T) {
	e := classifyCompilationError(true, -1, "", "")
	if e.Kind != ErrTimeout {
		t.Fatalf("expected %s, got %s", ErrTimeout, e.Kind)
	}
}

func TestClassifyCompilationErrorRepositoryNotFound(t *testing.T) {
	e := classifyCompilationError(false, 128, "", "remote: Not Found\nfatal: repository not found")
	if e.Kind != ErrRepositoryNotFound {
		t.Fatalf("expected %s, got %s", ErrRepositoryNotFound, e.Kind)
	}
}

func TestClassifyCompilationErrorAuthFailure(t *testing.T) {
	e := classifyCompilationError(false, 128, "", "fatal: Authentication failed for 'https://github.com/x/y.git/'")
	if e.Kind != ErrRepositoryAccessDenied {
		t.Fatalf("expected %s, got %s", ErrRepositoryAccessDenied, e.Kind)
	}
}

func TestClassifyCompilationErrorOutOfMemory(t *testing.T) {
	e := classifyCompilationError(false, 137, "", "Killed\nsignal: killed")
	if e.Kind != ErrOutOfMemory {
		t.Fatalf("expected %s, got %s", ErrOutOfMemory, e.Kind)
	}
}

func TestClassifyCompilationErrorDependencyNotFound(t *testing.T) {
	e := classifyCompilationError(false, 101, "", "error: no matching package named `foo` found")
	if e.Kind != ErrDependencyNotFound {
		t.Fatalf("expected %s, got %s", ErrDependencyNotFound, e.Kind)
	}
}

func TestClassifyCompilationErrorRustCompilationError(t *testing.T) {
	e := classifyCompilationError(false, 101, "", "error[E0425]: cannot find value `x`\nerror: aborting due to 1 previous error")
	if e.Kind != ErrRustCompilationError {
		t.Fatalf("expected %s, got %s", ErrRustCompilationError, e.Kind)
	}
}

func TestClassifyCompilationErrorFallsBackToGeneric(t *testing.T) {
	e := classifyCompilationError(false, 1, "", "something unexpected happened")
	if e.Kind != ErrCompilationError {
		t.Fatalf("expected %s, got %s", ErrCompilationError, e.Kind)
	}
}
