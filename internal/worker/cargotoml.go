package worker

import "regexp"

// cargoBuildScriptPattern and cargoGitDependencyPattern guard the
// native-isolated compilation mode, which runs cargo directly on the host
// rather than inside a container: a build script runs arbitrary code at
// compile time, and a git dependency escapes the pinned-commit guarantee
// the coordinator already verified. Containerised compilation does not need
// this check since the container itself is the isolation boundary.
var (
	cargoBuildScriptPattern   = regexp.MustCompile(`(?m)^\s*build\s*=`)
	cargoGitDependencyPattern = regexp.MustCompile(`(?m)git\s*=\s*["']https?://`)
)

// validateCargoToml rejects a Cargo.toml that declares a build script or a
// git dependency, both disallowed under native-isolated compilation.
func validateCargoToml(contents []byte) *CompilationError {
	s := string(contents)
	if cargoBuildScriptPattern.MatchString(s) {
		return &CompilationError{Kind: ErrBuildScriptError, UserMessage: "Cargo.toml declares a build script, which is disallowed for native-isolated compilation"}
	}
	if cargoGitDependencyPattern.MatchString(s) {
		return &CompilationError{Kind: ErrBuildScriptError, UserMessage: "Cargo.toml declares a git dependency, which is disallowed for native-isolated compilation"}
	}
	return nil
}
