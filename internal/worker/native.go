package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/outlayer-net/cluster/pkg/types"
	"github.com/outlayer-net/cluster/pkg/utils"
)

// NativeCompiler builds a GitHub source directly on the host, the way the
// teacher's own CompileWASM shells out to wat2wasm: a worker advertising
// native compilation carries no execution capability (Capabilities.Validate),
// so the host running this process never also runs untrusted guest code.
//
// Isolation here is process-level rather than container-level: a restricted
// environment (env -i with a minimal allow-list) plus ulimit-bounded memory,
// CPU and file-descriptor ceilings, and a Cargo.toml scan that rejects build
// scripts and git dependencies before cargo ever runs.
type NativeCompiler struct {
	WasiSdkCC     string
	WasiSdkAR     string
	WasiSdkLinker string
	WorkDir       string // parent of per-build temp dirs; defaults to os.TempDir()
}

// Compile clones the repo at the pinned commit, validates its Cargo.toml,
// and runs an isolated cargo build targeting the source's BuildTarget (or
// Config.DefaultBuildTarget when unset).
func (n *NativeCompiler) Compile(ctx context.Context, source types.GitHubSource, limits types.ResourceLimits) ([]byte, *CompilationError, error) {
	buildTarget := source.BuildTarget
	if buildTarget == "" {
		buildTarget = "wasm32-wasip1"
	}

	dir := filepath.Join(n.workDir(), "compile-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, utils.Wrap(err, "create isolated build directory")
	}
	defer os.RemoveAll(dir)

	if cerr := n.cloneRepo(ctx, source, dir, limits); cerr != nil {
		return nil, cerr, nil
	}

	cargoToml, err := os.ReadFile(filepath.Join(dir, "Cargo.toml"))
	if err != nil {
		return nil, &CompilationError{Kind: ErrCompilationError, UserMessage: "repository does not contain a Cargo.toml"}, nil
	}
	if cerr := validateCargoToml(cargoToml); cerr != nil {
		return nil, cerr, nil
	}

	if cerr := n.build(ctx, dir, buildTarget, limits); cerr != nil {
		return nil, cerr, nil
	}

	wasmPath, err := findWasmArtifact(dir, buildTarget)
	if err != nil {
		return nil, &CompilationError{Kind: ErrCompilationError, UserMessage: "build succeeded but produced no .wasm artifact"}, nil
	}
	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, nil, utils.Wrap(err, "read compiled artifact")
	}
	return wasm, nil, nil
}

func (n *NativeCompiler) workDir() string {
	if n.WorkDir != "" {
		return n.WorkDir
	}
	return os.TempDir()
}

func (n *NativeCompiler) cloneRepo(ctx context.Context, source types.GitHubSource, dir string, limits types.ResourceLimits) *CompilationError {
	repoURL := "https://github.com/" + source.Repo + ".git"
	cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout(limits))
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, "git", "clone", "--depth", "50", repoURL, dir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return classifyCompilationError(cloneCtx.Err() != nil, exitCodeOf(err), stdout.String(), stderr.String())
	}

	checkout := exec.CommandContext(cloneCtx, "git", "-C", dir, "checkout", source.Commit)
	stdout.Reset()
	stderr.Reset()
	checkout.Stdout = &stdout
	checkout.Stderr = &stderr
	if err := checkout.Run(); err != nil {
		return classifyCompilationError(cloneCtx.Err() != nil, exitCodeOf(err), stdout.String(), stderr.String())
	}
	return nil
}

// build runs cargo under a restricted environment and ulimit ceilings
// derived from limits, via `bash -c` the way env -i and ulimit compose in a
// shell rather than as separate exec.Command arguments.
func (n *NativeCompiler) build(ctx context.Context, dir, buildTarget string, limits types.ResourceLimits) *CompilationError {
	buildCtx, cancel := context.WithTimeout(ctx, time.Duration(limits.MaxWallSeconds)*time.Second)
	defer cancel()

	memKB := uint64(limits.MaxMemoryMB) * 1024
	shellCmd := fmt.Sprintf(
		"ulimit -v %d; ulimit -t %d; ulimit -u 64; cd %q && cargo build --release --target %s",
		memKB, limits.MaxWallSeconds, dir, buildTarget,
	)

	cmd := exec.CommandContext(buildCtx, "bash", "-c", shellCmd)
	cmd.Env = n.restrictedEnv()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return classifyCompilationError(buildCtx.Err() != nil, exitCodeOf(err), stdout.String(), stderr.String())
	}
	return nil
}

// restrictedEnv is the minimal variable set cargo needs: no ambient
// credentials, no user environment leakage into the guest build.
func (n *NativeCompiler) restrictedEnv() []string {
	env := []string{
		"HOME=/root",
		"CARGO_HOME=/root/.cargo",
		"RUSTUP_HOME=/root/.rustup",
		"PATH=/root/.cargo/bin:/usr/local/bin:/usr/bin:/bin",
	}
	if n.WasiSdkCC != "" {
		env = append(env, "CC="+n.WasiSdkCC)
	}
	if n.WasiSdkAR != "" {
		env = append(env, "AR="+n.WasiSdkAR)
	}
	if n.WasiSdkLinker != "" {
		env = append(env, "CARGO_TARGET_WASM32_WASIP1_LINKER="+n.WasiSdkLinker)
	}
	return env
}

func cloneTimeout(limits types.ResourceLimits) time.Duration {
	d := time.Duration(limits.MaxWallSeconds) * time.Second / 4
	if d < 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
