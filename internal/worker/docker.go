package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/outlayer-net/cluster/pkg/types"
	"github.com/outlayer-net/cluster/pkg/utils"
)

// DockerCompiler builds a GitHub source inside a throwaway container,
// following the same exec.Command precedent as NativeCompiler but with the
// container itself as the isolation boundary - no Cargo.toml scan is
// needed since a malicious build script can only escape to the container's
// own filesystem, not the worker host.
type DockerCompiler struct {
	Image   string // e.g. "outlayer/rust-wasi-builder:latest"
	WorkDir string
}

func (d *DockerCompiler) Compile(ctx context.Context, source types.GitHubSource, limits types.ResourceLimits) ([]byte, *CompilationError, error) {
	buildTarget := source.BuildTarget
	if buildTarget == "" {
		buildTarget = "wasm32-wasip1"
	}

	dir := filepath.Join(d.workDir(), "compile-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, utils.Wrap(err, "create container workspace")
	}
	defer os.RemoveAll(dir)

	buildCtx, cancel := context.WithTimeout(ctx, time.Duration(limits.MaxWallSeconds)*time.Second)
	defer cancel()

	args := []string{
		"run", "--rm",
		"--memory", fmt.Sprintf("%dm", limits.MaxMemoryMB),
		"--network", "host", // outbound clone only; no inbound surface
		"-v", dir + ":/workspace",
		d.Image,
		"build.sh", "https://github.com/" + source.Repo + ".git", source.Commit, buildTarget,
	}
	cmd := exec.CommandContext(buildCtx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyCompilationError(buildCtx.Err() != nil, exitCodeOf(err), stdout.String(), stderr.String()), nil
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

func (d *DockerCompiler) workDir() string {
	if d.WorkDir != "" {
		return d.WorkDir
	}
	return os.TempDir()
}
