package worker

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
)

var errNoWasmArtifact = errors.New("worker: no .wasm file found under target/<triple>/release")

// findWasmArtifact locates the single .wasm file cargo produced under
// target/<buildTarget>/release, the conventional cargo output layout.
func findWasmArtifact(dir, buildTarget string) (string, error) {
	releaseDir := filepath.Join(dir, "target", buildTarget, "release")
	var found string
	err := filepath.WalkDir(releaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint - directory may not exist yet if the build failed
		}
		if !d.IsDir() && strings.HasSuffix(path, ".wasm") {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", errNoWasmArtifact
	}
	return found, nil
}
