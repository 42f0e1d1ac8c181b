package worker

import "testing"

func TestValidateCargoTomlAcceptsPlainManifest(t *testing.T) {
	manifest := []byte(`
[package]
name = "guest"
version = "0.1.0"

[dependencies]
serde = "1"
`)
	if err := validateCargoToml(manifest); err != nil {
		t.Fatalf("expected a plain manifest to pass, got %v", err)
	}
}

func TestValidateCargoTomlRejectsBuildScript(t *testing.T) {
	manifest := []byte(`
[package]
name = "guest"
build = "build.rs"
`)
	err := validateCargoToml(manifest)
	if err == nil || err.Kind != ErrBuildScriptError {
		t.Fatalf("expected a build-script rejection, got %v", err)
	}
}

func TestValidateCargoTomlRejectsGitDependency(t *testing.T) {
	manifest := []byte(`
[dependencies]
evil = { git = "https://example.com/evil.git" }
`)
	err := validateCargoToml(manifest)
	if err == nil || err.Kind != ErrBuildScriptError {
		t.Fatalf("expected a git-dependency rejection, got %v", err)
	}
}

func TestValidateCargoTomlAllowsRegistryDependencyNamedGit(t *testing.T) {
	manifest := []byte(`
[dependencies]
git2 = "0.18"
`)
	if err := validateCargoToml(manifest); err != nil {
		t.Fatalf("a registry dependency merely named like git should pass, got %v", err)
	}
}
