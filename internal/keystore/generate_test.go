package keystore

import "testing"

func TestGenerateSecretDeterministic(t *testing.T) {
	ks := New([]byte("test-master-secret"))

	a, err := ks.GenerateSecret("seed-a", "hex32")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	b, err := ks.GenerateSecret("seed-a", "hex32")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if a != b {
		t.Fatalf("expected deterministic output for the same seed and directive")
	}
	if len(a) != 64 {
		t.Fatalf("expected 32 bytes hex-encoded (64 chars), got %d", len(a))
	}
}

func TestGenerateSecretDiffersByDirective(t *testing.T) {
	ks := New([]byte("test-master-secret"))

	hex32, _ := ks.GenerateSecret("seed-a", "hex32")
	pw, _ := ks.GenerateSecret("seed-a", "password")
	if hex32 == pw {
		t.Fatalf("expected different output for different directives")
	}
}

func TestGenerateSecretEd25519(t *testing.T) {
	ks := New([]byte("test-master-secret"))

	out, err := ks.GenerateSecret("seed-a", "ed25519")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(out) < len("ed25519:") || out[:len("ed25519:")] != "ed25519:" {
		t.Fatalf("expected ed25519:<base58> formatted key, got %q", out)
	}
}

func TestGenerateSecretPasswordAvoidsAmbiguousChars(t *testing.T) {
	ks := New([]byte("test-master-secret"))

	out, err := ks.GenerateSecret("seed-a", "password")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(out) != 24 {
		t.Fatalf("expected a 24-character password, got %d chars", len(out))
	}
	for _, c := range out {
		switch c {
		case '0', 'O', '1', 'l', 'I':
			t.Fatalf("password contains ambiguous character %q", c)
		}
	}
}

func TestGenerateSecretUnknownDirective(t *testing.T) {
	ks := New([]byte("test-master-secret"))

	if _, err := ks.GenerateSecret("seed-a", "nonsense"); err == nil {
		t.Fatalf("expected an error for an unknown directive")
	}
}

func TestHasReservedPrefix(t *testing.T) {
	if !HasReservedPrefix("PROTECTED_FOO") {
		t.Fatalf("expected PROTECTED_ prefix to be recognized")
	}
	if HasReservedPrefix("FOO") {
		t.Fatalf("did not expect FOO to be recognized as reserved")
	}
	if HasReservedPrefix("PROTECTED") {
		t.Fatalf("did not expect a bare prefix without trailing underscore content to match incorrectly")
	}
}
