package keystore

import "testing"

func TestCacheSignerRoundTrip(t *testing.T) {
	signer, err := NewCacheSigner()
	if err != nil {
		t.Fatalf("NewCacheSigner: %v", err)
	}
	checksum := []byte("wasm-checksum")
	native := []byte("compiled native artifact bytes")

	sig := signer.Sign(checksum, native)
	if !signer.Verify(checksum, native, sig) {
		t.Fatalf("expected signature to verify against the same signer")
	}
}

func TestCacheSignerRejectsTamperedArtifact(t *testing.T) {
	signer, err := NewCacheSigner()
	if err != nil {
		t.Fatalf("NewCacheSigner: %v", err)
	}
	checksum := []byte("wasm-checksum")
	native := []byte("compiled native artifact bytes")

	sig := signer.Sign(checksum, native)
	if signer.Verify(checksum, []byte("different bytes"), sig) {
		t.Fatalf("expected verification to fail for tampered native bytes")
	}
}

func TestCacheSignerFailsAcrossRestarts(t *testing.T) {
	first, err := NewCacheSigner()
	if err != nil {
		t.Fatalf("NewCacheSigner: %v", err)
	}
	second, err := NewCacheSigner()
	if err != nil {
		t.Fatalf("NewCacheSigner: %v", err)
	}
	checksum := []byte("wasm-checksum")
	native := []byte("compiled native artifact bytes")

	sig := first.Sign(checksum, native)
	if second.Verify(checksum, native, sig) {
		t.Fatalf("a signature from a previous process incarnation must not verify")
	}
}
