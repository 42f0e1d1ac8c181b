package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/outlayer-net/cluster/pkg/borsh"
)

func signNep413(t *testing.T, priv ed25519.PrivateKey, message, recipient string, nonce [32]byte) (sigB64, nonceB64 string) {
	t.Helper()
	w := borsh.NewWriter()
	w.String(message).FixedBytes(nonce[:]).String(recipient).OptionString(nil)
	toHash := append(append([]byte(nil), borsh.U32LE(nep413Tag)...), w.Bytes()...)
	hash := sha256.Sum256(toHash)
	sig := ed25519.Sign(priv, hash[:])
	return base64.StdEncoding.EncodeToString(sig), base64.StdEncoding.EncodeToString(nonce[:])
}

func TestVerifyNep413RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	publicKey := "ed25519:" + base58.Encode(pub)
	message := "Update Outlayer secrets for owner.near:default"
	recipient := "keystore.outlayer.near"
	var nonce [32]byte
	nonce[0] = 7

	sigB64, nonceB64 := signNep413(t, priv, message, recipient, nonce)

	if err := VerifyNep413(message, sigB64, publicKey, nonceB64, recipient); err != nil {
		t.Fatalf("expected signature to verify, got: %v", err)
	}
}

func TestVerifyNep413RejectsTamperedMessage(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	publicKey := "ed25519:" + base58.Encode(pub)
	message := "Update Outlayer secrets for owner.near:default"
	recipient := "keystore.outlayer.near"
	var nonce [32]byte

	sigB64, nonceB64 := signNep413(t, priv, message, recipient, nonce)

	if err := VerifyNep413(message+"\nkeys:extra", sigB64, publicKey, nonceB64, recipient); err == nil {
		t.Fatalf("expected verification to fail for a tampered message")
	}
}

func TestUpdateSecretsMessage(t *testing.T) {
	got := UpdateSecretsMessage("owner.near", "default", []string{"A", "B"}, []string{"PROTECTED_X"})
	want := "Update Outlayer secrets for owner.near:default\nkeys:A,B\nprotected:PROTECTED_X"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUpdateSecretsMessageNoKeys(t *testing.T) {
	got := UpdateSecretsMessage("owner.near", "default", nil, nil)
	want := "Update Outlayer secrets for owner.near:default"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
