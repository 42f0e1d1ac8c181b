package keystore

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/outlayer-net/cluster/pkg/borsh"
)

// nep413Tag is 2^31 + 413, the fixed domain-separation prefix NEP-413
// mandates so a signed "off-chain message" can never collide with a valid
// transaction hash.
const nep413Tag uint32 = 2147484061

// VerifyNep413 checks that signatureB64 is a valid ed25519 signature over
// the NEP-413 payload {message, nonce, recipient, callback_url: None},
// exactly as the dashboard and update_user_secrets construct it (spec
// §4.5): SHA-256(LE32(nep413Tag) ∥ Borsh(payload)), ed25519-verified
// against publicKey in "ed25519:<base58>" form.
func VerifyNep413(message, signatureB64, publicKey, nonceB64, recipient string) error {
	pubBytes, err := decodeNearPublicKey(publicKey)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("keystore: invalid signature base64: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("keystore: invalid signature length %d", len(sig))
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return fmt.Errorf("keystore: invalid nonce base64: %w", err)
	}
	if len(nonce) != 32 {
		return fmt.Errorf("keystore: invalid nonce length %d, expected 32", len(nonce))
	}

	w := borsh.NewWriter()
	w.String(message).FixedBytes(nonce).String(recipient).OptionString(nil)
	payload := w.Bytes()

	toHash := append(append([]byte(nil), borsh.U32LE(nep413Tag)...), payload...)
	hash := sha256.Sum256(toHash)

	if !ed25519.Verify(pubBytes, hash[:], sig) {
		return fmt.Errorf("keystore: NEP-413 signature verification failed")
	}
	return nil
}

func decodeNearPublicKey(publicKey string) (ed25519.PublicKey, error) {
	parts := strings.SplitN(publicKey, ":", 2)
	if len(parts) != 2 || parts[0] != "ed25519" {
		return nil, fmt.Errorf("keystore: invalid public key format, expected \"ed25519:base58...\"")
	}
	raw, err := base58.Decode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid public key base58: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("keystore: invalid public key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// UpdateSecretsMessage reconstructs the exact signed-message string the
// dashboard must have produced, so the handler can reject a mismatch
// before even attempting signature verification (spec §4.5).
func UpdateSecretsMessage(owner, profile string, sortedKeys, sortedProtected []string) string {
	msg := fmt.Sprintf("Update Outlayer secrets for %s:%s", owner, profile)
	if len(sortedKeys) > 0 {
		msg += "\nkeys:" + strings.Join(sortedKeys, ",")
	}
	if len(sortedProtected) > 0 {
		msg += "\nprotected:" + strings.Join(sortedProtected, ",")
	}
	return msg
}
