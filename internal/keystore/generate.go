package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// reservedSecretPrefix marks secrets minted inside the TEE and never seen
// in plaintext by anyone outside it (spec §4.5 /add_generated_secret).
const reservedSecretPrefix = "PROTECTED_"

// GenerateSecret deterministically derives a secret value from the master
// secret, the target seed and a generation directive, so the same
// (seed, directive) always reproduces the same secret across any approved
// keystore replica. Supported directives: "hex32", "ed25519", "password".
func (k *Keystore) GenerateSecret(seed, directive string) (string, error) {
	info := "generate_outlayer_secret:" + directive
	var raw [32]byte
	if err := k.expand(seed, info, raw[:]); err != nil {
		return "", err
	}

	switch directive {
	case "hex32":
		return hex.EncodeToString(raw[:]), nil

	case "ed25519":
		priv := ed25519.NewKeyFromSeed(raw[:])
		pub := priv.Public().(ed25519.PublicKey)
		return "ed25519:" + base58.Encode(pub), nil

	case "password":
		return derivePassword(raw[:]), nil

	default:
		return "", fmt.Errorf("keystore: unknown generation directive %q", directive)
	}
}

// passwordAlphabet avoids visually ambiguous characters (0/O, 1/l/I).
const passwordAlphabet = "23456789abcdefghjkmnpqrstuvwxyzABCDEFGHJKMNPQRSTUVWXYZ"

// derivePassword turns 32 pseudorandom bytes into a 24-character readable
// password by reducing each byte modulo the alphabet size.
func derivePassword(raw []byte) string {
	const length = 24
	out := make([]byte, 0, length)
	for i := 0; len(out) < length; i++ {
		out = append(out, passwordAlphabet[int(raw[i%len(raw)])%len(passwordAlphabet)])
		if i > 0 && i%len(raw) == len(raw)-1 {
			// Re-salt by rotating so repeated passes over `raw` don't repeat
			// the same output character at the same alphabet index.
			for j := range raw {
				raw[j] = raw[j] ^ byte(i)
			}
		}
	}
	return string(out)
}

// HasReservedPrefix reports whether key is reserved for TEE-generated
// secrets.
func HasReservedPrefix(key string) bool {
	return len(key) >= len(reservedSecretPrefix) && key[:len(reservedSecretPrefix)] == reservedSecretPrefix
}
