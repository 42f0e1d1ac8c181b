package chain

import (
	"crypto/ed25519"
	"strings"

	"github.com/mr-tron/base58"
)

// Signer carries the credentials used to sign one transaction. The chain
// adapter never stores these — every call site (C5 for keystore ops, guest
// code via C7's host surface, C6 for resolve calls) supplies its own Signer,
// per spec §9.
type Signer struct {
	AccountId  string
	PrivateKey ed25519.PrivateKey
}

// PublicKeyBase58 formats the signer's public key in NEAR's
// "ed25519:<base58>" wire format.
func (s Signer) PublicKeyBase58() string {
	return "ed25519:" + base58.Encode(s.PrivateKey.Public().(ed25519.PublicKey))
}

// SignerFromPrivateKey parses a NEAR-format private key - "ed25519:<base58>"
// or bare base58 - into a Signer for accountId. Used by every process entry
// point that loads an operator key from configuration.
func SignerFromPrivateKey(accountId, privateKey string) (Signer, error) {
	raw, err := base58.Decode(strings.TrimPrefix(privateKey, "ed25519:"))
	if err != nil {
		return Signer{}, err
	}
	return Signer{AccountId: accountId, PrivateKey: ed25519.PrivateKey(raw)}, nil
}
