// Package keystore implements the TEE-resident secret custodian (C5): key
// derivation from a DAO-bound master secret, deterministic encryption for
// CAS-compatible re-encryption, sealed-box decryption of client-submitted
// secrets, generated-secret directives, compiled-cache artifact signing and
// the payment-key yield/resume path.
//
// There is no production crypto.rs in the reference material to ground the
// primitive choices on directly (only the HTTP handlers and the bootstrap
// flow survived distillation), so the scheme here is derived from the
// invariants spec.md states explicitly: seed-keyed determinism (so C4's
// set_if_equals CAS works over ciphertext bytes) and a public key usable by
// an external caller for client-side encryption. X25519 + HKDF + ChaCha20-
// Poly1305 (all already in the pack's golang.org/x/crypto require) are the
// natural fit; see DESIGN.md.
package keystore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
)

// ciphertext scheme markers, the first byte of every value this package
// produces.
const (
	schemeSealedBox     byte = 1 // opened with the seed's derived X25519 keypair, written by an external client
	schemeDeterministic byte = 2 // derived symmetric key + plaintext-derived nonce, written by this keystore
)

var (
	ErrNotReady        = errors.New("keystore: not ready, waiting for DAO approval")
	ErrEmptyCiphertext = errors.New("keystore: empty ciphertext")
	ErrUnknownScheme   = errors.New("keystore: unknown ciphertext scheme")
)

// Keystore holds the ephemeral master secret and derives every other key
// from it. The master secret never leaves process memory and is never
// written to disk in TEE mode (spec §4.5).
type Keystore struct {
	mu     sync.RWMutex
	secret []byte
	ready  bool
}

// New wraps an already-obtained master secret. Use SetReady once the
// bootstrap state machine reaches the Ready state.
func New(masterSecret []byte) *Keystore {
	return &Keystore{secret: append([]byte(nil), masterSecret...)}
}

// SetReady flips the keystore into its serving state; before this, every
// cryptographic endpoint must reject requests (spec §4.5).
func (k *Keystore) SetReady(ready bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ready = ready
}

func (k *Keystore) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.ready
}

func (k *Keystore) masterSecret() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.secret
}

// Replace swaps the master secret, used when a fresh MPC key-request
// result supersedes a previous one (e.g. key rotation after re-approval).
func (k *Keystore) Replace(masterSecret []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.secret = append([]byte(nil), masterSecret...)
}

func (k *Keystore) expand(seed, info string, out []byte) error {
	h := hkdf.New(sha256.New, k.masterSecret(), []byte(seed), []byte(info))
	_, err := io.ReadFull(h, out)
	return err
}

func (k *Keystore) deriveSymmetricKey(seed string) ([32]byte, error) {
	var key [32]byte
	err := k.expand(seed, "outlayer-keystore-symmetric-v1", key[:])
	return key, err
}

// deriveX25519KeyPair derives a deterministic X25519 keypair for a seed, so
// any approved replica derives the same keypair from the same master
// secret (spec §4.5, bootstrap step 5).
func (k *Keystore) deriveX25519KeyPair(seed string) (pub, priv [32]byte, err error) {
	if err = k.expand(seed, "outlayer-keystore-x25519-v1", priv[:]); err != nil {
		return
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return
}

// PublicKeyHex returns the hex-encoded X25519 public key for a seed, for an
// external caller (e.g. a dashboard) to encrypt secrets client-side before
// submission (spec §4.5 /pubkey).
func (k *Keystore) PublicKeyHex(seed string) (string, error) {
	pub, _, err := k.deriveX25519KeyPair(seed)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pub[:]), nil
}

// Encrypt deterministically encrypts plaintext under seed: identical
// (seed, plaintext) pairs always produce identical ciphertext, which is
// what makes C4's set_if_equals a valid ciphertext-level CAS (spec §8/§9).
// The nonce is the plaintext-keyed HMAC truncated to the AEAD's nonce size,
// stored alongside the ciphertext (nonces are not secret).
func (k *Keystore) Encrypt(seed string, plaintext []byte) ([]byte, error) {
	key, err := k.deriveSymmetricKey(seed)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key[:])
	mac.Write(plaintext)
	nonce := mac.Sum(nil)[:aead.NonceSize()]

	ct := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, 1+len(nonce)+len(ct))
	out = append(out, schemeDeterministic)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// Decrypt opens a ciphertext produced either by Encrypt (this keystore) or
// by an external caller using the seed's sealed-box public key.
func (k *Keystore) Decrypt(seed string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyCiphertext
	}
	scheme, body := data[0], data[1:]
	switch scheme {
	case schemeDeterministic:
		key, err := k.deriveSymmetricKey(seed)
		if err != nil {
			return nil, err
		}
		aead, err := chacha20poly1305.New(key[:])
		if err != nil {
			return nil, err
		}
		if len(body) < aead.NonceSize() {
			return nil, fmt.Errorf("keystore: ciphertext shorter than nonce")
		}
		nonce, ct := body[:aead.NonceSize()], body[aead.NonceSize():]
		return aead.Open(nil, nonce, ct, nil)

	case schemeSealedBox:
		pub, priv, err := k.deriveX25519KeyPair(seed)
		if err != nil {
			return nil, err
		}
		plaintext, ok := box.OpenAnonymous(nil, body, &pub, &priv)
		if !ok {
			return nil, fmt.Errorf("keystore: sealed box authentication failed")
		}
		return plaintext, nil

	default:
		return nil, ErrUnknownScheme
	}
}
