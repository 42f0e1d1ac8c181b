package keystore

import (
	"crypto/ed25519"
	"crypto/sha256"
	"sync"
)

// CacheSigner signs and verifies precompiled WASM artifacts for C7's
// on-disk cache. The signing key lives only in TEE memory and is
// regenerated every restart, so a cache surviving a keystore reboot always
// fails verification and gets purged (spec §4.5 compiled-cache signing).
type CacheSigner struct {
	mu   sync.RWMutex
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewCacheSigner generates a fresh ephemeral signing key.
func NewCacheSigner() (*CacheSigner, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &CacheSigner{priv: priv, pub: pub}, nil
}

func (c *CacheSigner) message(wasmChecksum, nativeBytes []byte) []byte {
	nativeDigest := sha256.Sum256(nativeBytes)
	return append(append([]byte(nil), wasmChecksum...), nativeDigest[:]...)
}

// Sign produces a signature over wasm_checksum || SHA-256(native_bytes).
func (c *CacheSigner) Sign(wasmChecksum, nativeBytes []byte) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ed25519.Sign(c.priv, c.message(wasmChecksum, nativeBytes))
}

// Verify checks a cached artifact's signature against the current
// in-memory signing key. Any signature produced by a previous process
// incarnation fails, by construction.
func (c *CacheSigner) Verify(wasmChecksum, nativeBytes, signature []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ed25519.Verify(c.pub, c.message(wasmChecksum, nativeBytes), signature)
}
