package vm

import (
	"container/list"
	"sync"
)

// ArtifactSigner signs/verifies a compiled artifact's integrity. Satisfied
// by *keystore.CacheSigner; abstracted here so Cache can be exercised
// without a TEE-backed signing key.
type ArtifactSigner interface {
	Sign(wasmChecksum, nativeBytes []byte) []byte
	Verify(wasmChecksum, nativeBytes, signature []byte) bool
}

type cacheEntry struct {
	checksum string
	native   []byte
	sig      []byte
}

// Cache is the precompilation cache (spec §4.7 "Precompilation cache
// integration"): a serialized wasmer Module, keyed by the source wasm's
// checksum, signed so that a process restart (fresh ephemeral signing key
// in C5) invalidates every entry rather than risk deserialising bytes
// produced by a different engine build. Evicted LRU-style against a size
// budget; mutations are local to the owning worker (spec §5, no
// cross-worker sharing).
type Cache struct {
	mu        sync.Mutex
	signer    ArtifactSigner
	maxBytes  int64
	usedBytes int64
	order     *list.List
	index     map[string]*list.Element
}

// NewCache constructs an empty cache bounded to maxBytes of serialized
// artifact data.
func NewCache(signer ArtifactSigner, maxBytes int64) *Cache {
	return &Cache{
		signer:   signer,
		maxBytes: maxBytes,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Get returns the cached native artifact for wasmChecksum. A signature
// mismatch (restart, tampering, or an engine-version change on the signed
// bytes) purges the entry and reports a miss rather than risking a bad
// deserialise.
func (c *Cache) Get(wasmChecksum string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[wasmChecksum]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if !c.signer.Verify([]byte(wasmChecksum), entry.native, entry.sig) {
		c.removeLocked(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.native, true
}

// Put signs and inserts a freshly compiled artifact, evicting the least
// recently used entries until usage fits within maxBytes.
func (c *Cache) Put(wasmChecksum string, native []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[wasmChecksum]; ok {
		c.removeLocked(el)
	}

	sig := c.signer.Sign([]byte(wasmChecksum), native)
	entry := &cacheEntry{checksum: wasmChecksum, native: native, sig: sig}
	el := c.order.PushFront(entry)
	c.index[wasmChecksum] = el
	c.usedBytes += int64(len(native))

	for c.usedBytes > c.maxBytes {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeLocked(back)
	}
}

// Invalidate purges a single entry, e.g. after a cache-related
// compilation_error deserialisation failure.
func (c *Cache) Invalidate(wasmChecksum string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[wasmChecksum]; ok {
		c.removeLocked(el)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.index, entry.checksum)
	c.order.Remove(el)
	c.usedBytes -= int64(len(entry.native))
}

// Len reports the number of cached artifacts, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
