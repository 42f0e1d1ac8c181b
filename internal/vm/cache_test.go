package vm

import "testing"

// fakeSigner signs by concatenation and verifies by exact match, standing
// in for keystore.CacheSigner's ed25519 signature in these tests.
type fakeSigner struct {
	rejectAll bool
}

func (f *fakeSigner) Sign(wasmChecksum, nativeBytes []byte) []byte {
	return append(append([]byte(nil), wasmChecksum...), nativeBytes...)
}

func (f *fakeSigner) Verify(wasmChecksum, nativeBytes, signature []byte) bool {
	if f.rejectAll {
		return false
	}
	want := f.Sign(wasmChecksum, nativeBytes)
	if len(want) != len(signature) {
		return false
	}
	for i := range want {
		if want[i] != signature[i] {
			return false
		}
	}
	return true
}

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(&fakeSigner{}, 1024)
	c.Put("checksum-a", []byte("compiled-artifact-a"))

	got, ok := c.Get("checksum-a")
	if !ok {
		t.Fatalf("expected a cache hit")
	}
	if string(got) != "compiled-artifact-a" {
		t.Fatalf("unexpected cached artifact: %q", got)
	}
}

func TestCacheMissOnUnknownKey(t *testing.T) {
	c := NewCache(&fakeSigner{}, 1024)
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected a miss for an unknown checksum")
	}
}

func TestCachePurgesOnSignatureMismatch(t *testing.T) {
	c := NewCache(&fakeSigner{}, 1024)
	c.Put("checksum-a", []byte("artifact"))
	c.signer = &fakeSigner{rejectAll: true} // simulate a restart with a fresh signing key

	if _, ok := c.Get("checksum-a"); ok {
		t.Fatalf("expected a signature-mismatch miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expected the failed entry to be purged, Len() = %d", c.Len())
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(&fakeSigner{}, 30)
	c.Put("a", make([]byte, 10))
	c.Put("b", make([]byte, 10))
	// touch "a" so "b" becomes the least recently used entry
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to be present")
	}
	c.Put("c", make([]byte, 15))

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to still be cached")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("expected c to be cached")
	}
}
