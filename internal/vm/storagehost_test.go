package vm

import (
	"encoding/json"
	"testing"

	"github.com/outlayer-net/cluster/internal/storage"
)

func TestStorageHostSetThenGetRoundTrip(t *testing.T) {
	h := newStorageHost(storage.NewStore(), "proj-1", "alice.near", "wasm-hash")

	setArgs, _ := json.Marshal(map[string]any{"key": "greeting", "value": []byte("hi"), "is_encrypted": false})
	if _, err := h.dispatch("set", setArgs); err != nil {
		t.Fatalf("set: %v", err)
	}

	getArgs, _ := json.Marshal(map[string]any{"key": "greeting"})
	result, err := h.dispatch("get", getArgs)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var decoded struct {
		Found bool   `json:"found"`
		Value []byte `json:"value"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("decode get result: %v", err)
	}
	if !decoded.Found || string(decoded.Value) != "hi" {
		t.Fatalf("unexpected get result: %+v", decoded)
	}
}

func TestStorageHostGetMissingKeyReportsNotFound(t *testing.T) {
	h := newStorageHost(storage.NewStore(), "proj-1", "alice.near", "wasm-hash")
	args, _ := json.Marshal(map[string]any{"key": "missing"})

	result, err := h.dispatch("get", args)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var decoded struct {
		Found bool `json:"found"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Found {
		t.Fatalf("expected found=false for a missing key")
	}
}

func TestStorageHostHasAndDelete(t *testing.T) {
	h := newStorageHost(storage.NewStore(), "proj-1", "alice.near", "wasm-hash")
	setArgs, _ := json.Marshal(map[string]any{"key": "k", "value": []byte("v")})
	if _, err := h.dispatch("set", setArgs); err != nil {
		t.Fatalf("set: %v", err)
	}

	hasArgs, _ := json.Marshal(map[string]any{"key": "k"})
	result, err := h.dispatch("has", hasArgs)
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	var hasDecoded struct {
		Exists bool `json:"exists"`
	}
	json.Unmarshal(result, &hasDecoded)
	if !hasDecoded.Exists {
		t.Fatalf("expected exists=true")
	}

	delResult, err := h.dispatch("delete", hasArgs)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	var delDecoded struct {
		Existed bool `json:"existed"`
	}
	json.Unmarshal(delResult, &delDecoded)
	if !delDecoded.Existed {
		t.Fatalf("expected existed=true on first delete")
	}

	result2, _ := h.dispatch("has", hasArgs)
	json.Unmarshal(result2, &hasDecoded)
	if hasDecoded.Exists {
		t.Fatalf("expected exists=false after delete")
	}
}

func TestStorageHostIncrementAndDecrement(t *testing.T) {
	h := newStorageHost(storage.NewStore(), "proj-1", "alice.near", "wasm-hash")
	incArgs, _ := json.Marshal(map[string]any{"name": "counter", "delta": 5})

	result, err := h.dispatch("increment", incArgs)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	var decoded struct {
		Value int64 `json:"value"`
	}
	json.Unmarshal(result, &decoded)
	if decoded.Value != 5 {
		t.Fatalf("expected value 5, got %d", decoded.Value)
	}

	decArgs, _ := json.Marshal(map[string]any{"name": "counter", "delta": 2})
	result, err = h.dispatch("decrement", decArgs)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	json.Unmarshal(result, &decoded)
	if decoded.Value != 3 {
		t.Fatalf("expected value 3 after decrement, got %d", decoded.Value)
	}
}

func TestStorageHostScopesToOwnBucket(t *testing.T) {
	store := storage.NewStore()
	alice := newStorageHost(store, "proj-1", "alice.near", "wasm-hash")
	bob := newStorageHost(store, "proj-1", "bob.near", "wasm-hash")

	setArgs, _ := json.Marshal(map[string]any{"key": "shared-name", "value": []byte("alice's value")})
	if _, err := alice.dispatch("set", setArgs); err != nil {
		t.Fatalf("set: %v", err)
	}

	getArgs, _ := json.Marshal(map[string]any{"key": "shared-name"})
	result, err := bob.dispatch("get", getArgs)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var decoded struct {
		Found bool `json:"found"`
	}
	json.Unmarshal(result, &decoded)
	if decoded.Found {
		t.Fatalf("expected bob's bucket to be isolated from alice's")
	}
}

func TestStorageHostUnknownMethod(t *testing.T) {
	h := newStorageHost(storage.NewStore(), "proj-1", "alice.near", "wasm-hash")
	if _, err := h.dispatch("not_a_method", nil); err != errUnknownStorageMethod {
		t.Fatalf("expected errUnknownStorageMethod, got %v", err)
	}
}
