package vm

import (
	"encoding/json"
	"errors"

	"github.com/outlayer-net/cluster/internal/storage"
)

// storageHost dispatches the guest's storage host calls (spec §4.7 host
// surface item 4) onto C4, scoped to (project_uuid, account_id) and
// stamped with the executing module's wasm_hash - both injected by the
// engine, neither forgeable by the guest.
type storageHost struct {
	store       *storage.Store
	projectUuid string
	accountId   string
	wasmHash    string
}

func newStorageHost(store *storage.Store, projectUuid, accountId, wasmHash string) *storageHost {
	return &storageHost{store: store, projectUuid: projectUuid, accountId: accountId, wasmHash: wasmHash}
}

func (h *storageHost) dispatch(method string, argsJSON []byte) (json.RawMessage, error) {
	switch method {
	case "get":
		var a struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		rec, err := h.store.Get(h.projectUuid, h.accountId, storage.KeyHash(a.Key))
		if errors.Is(err, storage.ErrNotFound) {
			return json.Marshal(map[string]any{"found": false})
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"found": true, "value": rec.EncryptedValue, "is_encrypted": rec.IsEncrypted})

	case "set":
		var a struct {
			Key         string `json:"key"`
			Value       []byte `json:"value"`
			IsEncrypted bool   `json:"is_encrypted"`
		}
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		if err := h.store.Set(h.projectUuid, h.accountId, storage.KeyHash(a.Key), []byte(a.Key), a.Value, h.wasmHash, a.IsEncrypted); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"ok": true})

	case "has":
		var a struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		ok, err := h.store.Has(h.projectUuid, h.accountId, storage.KeyHash(a.Key))
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"exists": ok})

	case "delete":
		var a struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		existed, err := h.store.Delete(h.projectUuid, h.accountId, storage.KeyHash(a.Key))
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"existed": existed})

	case "increment", "decrement":
		var a struct {
			Name  string `json:"name"`
			Delta int64  `json:"delta"`
		}
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		if a.Delta == 0 {
			a.Delta = 1
		}
		var (
			v   int64
			err error
		)
		if method == "increment" {
			v, err = h.store.Increment(h.projectUuid, h.accountId, a.Name, a.Delta)
		} else {
			v, err = h.store.Decrement(h.projectUuid, h.accountId, a.Name, a.Delta)
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"value": v})

	default:
		return nil, errUnknownStorageMethod
	}
}
