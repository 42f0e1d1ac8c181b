// Package storage implements the encrypted per-project KV store (C4).
// Records are keyed by (project_uuid, account_id, key_hash) where key_hash
// is SHA-256 of the caller's plaintext key; project_uuid is required on
// every operation, and there is no cross-project writing (spec §4.4).
//
// The store itself never encrypts or decrypts — it is byte-agnostic, which
// is what makes set_if_equals a valid ciphertext-level compare-and-swap
// (spec §9): callers (internal/keystore, guest code through internal/vm)
// are responsible for producing deterministic ciphertext.
//
// The in-memory map here mirrors the teacher's core/virtual_machine.go
// memState shape (a mutex-guarded map behind a narrow interface) so a real
// database can later implement the same Store interface.
package storage

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/outlayer-net/cluster/pkg/types"
)

// KeyHash returns the SHA-256 digest of a plaintext key.
func KeyHash(plaintextKey string) [32]byte {
	return sha256.Sum256([]byte(plaintextKey))
}

type recordKey struct {
	projectUuid string
	accountId   string
	keyHash     [32]byte
}

// Store is the in-memory implementation of the storage service. Safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	records map[recordKey]types.StorageRecord
	// counters tracks best-effort per-(project,account) usage; divergence
	// from reality is tolerated and recomputable (spec §4.4).
	counters map[string]int64
}

// NewStore constructs an empty storage service.
func NewStore() *Store {
	return &Store{
		records:  make(map[recordKey]types.StorageRecord),
		counters: make(map[string]int64),
	}
}

func rk(projectUuid, accountId string, keyHash [32]byte) recordKey {
	return recordKey{projectUuid: projectUuid, accountId: accountId, keyHash: keyHash}
}

func usageKey(projectUuid, accountId string) string {
	return projectUuid + ":" + accountId
}

func (s *Store) bumpUsage(projectUuid, accountId string, delta int64) {
	s.counters[usageKey(projectUuid, accountId)] += delta
}

// ErrNotFound is returned by Get/Delete/etc. when no record exists.
var ErrNotFound = fmt.Errorf("storage: record not found")

// ErrForbidden is returned by GetPublic when the record is not publicly
// readable.
var ErrForbidden = fmt.Errorf("storage: record is not public")

// requireProject guards against the zero-value project_uuid footgun; every
// operation requires a non-empty project_uuid (spec §4.4).
func requireProject(projectUuid string) error {
	if projectUuid == "" {
		return fmt.Errorf("storage: project_uuid is required")
	}
	return nil
}

// Set upserts a record, refreshing wasm_hash, is_encrypted and updated_at.
func (s *Store) Set(projectUuid, accountId string, keyHash [32]byte, encryptedKey, encryptedValue []byte, wasmHash string, isEncrypted bool) error {
	if err := requireProject(projectUuid); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rk(projectUuid, accountId, keyHash)
	_, existed := s.records[k]
	s.records[k] = types.StorageRecord{
		ProjectUuid:    projectUuid,
		AccountId:      accountId,
		KeyHash:        keyHash,
		EncryptedKey:   encryptedKey,
		EncryptedValue: encryptedValue,
		WasmHash:       wasmHash,
		IsEncrypted:    isEncrypted,
		UpdatedAt:      time.Now(),
	}
	if !existed {
		s.bumpUsage(projectUuid, accountId, 1)
	}
	return nil
}

// Get returns the record for (projectUuid, accountId, keyHash).
func (s *Store) Get(projectUuid, accountId string, keyHash [32]byte) (types.StorageRecord, error) {
	if err := requireProject(projectUuid); err != nil {
		return types.StorageRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[rk(projectUuid, accountId, keyHash)]
	if !ok {
		return types.StorageRecord{}, ErrNotFound
	}
	return rec, nil
}

// GetByVersion scans for records written by a specific wasm_hash within one
// (projectUuid, accountId) bucket, for migration reads.
func (s *Store) GetByVersion(projectUuid, accountId, wasmHash string) ([]types.StorageRecord, error) {
	if err := requireProject(projectUuid); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.StorageRecord
	for k, rec := range s.records {
		if k.projectUuid == projectUuid && k.accountId == accountId && rec.WasmHash == wasmHash {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

// Has reports record existence without returning its value.
func (s *Store) Has(projectUuid, accountId string, keyHash [32]byte) (bool, error) {
	if err := requireProject(projectUuid); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[rk(projectUuid, accountId, keyHash)]
	return ok, nil
}

// Delete removes a record, returning whether it existed.
func (s *Store) Delete(projectUuid, accountId string, keyHash [32]byte) (bool, error) {
	if err := requireProject(projectUuid); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rk(projectUuid, accountId, keyHash)
	_, ok := s.records[k]
	if ok {
		delete(s.records, k)
		s.bumpUsage(projectUuid, accountId, -1)
	}
	return ok, nil
}

// ListPage is one page of a paginated List result.
type ListPage struct {
	Records []types.StorageRecord
	Cursor  string // empty when there are no further pages
}

// List returns a paginated, deterministically ordered page of encrypted
// key/value pairs for (projectUuid, accountId), so C5 can decrypt
// client-side (spec §4.4).
func (s *Store) List(projectUuid, accountId string, cursor string, limit int) (ListPage, error) {
	if err := requireProject(projectUuid); err != nil {
		return ListPage{}, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	s.mu.Lock()
	var all []types.StorageRecord
	for k, rec := range s.records {
		if k.projectUuid == projectUuid && k.accountId == accountId {
			all = append(all, rec)
		}
	}
	s.mu.Unlock()
	sortRecords(all)

	start := 0
	if cursor != "" {
		for i, rec := range all {
			if fmt.Sprintf("%x", rec.KeyHash) == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return ListPage{}, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := ListPage{Records: all[start:end]}
	if end < len(all) {
		page.Cursor = fmt.Sprintf("%x", all[end-1].KeyHash)
	}
	return page, nil
}

func sortRecords(recs []types.StorageRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return string(recs[i].KeyHash[:]) < string(recs[j].KeyHash[:])
	})
}

// SetIfAbsentResult reports whether the insert actually happened.
type SetIfAbsentResult struct {
	Inserted bool
}

// SetIfAbsent inserts only if no record currently exists.
func (s *Store) SetIfAbsent(projectUuid, accountId string, keyHash [32]byte, encryptedKey, encryptedValue []byte, wasmHash string, isEncrypted bool) (SetIfAbsentResult, error) {
	if err := requireProject(projectUuid); err != nil {
		return SetIfAbsentResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rk(projectUuid, accountId, keyHash)
	if _, ok := s.records[k]; ok {
		return SetIfAbsentResult{Inserted: false}, nil
	}
	s.records[k] = types.StorageRecord{
		ProjectUuid:    projectUuid,
		AccountId:      accountId,
		KeyHash:        keyHash,
		EncryptedKey:   encryptedKey,
		EncryptedValue: encryptedValue,
		WasmHash:       wasmHash,
		IsEncrypted:    isEncrypted,
		UpdatedAt:      time.Now(),
	}
	s.bumpUsage(projectUuid, accountId, 1)
	return SetIfAbsentResult{Inserted: true}, nil
}

// CASResult is the outcome of SetIfEquals.
type CASResult struct {
	Swapped        bool
	CurrentKey     []byte
	CurrentValue   []byte
}

// SetIfEquals performs a compare-and-swap over the stored (encrypted) value
// bytes. On mismatch it returns the current encrypted key+value for the
// caller to retry against (spec §4.4).
func (s *Store) SetIfEquals(projectUuid, accountId string, keyHash [32]byte, expectedValue, newEncryptedKey, newEncryptedValue []byte, wasmHash string, isEncrypted bool) (CASResult, error) {
	if err := requireProject(projectUuid); err != nil {
		return CASResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rk(projectUuid, accountId, keyHash)
	existing, ok := s.records[k]
	if !ok {
		if len(expectedValue) != 0 {
			return CASResult{Swapped: false}, nil
		}
		s.records[k] = types.StorageRecord{
			ProjectUuid: projectUuid, AccountId: accountId, KeyHash: keyHash,
			EncryptedKey: newEncryptedKey, EncryptedValue: newEncryptedValue,
			WasmHash: wasmHash, IsEncrypted: isEncrypted, UpdatedAt: time.Now(),
		}
		s.bumpUsage(projectUuid, accountId, 1)
		return CASResult{Swapped: true}, nil
	}
	if !bytesEqual(existing.EncryptedValue, expectedValue) {
		return CASResult{Swapped: false, CurrentKey: existing.EncryptedKey, CurrentValue: existing.EncryptedValue}, nil
	}
	existing.EncryptedKey = newEncryptedKey
	existing.EncryptedValue = newEncryptedValue
	existing.WasmHash = wasmHash
	existing.IsEncrypted = isEncrypted
	existing.UpdatedAt = time.Now()
	s.records[k] = existing
	return CASResult{Swapped: true}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ClearAll bulk-deletes every record in one (projectUuid, accountId) bucket.
func (s *Store) ClearAll(projectUuid, accountId string) (int, error) {
	if err := requireProject(projectUuid); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.records {
		if k.projectUuid == projectUuid && k.accountId == accountId {
			delete(s.records, k)
			n++
		}
	}
	delete(s.counters, usageKey(projectUuid, accountId))
	return n, nil
}

// ClearVersion bulk-deletes records written by a specific wasm_hash within
// one account bucket.
func (s *Store) ClearVersion(projectUuid, accountId, wasmHash string) (int, error) {
	if err := requireProject(projectUuid); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.records {
		if k.projectUuid == projectUuid && k.accountId == accountId && rec.WasmHash == wasmHash {
			delete(s.records, k)
			n++
			s.bumpUsage(projectUuid, accountId, -1)
		}
	}
	return n, nil
}

// ClearProject bulk-deletes every bucket of a project, called by C2 on
// project_storage_cleanup.
func (s *Store) ClearProject(projectUuid string) (int, error) {
	if err := requireProject(projectUuid); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.records {
		if k.projectUuid == projectUuid {
			delete(s.records, k)
			n++
		}
	}
	for uk := range s.counters {
		if len(uk) > len(projectUuid) && uk[:len(projectUuid)+1] == projectUuid+":" {
			delete(s.counters, uk)
		}
	}
	return n, nil
}

// GetPublic resolves a cross-project read: returns plaintext-equivalent
// bytes only when the record's is_encrypted is false, otherwise ErrForbidden
// (spec §4.4, storage isolation invariant in spec §8).
func (s *Store) GetPublic(projectUuid, accountId string, keyHash [32]byte) ([]byte, error) {
	rec, err := s.Get(projectUuid, accountId, keyHash)
	if err != nil {
		return nil, err
	}
	if rec.IsEncrypted {
		return nil, ErrForbidden
	}
	return rec.EncryptedValue, nil
}

// Usage returns the best-effort record count for one (projectUuid,
// accountId) bucket.
func (s *Store) Usage(projectUuid, accountId string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[usageKey(projectUuid, accountId)]
}
