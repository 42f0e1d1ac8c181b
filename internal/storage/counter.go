package storage

import (
	"encoding/binary"
	"fmt"
)

// counterKeyHash derives a stable key hash for a named counter so counters
// share the same (project_uuid, account_id, key_hash) addressing as regular
// records, distinguished only by a reserved key prefix.
func counterKeyHash(name string) [32]byte {
	return KeyHash("__counter__:" + name)
}

func encodeCounter(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func decodeCounter(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("storage: malformed counter value (%d bytes)", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Increment performs a read-modify-write of a signed 64-bit counter with
// implicit-zero initialisation, using a retry-on-mismatch CAS loop for
// concurrency safety (spec §4.4). Counters are stored unencrypted
// (is_encrypted=true is irrelevant to a plain integer, so this stores
// is_encrypted=false) since the value has no confidentiality requirement
// beyond the bucket's own access scoping.
func (s *Store) Increment(projectUuid, accountId, name string, delta int64) (int64, error) {
	keyHash := counterKeyHash(name)
	encodedKey := []byte(name)

	for {
		rec, err := s.Get(projectUuid, accountId, keyHash)
		var current int64
		var currentEncoded []byte
		if err == ErrNotFound {
			current = 0
			currentEncoded = nil
		} else if err != nil {
			return 0, err
		} else {
			current, err = decodeCounter(rec.EncryptedValue)
			if err != nil {
				return 0, err
			}
			currentEncoded = rec.EncryptedValue
		}

		next := current + delta
		result, err := s.SetIfEquals(projectUuid, accountId, keyHash, currentEncoded, encodedKey, encodeCounter(next), "", false)
		if err != nil {
			return 0, err
		}
		if result.Swapped {
			return next, nil
		}
		// Someone else updated the counter between Get and SetIfEquals;
		// retry with the freshly observed value.
	}
}

// Decrement is Increment with a negated delta.
func (s *Store) Decrement(projectUuid, accountId, name string, delta int64) (int64, error) {
	return s.Increment(projectUuid, accountId, name, -delta)
}
