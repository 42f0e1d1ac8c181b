package ingest

import (
	"context"
	"encoding/binary"

	"github.com/outlayer-net/cluster/internal/storage"
)

// ingestorProjectUuid/ingestorAccountId/lastHeightKey reserve a system
// bucket in C4's storage service for the ingestor's own checkpoint, rather
// than standing up a second persistence mechanism (spec SPEC_FULL C2).
const (
	ingestorProjectUuid = "@ingestor"
	ingestorAccountId   = "@ingestor"
	lastHeightKey       = "last_height"
)

// StoreLastHeight adapts C4's Store to the LastHeightStore seam.
type StoreLastHeight struct {
	Store *storage.Store
}

func NewStoreLastHeight(store *storage.Store) *StoreLastHeight {
	return &StoreLastHeight{Store: store}
}

// GetLastHeight returns the persisted height, or ok=false if no checkpoint
// has ever been written.
func (s *StoreLastHeight) GetLastHeight(ctx context.Context) (uint64, bool, error) {
	rec, err := s.Store.Get(ingestorProjectUuid, ingestorAccountId, storage.KeyHash(lastHeightKey))
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(rec.EncryptedValue) != 8 {
		return 0, false, nil
	}
	return binary.BigEndian.Uint64(rec.EncryptedValue), true, nil
}

// PutLastHeight persists the next height to resume from on restart. The
// value is plain (is_encrypted=false): it is operational checkpoint state,
// not user data, so it carries no secret-handling requirement.
func (s *StoreLastHeight) PutLastHeight(ctx context.Context, height uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return s.Store.Set(ingestorProjectUuid, ingestorAccountId, storage.KeyHash(lastHeightKey), nil, buf, "", false)
}
