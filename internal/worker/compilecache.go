package worker

import (
	"context"

	"github.com/outlayer-net/cluster/internal/storage"
)

// compileCacheProjectUuid reserves a system bucket in C4's storage service
// for the compiled-from-source artifact cache, the same reserved-bucket
// pattern internal/ingest.StoreLastHeight and
// internal/keystore.StorePaymentKeyStore use for their own checkpoints.
const compileCacheProjectUuid = "@compile_cache"
const compileCacheAccountId = "@compile_cache"

// StoreCacheStore adapts C4's Store to the worker-side CacheStore seam,
// keyed by a GitHub source's VersionKey. Unlike C7's signed precompilation
// cache, this stores the compiled wasm bytes themselves (not a native
// artifact), so no signature is needed - a worker restart does not
// invalidate it.
type StoreCacheStore struct {
	Store *storage.Store
}

func NewStoreCacheStore(store *storage.Store) *StoreCacheStore {
	return &StoreCacheStore{Store: store}
}

func (s *StoreCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rec, err := s.Store.Get(compileCacheProjectUuid, compileCacheAccountId, storage.KeyHash(key))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec.EncryptedValue, true, nil
}

func (s *StoreCacheStore) Put(ctx context.Context, key string, wasm []byte) error {
	return s.Store.Set(compileCacheProjectUuid, compileCacheAccountId, storage.KeyHash(key), nil, wasm, "", false)
}
