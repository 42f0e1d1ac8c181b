package keystore

import (
	"context"

	"github.com/outlayer-net/cluster/internal/storage"
)

// paymentKeyProjectUuid reserves a system bucket in C4's storage service for
// payment-key records, the same pattern internal/ingest.StoreLastHeight uses
// for its own checkpoint.
const paymentKeyProjectUuid = "@payment_keys"

// StorePaymentKeyStore adapts C4's Store to the PaymentKeyStore seam,
// scoping each record by owner+nonce within the reserved bucket.
type StorePaymentKeyStore struct {
	Store *storage.Store
}

func NewStorePaymentKeyStore(store *storage.Store) *StorePaymentKeyStore {
	return &StorePaymentKeyStore{Store: store}
}

func paymentKeyKey(nonce string) [32]byte {
	return storage.KeyHash("payment_key:" + nonce)
}

func (s *StorePaymentKeyStore) GetPaymentKeyRecord(ctx context.Context, owner, nonce string) ([]byte, error) {
	rec, err := s.Store.Get(paymentKeyProjectUuid, owner, paymentKeyKey(nonce))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return rec.EncryptedValue, nil
}

func (s *StorePaymentKeyStore) PutPaymentKeyRecord(ctx context.Context, owner, nonce string, encrypted []byte) error {
	return s.Store.Set(paymentKeyProjectUuid, owner, paymentKeyKey(nonce), nil, encrypted, "", true)
}

func (s *StorePaymentKeyStore) DeletePaymentKeyRecord(ctx context.Context, owner, nonce string) error {
	_, err := s.Store.Delete(paymentKeyProjectUuid, owner, paymentKeyKey(nonce))
	return err
}
