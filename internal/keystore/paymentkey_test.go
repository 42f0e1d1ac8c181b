package keystore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/outlayer-net/cluster/internal/chain"
	"github.com/outlayer-net/cluster/pkg/types"
)

// fakeRPC answers just enough of the NEAR JSON-RPC surface for Client.Call
// to succeed: an access-key nonce lookup, a recent block, and a committed
// broadcast.
func fakeRPC(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)

		var result json.RawMessage
		switch req.Method {
		case "query":
			result = json.RawMessage(`{"nonce":1,"permission":"FullAccess"}`)
		case "block":
			result = json.RawMessage(`{"header":{"height":1,"hash":"11111111111111111111111111111111","timestamp":0}}`)
		case "broadcast_tx_commit":
			result = json.RawMessage(`{"status":{"SuccessValue":""},"transaction_outcome":{"id":"dummytxhash"}}`)
		default:
			result = json.RawMessage(`{}`)
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": "outlayer", "result": result}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

type memPaymentStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

func newMemPaymentStore() *memPaymentStore {
	return &memPaymentStore{records: map[string][]byte{}}
}

func key(owner, nonce string) string { return owner + ":" + nonce }

func (m *memPaymentStore) GetPaymentKeyRecord(ctx context.Context, owner, nonce string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[key(owner, nonce)], nil
}

func (m *memPaymentStore) PutPaymentKeyRecord(ctx context.Context, owner, nonce string, encrypted []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key(owner, nonce)] = encrypted
	return nil
}

func (m *memPaymentStore) DeletePaymentKeyRecord(ctx context.Context, owner, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key(owner, nonce))
	return nil
}

func testSigner(t *testing.T) chain.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate signer key: %v", err)
	}
	return chain.Signer{AccountId: "operator.near", PrivateKey: priv}
}

func TestPaymentKeyResumerHandleTopUp(t *testing.T) {
	server := fakeRPC(t)
	defer server.Close()

	ks := New([]byte("test-master-secret"))
	store := newMemPaymentStore()
	resumer := &PaymentKeyResumer{
		KS:       ks,
		Store:    store,
		Chain:    chain.NewClient(server.URL, chain.WithTransactionsAllowed(true)),
		Operator: testSigner(t),
		Contract: "keystore.outlayer.near",
	}

	var dataID1 types.DataId
	dataID1[0] = 1
	ev := PaymentKeyEvent{DataId: dataID1, Owner: "owner.near", Nonce: "n1", TopUpYocto: "1000"}
	if err := resumer.HandleTopUp(context.Background(), ev); err != nil {
		t.Fatalf("HandleTopUp: %v", err)
	}

	accessor := types.SecretAccessor{Kind: types.AccessorSystem, System: &types.SystemAccessor{Kind: types.SystemPaymentKey, Nonce: "n1"}}
	seed, err := Seed(accessor, "owner.near")
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	encrypted, _ := store.GetPaymentKeyRecord(context.Background(), "owner.near", "n1")
	plaintext, err := ks.Decrypt(seed, encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	var bal paymentKeyBalance
	if err := json.Unmarshal(plaintext, &bal); err != nil {
		t.Fatalf("unmarshal balance: %v", err)
	}
	if bal.BalanceYocto != "1000" {
		t.Fatalf("expected balance 1000, got %q", bal.BalanceYocto)
	}

	// A second top-up accumulates onto the existing balance.
	var dataID2 types.DataId
	dataID2[0] = 2
	ev2 := PaymentKeyEvent{DataId: dataID2, Owner: "owner.near", Nonce: "n1", TopUpYocto: "500"}
	if err := resumer.HandleTopUp(context.Background(), ev2); err != nil {
		t.Fatalf("HandleTopUp (second): %v", err)
	}
	encrypted, _ = store.GetPaymentKeyRecord(context.Background(), "owner.near", "n1")
	plaintext, _ = ks.Decrypt(seed, encrypted)
	_ = json.Unmarshal(plaintext, &bal)
	if bal.BalanceYocto != "1500" {
		t.Fatalf("expected accumulated balance 1500, got %q", bal.BalanceYocto)
	}
}

func TestPaymentKeyResumerHandleDelete(t *testing.T) {
	server := fakeRPC(t)
	defer server.Close()

	ks := New([]byte("test-master-secret"))
	store := newMemPaymentStore()
	_ = store.PutPaymentKeyRecord(context.Background(), "owner.near", "n1", []byte("placeholder"))

	resumer := &PaymentKeyResumer{
		KS:       ks,
		Store:    store,
		Chain:    chain.NewClient(server.URL, chain.WithTransactionsAllowed(true)),
		Operator: testSigner(t),
		Contract: "keystore.outlayer.near",
	}

	var dataID3 types.DataId
	dataID3[0] = 3
	ev := PaymentKeyEvent{DataId: dataID3, Owner: "owner.near", Nonce: "n1", Delete: true}
	if err := resumer.HandleDelete(context.Background(), ev); err != nil {
		t.Fatalf("HandleDelete: %v", err)
	}
	got, _ := store.GetPaymentKeyRecord(context.Background(), "owner.near", "n1")
	if got != nil {
		t.Fatalf("expected record to be deleted, got %v", got)
	}
}

func TestAddYocto(t *testing.T) {
	if got := addYocto("", ""); got != "0" {
		t.Fatalf("expected 0, got %q", got)
	}
	if got := addYocto("100", "50"); got != "150" {
		t.Fatalf("expected 150, got %q", got)
	}
	if got := addYocto("999999999999999999999999", "1"); got != "1000000000000000000000000" {
		t.Fatalf("expected big-int addition to carry correctly, got %q", got)
	}
}
