package ingest

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memLastHeight struct {
	mu     sync.Mutex
	height uint64
	set    bool
}

func (m *memLastHeight) GetLastHeight(ctx context.Context) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height, m.set, nil
}

func (m *memLastHeight) PutLastHeight(ctx context.Context, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height = height
	m.set = true
	return nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	blocks  map[uint64]*Block
	fetched []uint64
	failN   map[uint64]int // remaining hard failures before success
}

func (f *fakeIndexer) FetchBlock(ctx context.Context, height uint64) (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, height)
	if n := f.failN[height]; n > 0 {
		f.failN[height] = n - 1
		return nil, errTransientFetch
	}
	b, ok := f.blocks[height]
	if !ok {
		return nil, ErrBlockNotIndexed
	}
	return b, nil
}

var errTransientFetch = &transientErr{}

type transientErr struct{}

func (e *transientErr) Error() string { return "ingest test: transient fetch failure" }

func TestResolveStartHeightResumesFromCheckpoint(t *testing.T) {
	lh := &memLastHeight{height: 500, set: true}
	ing := New(&fakeIndexer{blocks: map[uint64]*Block{}}, lh, &Dispatcher{Queue: &stubQueue{}, Storage: &stubStorage{}, Payments: &stubPayments{}}, Config{ContractID: "c", StartHeight: 10})

	h, err := ing.resolveStartHeight(context.Background())
	if err != nil {
		t.Fatalf("resolveStartHeight: %v", err)
	}
	if h != 500 {
		t.Fatalf("expected to resume from the persisted height 500, got %d", h)
	}
}

func TestResolveStartHeightFallsBackToConfig(t *testing.T) {
	lh := &memLastHeight{}
	ing := New(&fakeIndexer{blocks: map[uint64]*Block{}}, lh, &Dispatcher{Queue: &stubQueue{}, Storage: &stubStorage{}, Payments: &stubPayments{}}, Config{ContractID: "c", StartHeight: 42})

	h, err := ing.resolveStartHeight(context.Background())
	if err != nil {
		t.Fatalf("resolveStartHeight: %v", err)
	}
	if h != 42 {
		t.Fatalf("expected fallback to Config.StartHeight 42, got %d", h)
	}
}

func TestProcessOneDispatchesMatchingEventsAndAdvances(t *testing.T) {
	q := &stubQueue{}
	idx := &fakeIndexer{blocks: map[uint64]*Block{
		10: {
			Height: 10,
			Outcomes: []ReceiptOutcome{
				{Receiver: "contract.near", Logs: []string{
					`EVENT_JSON:{"standard":"offchainvm","version":"1.0.0","event":"project_storage_cleanup","data":[{"project_id":"a","project_uuid":"p1","timestamp":1}]}`,
				}},
				{Receiver: "other.near", Logs: []string{
					`EVENT_JSON:{"standard":"offchainvm","version":"1.0.0","event":"project_storage_cleanup","data":[{"project_id":"a","project_uuid":"p2","timestamp":1}]}`,
				}},
			},
		},
	}}
	st := &stubStorage{}
	d := &Dispatcher{Queue: q, Storage: st, Payments: &stubPayments{}}
	ing := New(idx, &memLastHeight{}, d, Config{ContractID: "contract.near", StandardName: "offchainvm", MinVersion: "1.0.0"})

	advanced, err := ing.processOne(context.Background(), 10)
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if !advanced {
		t.Fatalf("expected processOne to report advanced=true for an indexed block")
	}
	if len(st.cleared) != 1 || st.cleared[0] != "p1" {
		t.Fatalf("expected only the configured contract's logs to dispatch, got %+v", st.cleared)
	}
}

func TestProcessOneNotYetIndexedDoesNotAdvance(t *testing.T) {
	idx := &fakeIndexer{blocks: map[uint64]*Block{}}
	ing := New(idx, &memLastHeight{}, &Dispatcher{Queue: &stubQueue{}, Storage: &stubStorage{}, Payments: &stubPayments{}}, Config{ContractID: "c"})

	advanced, err := ing.processOne(context.Background(), 1)
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if advanced {
		t.Fatalf("expected not-yet-indexed to report advanced=false")
	}
}

func TestProcessOneRetriesThenSkipsOnPersistentFailure(t *testing.T) {
	idx := &fakeIndexer{
		blocks: map[uint64]*Block{5: {Height: 5}},
		failN:  map[uint64]int{5: 10}, // always fails within the retry budget
	}
	ing := New(idx, &memLastHeight{}, &Dispatcher{Queue: &stubQueue{}, Storage: &stubStorage{}, Payments: &stubPayments{}}, Config{ContractID: "c", BlockRetryAttempts: 3})

	advanced, err := ing.processOne(context.Background(), 5)
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if !advanced {
		t.Fatalf("expected a persistently failing block to still advance (skip) after exhausting retries")
	}
	if len(idx.fetched) != 3 {
		t.Fatalf("expected exactly BlockRetryAttempts fetch attempts, got %d", len(idx.fetched))
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	idx := &fakeIndexer{blocks: map[uint64]*Block{}}
	ing := New(idx, &memLastHeight{}, &Dispatcher{Queue: &stubQueue{}, Storage: &stubStorage{}, Payments: &stubPayments{}}, Config{ContractID: "c", IdleSleep: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected Run to return the cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after context cancellation")
	}
}
