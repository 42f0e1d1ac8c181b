package queue

import (
	"context"
	"testing"
	"time"

	"github.com/outlayer-net/cluster/pkg/types"
)

func TestCompleteUnknownTask(t *testing.T) {
	q := New(time.Minute)
	var id [32]byte
	id[0] = 77
	if err := q.Complete(id, "w1", types.TerminalSuccess, nil); err == nil {
		t.Fatalf("expected Complete on an unknown task to fail")
	}
}

func TestRemoveDropsTask(t *testing.T) {
	q := New(time.Minute)
	q.CreateTask(testRequest(6, false))
	task, ok, err := q.Lease(context.Background(), "w1", Capabilities{Execution: true}, 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("Lease: ok=%v err=%v", ok, err)
	}
	if err := q.Complete(task.DataId, "w1", types.TerminalSuccess, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	q.Remove(task.DataId)

	if _, ok := q.Get(task.DataId); ok {
		t.Fatalf("expected task to be gone after Remove")
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue to be empty after Remove, got %d", q.Len())
	}
}

func TestCompleteCannotReLeaseTerminalTask(t *testing.T) {
	q := New(time.Minute)
	q.CreateTask(testRequest(7, false))
	task, ok, err := q.Lease(context.Background(), "w1", Capabilities{Execution: true}, 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("Lease: ok=%v err=%v", ok, err)
	}
	if err := q.Complete(task.DataId, "w1", types.TerminalFailed, &types.ExecutionResponse{Success: false, Error: "boom"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	_, ok, err = q.Lease(context.Background(), "w2", Capabilities{Execution: true}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if ok {
		t.Fatalf("expected a terminal task to never be re-leased")
	}
}
