package queue

import (
	"testing"

	"github.com/outlayer-net/cluster/pkg/types"
)

func TestHistoryAppendAndRecentOrdering(t *testing.T) {
	h := NewHistory(10)
	for i := byte(1); i <= 3; i++ {
		var id [32]byte
		id[0] = i
		h.Append(HistoryEntry{DataId: id, WorkerId: "w1", Terminal: types.TerminalSuccess})
	}

	recent := h.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].DataId[0] != 3 || recent[1].DataId[0] != 2 {
		t.Fatalf("expected newest-first ordering, got %+v", recent)
	}
}

func TestHistoryRecentClampsToAvailable(t *testing.T) {
	h := NewHistory(10)
	var id [32]byte
	id[0] = 1
	h.Append(HistoryEntry{DataId: id, WorkerId: "w1", Terminal: types.TerminalSuccess})

	recent := h.Recent(100)
	if len(recent) != 1 {
		t.Fatalf("expected Recent to clamp to the 1 available entry, got %d", len(recent))
	}
}

func TestHistoryEvictsOldestAtCapacity(t *testing.T) {
	h := NewHistory(2)
	for i := byte(1); i <= 3; i++ {
		var id [32]byte
		id[0] = i
		h.Append(HistoryEntry{DataId: id, WorkerId: "w1", Terminal: types.TerminalSuccess})
	}

	recent := h.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("expected history capped at 2 entries, got %d", len(recent))
	}
	if recent[0].DataId[0] != 3 || recent[1].DataId[0] != 2 {
		t.Fatalf("expected the oldest entry to have been evicted, got %+v", recent)
	}
}
