package queue

import (
	"sync"
	"time"

	"github.com/outlayer-net/cluster/pkg/types"
)

// HistoryEntry is one completed task's dashboard-facing record (spec §4.3
// "auxiliary tables... execution history (for dashboards)").
type HistoryEntry struct {
	DataId     [32]byte
	WorkerId   string
	Terminal   types.TerminalKind
	CompletedAt time.Time
}

// History is an append-only, size-bounded log of completed tasks.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	cap     int
}

// DefaultHistoryCapacity bounds memory growth for the in-process history log.
const DefaultHistoryCapacity = 10_000

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{cap: capacity}
}

// Append records a completed task, evicting the oldest entry once at
// capacity.
func (h *History) Append(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	if len(h.entries) > h.cap {
		h.entries = h.entries[len(h.entries)-h.cap:]
	}
}

// Recent returns up to n most recently appended entries, newest first.
func (h *History) Recent(n int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]HistoryEntry, n)
	for i := 0; i < n; i++ {
		out[i] = h.entries[len(h.entries)-1-i]
	}
	return out
}
