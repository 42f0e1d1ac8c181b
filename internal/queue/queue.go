// Package queue implements the coordinator-side durable task queue (C3): a
// map of in-flight Requests with idempotent insertion keyed by the chain's
// data_id, long-poll leasing filtered by worker capability, and lease-expiry
// requeueing. The in-memory map sits behind the same narrow-interface shape
// as internal/storage.Store (itself mirroring the teacher's
// core/virtual_machine.go memState pattern), so a real database can later
// implement Queue without touching callers.
package queue

import (
	"sync"
	"time"

	"github.com/outlayer-net/cluster/pkg/types"
)

// Status is the lifecycle stage of a queued task (spec §3 "Lifecycles").
type Status string

const (
	StatusQueued   Status = "queued"
	StatusLeased   Status = "leased"
	StatusTerminal Status = "terminal"
)

// Capabilities gates which tasks a worker may lease (spec §4.3): a worker
// advertising only Compilation receives only compile-only tasks.
type Capabilities struct {
	Compilation bool
	Execution   bool
}

// satisfies reports whether these capabilities can service task.
func (c Capabilities) satisfies(task *types.Request) bool {
	if task.CompileOnly {
		return c.Compilation
	}
	return c.Execution
}

// Task wraps a chain-originated Request with queue bookkeeping.
type Task struct {
	DataId       [32]byte
	Request      types.Request
	Status       Status
	LeasedBy     string
	LeaseExpires time.Time
	Terminal     types.TerminalKind
	Response     *types.ExecutionResponse
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DefaultLeaseTimeout bounds how long a lease survives without a heartbeat
// before the task returns to Queued (spec §4.3).
const DefaultLeaseTimeout = 2 * time.Minute

// Queue is the in-memory task queue. Safe for concurrent use; Lease blocks
// (subject to a caller-supplied timeout) via a broadcast condition variable
// rather than polling, so a newly queued task wakes waiting leasers
// immediately.
type Queue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	tasks       map[[32]byte]*Task
	leaseTimeout time.Duration
}

// New constructs an empty queue. leaseTimeout <= 0 uses DefaultLeaseTimeout.
func New(leaseTimeout time.Duration) *Queue {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	q := &Queue{tasks: make(map[[32]byte]*Task), leaseTimeout: leaseTimeout}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// CreateResult reports whether CreateTask actually inserted a new row.
type CreateResult struct {
	Created bool
}

// CreateTask idempotently inserts a task keyed by data_id: a pre-existing
// row with the same data_id is left untouched and Created is false (spec
// §4.3 "a pre-existing row ... returns already exists without error").
func (q *Queue) CreateTask(req types.Request) CreateResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.tasks[req.DataId]; exists {
		return CreateResult{Created: false}
	}
	now := time.Now()
	q.tasks[req.DataId] = &Task{
		DataId:    req.DataId,
		Request:   req,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.cond.Broadcast()
	return CreateResult{Created: true}
}

// Get returns a copy of the task for data_id, if present.
func (q *Queue) Get(dataId [32]byte) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[dataId]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// requeueExpiredLocked returns any Leased task whose lease has expired back
// to Queued. Must be called with q.mu held.
func (q *Queue) requeueExpiredLocked() {
	now := time.Now()
	for _, t := range q.tasks {
		if t.Status == StatusLeased && now.After(t.LeaseExpires) {
			t.Status = StatusQueued
			t.LeasedBy = ""
			t.LeaseExpires = time.Time{}
			t.UpdatedAt = now
		}
	}
}

// Len reports the number of tasks currently tracked (any status).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
