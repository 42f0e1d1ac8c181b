package queue

import (
	"sync"
	"time"
)

// WorkerStatus is one worker's last-reported self-description (spec §4.3
// "auxiliary tables... worker status"), used by dashboards and operator
// tooling rather than by the leasing path itself.
type WorkerStatus struct {
	WorkerId     string
	Capabilities Capabilities
	LastSeen     time.Time
	CurrentTask  *[32]byte
}

// WorkerRegistry tracks the fleet's self-reported heartbeats.
type WorkerRegistry struct {
	mu      sync.Mutex
	workers map[string]WorkerStatus
}

func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{workers: make(map[string]WorkerStatus)}
}

// Report records or refreshes a worker's heartbeat.
func (r *WorkerRegistry) Report(workerId string, caps Capabilities, currentTask *[32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[workerId] = WorkerStatus{
		WorkerId:     workerId,
		Capabilities: caps,
		LastSeen:     time.Now(),
		CurrentTask:  currentTask,
	}
}

// List returns a snapshot of every known worker's status.
func (r *WorkerRegistry) List() []WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WorkerStatus, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// Get returns a single worker's last-reported status.
func (r *WorkerRegistry) Get(workerId string) (WorkerStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerId]
	return w, ok
}
