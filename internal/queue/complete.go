package queue

import (
	"fmt"
	"time"

	"github.com/outlayer-net/cluster/pkg/types"
)

// Complete transitions a Leased task to Terminal with the given taxonomy
// kind and response (spec §7 terminal states). Only the worker holding the
// lease may complete it.
func (q *Queue) Complete(dataId [32]byte, workerId string, kind types.TerminalKind, resp *types.ExecutionResponse) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[dataId]
	if !ok {
		return fmt.Errorf("queue: unknown task")
	}
	if t.Status != StatusLeased || t.LeasedBy != workerId {
		return fmt.Errorf("queue: task is not leased by %s", workerId)
	}
	t.Status = StatusTerminal
	t.Terminal = kind
	t.Response = resp
	t.UpdatedAt = time.Now()
	return nil
}

// Remove drops a task entirely, called once the chain-accepted resolve has
// made it authoritative (spec §5: "a chain-accepted resolve is authoritative,
// and the request is then removed from C3").
func (q *Queue) Remove(dataId [32]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tasks, dataId)
}
