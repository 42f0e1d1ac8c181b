package vm

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// hostState is the per-execution context threaded through every host call.
// One is built per Engine.Execute invocation and discarded afterwards - "no
// state leaks between requests" (spec §4.7).
type hostState struct {
	ctx context.Context

	input  []byte
	output []byte

	env map[string]string

	fuel     *FuelMeter
	deadline *Deadline
	memCapBytes int

	chain   *chainHost
	storage *storageHost
	http    *httpHost

	log *logrus.Entry

	// pending holds the most recently staged host-call result, consumed by
	// the guest's next host_read_result call - mirrors the teacher's
	// LastReturnData single-slot handoff in VMContext.
	pending []byte
}

// checkBudget is consulted at every host-call boundary (spec §5
// "cooperative scheduling at host-call boundaries"): it charges fuel for
// the call and fails fast if the wall-clock watchdog has already fired.
func (h *hostState) checkBudget(payloadBytes int) error {
	if err := h.deadline.Check(); err != nil {
		return err
	}
	return h.fuel.Consume(payloadBytes)
}

type resultEnvelope struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// stage JSON-encodes v (or an error envelope) into the pending buffer and
// returns its length, which the guest reads back via host_read_result.
func (h *hostState) stage(result json.RawMessage, err error) int32 {
	var env resultEnvelope
	if err != nil {
		env = resultEnvelope{Ok: false, Error: err.Error()}
	} else {
		env = resultEnvelope{Ok: true, Result: result}
	}
	b, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		b, _ = json.Marshal(resultEnvelope{Ok: false, Error: marshalErr.Error()})
	}
	h.pending = b
	return int32(len(h.pending))
}

func (h *hostState) envGet(name string) int32 {
	v, ok := h.env[name]
	body, _ := json.Marshal(map[string]any{"found": ok, "value": v})
	return h.stage(body, nil)
}

func (h *hostState) chainCall(method string, argsJSON []byte) int32 {
	result, err := h.chain.dispatch(h.ctx, method, argsJSON)
	return h.stage(result, err)
}

func (h *hostState) storageCall(method string, argsJSON []byte) int32 {
	result, err := h.storage.dispatch(method, argsJSON)
	return h.stage(result, err)
}

func (h *hostState) httpCall(argsJSON []byte) int32 {
	result, err := h.http.dispatch(h.ctx, argsJSON)
	return h.stage(result, err)
}
