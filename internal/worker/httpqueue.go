package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/outlayer-net/cluster/internal/queue"
	"github.com/outlayer-net/cluster/pkg/types"
	"github.com/outlayer-net/cluster/pkg/utils"
)

// HTTPQueue implements TaskQueue against a remote coordinator's
// worker-facing API, pooling connections the same way HTTPSecretsClient
// pools its keystore transport. A worker process never shares the
// coordinator's in-process *queue.Queue directly - it runs in a separate
// process, so every lease/heartbeat/complete/remove call crosses the wire.
type HTTPQueue struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

func NewHTTPQueue(baseURL, authToken string) *HTTPQueue {
	return &HTTPQueue{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (h *HTTPQueue) do(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return utils.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, reader)
	if err != nil {
		return utils.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+h.authToken)

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return utils.Wrap(err, "call coordinator")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return utils.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker: coordinator %s returned %d: %s", path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return utils.Wrap(err, "decode response")
	}
	return nil
}

type httpLeaseRequest struct {
	WorkerId       string `json:"worker_id"`
	Compilation    bool   `json:"compilation"`
	Execution      bool   `json:"execution"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type httpLeaseResponse struct {
	Found bool        `json:"found"`
	Task  *queue.Task `json:"task,omitempty"`
}

// Lease polls the coordinator for the next task matching caps. The HTTP
// round-trip is bounded by ctx plus a fixed margin over timeout, since the
// coordinator's own long-poll blocks for up to timeout before answering.
func (h *HTTPQueue) Lease(ctx context.Context, workerId string, caps queue.Capabilities, timeout time.Duration) (queue.Task, bool, error) {
	leaseCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		leaseCtx, cancel = context.WithTimeout(ctx, timeout+10*time.Second)
		defer cancel()
	}

	var out httpLeaseResponse
	req := httpLeaseRequest{
		WorkerId:       workerId,
		Compilation:    caps.Compilation,
		Execution:      caps.Execution,
		TimeoutSeconds: int(timeout / time.Second),
	}
	if err := h.do(leaseCtx, "/v1/lease", req, &out); err != nil {
		return queue.Task{}, false, err
	}
	if !out.Found || out.Task == nil {
		return queue.Task{}, false, nil
	}
	return *out.Task, true, nil
}

type httpHeartbeatRequest struct {
	DataId   types.DataId `json:"data_id"`
	WorkerId string       `json:"worker_id"`
}

func (h *HTTPQueue) Heartbeat(dataId [32]byte, workerId string) error {
	return h.do(context.Background(), "/v1/heartbeat", httpHeartbeatRequest{
		DataId:   types.DataId(dataId),
		WorkerId: workerId,
	}, nil)
}

type httpCompleteRequest struct {
	DataId   types.DataId             `json:"data_id"`
	WorkerId string                   `json:"worker_id"`
	Terminal types.TerminalKind       `json:"terminal"`
	Response *types.ExecutionResponse `json:"response"`
}

func (h *HTTPQueue) Complete(dataId [32]byte, workerId string, kind types.TerminalKind, resp *types.ExecutionResponse) error {
	return h.do(context.Background(), "/v1/complete", httpCompleteRequest{
		DataId:   types.DataId(dataId),
		WorkerId: workerId,
		Terminal: kind,
		Response: resp,
	}, nil)
}

type httpRemoveRequest struct {
	DataId types.DataId `json:"data_id"`
}

// Remove is best-effort from the worker's side: the coordinator is the
// source of truth for queue state, and a failed remove call here only
// delays garbage collection of an already-terminal task.
func (h *HTTPQueue) Remove(dataId [32]byte) {
	_ = h.do(context.Background(), "/v1/remove", httpRemoveRequest{DataId: types.DataId(dataId)}, nil)
}
