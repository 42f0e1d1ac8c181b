// Package chain implements the read/write adapter to the on-chain contract
// (C1). The adapter owns no signing keys of its own: every write operation
// takes the caller's signer_id/signer_key as arguments, per spec §9
// ("signer material stays with the asker"). Reads go through a JSON-RPC
// style client pooled the way the teacher's core/connection_pool.go pools
// raw TCP connections, adapted here to HTTP keep-alives against the RPC
// endpoint.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/outlayer-net/cluster/pkg/utils"
)

// Finality selects how a read is resolved against the chain's block
// history: "final", "optimistic", or a specific numeric block id.
type Finality string

const (
	FinalityFinal       Finality = "final"
	FinalityOptimistic  Finality = "optimistic"
)

// NonceRetryAttempts and NonceRetrySpacing implement spec §4.1: nonce
// acquisition retries up to five times with 3-second spacing, to tolerate
// newly installed access keys not yet visible on the RPC node.
const (
	NonceRetryAttempts = 5
	NonceRetrySpacing  = 3 * time.Second
)

// DefaultMaxCallsPerExecution bounds how many chain RPCs a single WASM
// execution may issue (spec §4.1), overridable via configuration.
const DefaultMaxCallsPerExecution = 100

// Client is the chain adapter. One Client is shared across a worker
// process; per-execution call budgets are tracked separately via
// NewExecutionLimiter.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	allowTx    bool
}

// Option configures a Client.
type Option func(*Client)

// WithTransactionsAllowed gates whether Call/Transfer are permitted at all,
// mirroring the NEAR_RPC_PROXY_ALLOW_TRANSACTIONS capability flag exposed
// to the runtime (spec §4.1).
func WithTransactionsAllowed(allowed bool) Option {
	return func(c *Client) { c.allowTx = allowed }
}

// NewClient constructs a chain adapter against rpcURL. The underlying HTTP
// client reuses idle connections (teacher: core/connection_pool.go) rather
// than dialing fresh each call.
func NewClient(rpcURL string, opts ...Option) *Client {
	c := &Client{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest/rpcResponse follow the JSON-RPC 2.0 envelope used by the NEAR
// RPC surface.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError carries the chain's structured error body verbatim (spec §4.1:
// "returns a structured error carrying the chain's error body").
type RPCError struct {
	Name    string          `json:"name"`
	Cause   json.RawMessage `json:"cause"`
	Message string          `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chain rpc error %s: %s", e.Name, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: "outlayer", Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return utils.Wrap(err, "marshal rpc request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return utils.Wrap(err, "build rpc request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return utils.Wrap(err, "rpc request")
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return utils.Wrap(err, "decode rpc response")
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return utils.Wrap(err, "decode rpc result")
		}
	}
	return nil
}

// ExecutionLimiter bounds outbound chain RPCs issued on behalf of a single
// WASM execution (spec §4.1 / §4.7 host surface rate limiting).
type ExecutionLimiter struct {
	limiter *rate.Limiter
	max     int
	used    int
}

// NewExecutionLimiter returns a limiter permitting at most max calls for one
// execution. max <= 0 falls back to DefaultMaxCallsPerExecution.
func NewExecutionLimiter(max int) *ExecutionLimiter {
	if max <= 0 {
		max = DefaultMaxCallsPerExecution
	}
	return &ExecutionLimiter{
		limiter: rate.NewLimiter(rate.Inf, max),
		max:     max,
	}
}

// Allow consumes one unit of budget, returning an error once the
// per-execution cap is exhausted.
func (l *ExecutionLimiter) Allow() error {
	if l.used >= l.max {
		return fmt.Errorf("chain: execution exceeded rpc call budget of %d", l.max)
	}
	l.used++
	return nil
}

// Remaining reports how many calls are still permitted.
func (l *ExecutionLimiter) Remaining() int {
	return l.max - l.used
}
