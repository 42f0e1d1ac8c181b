package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/outlayer-net/cluster/internal/chain"
	"github.com/outlayer-net/cluster/pkg/types"
	"github.com/outlayer-net/cluster/pkg/utils"
)

// resolveArgLimit is the chain contract's per-callback argument size limit
// (spec §4.6.2); above it, resolution routes through
// submit_execution_output_and_resolve instead of a bare resolve_execution.
const resolveArgLimit = 1024

// truncatedErrorLimit bounds the error message carried in the combined
// submit-and-resolve call so that path always stays under resolveArgLimit.
const truncatedErrorLimit = 512

// resolveGas is the gas budget for either resolution path (spec §4.6.2).
const resolveGas = 300_000_000_000_000 // 300 TGas

// Resolver completes a task's on-chain yield using the worker's own
// operator key - never the guest's - after the controller has produced a
// terminal ExecutionResponse.
type Resolver struct {
	Chain       *chain.Client
	Signer      chain.Signer
	ContractID  string
}

// Resolve picks the resolve_execution vs. submit_execution_output_and_resolve
// path by serialised response size and submits it.
func (r *Resolver) Resolve(ctx context.Context, req types.Request, resp *types.ExecutionResponse) error {
	payload, err := json.Marshal(resolveExecutionArgs{RequestId: req.RequestId, Response: resp})
	if err != nil {
		return utils.Wrap(err, "marshal resolve_execution args")
	}

	if len(payload) <= resolveArgLimit {
		_, err := r.Chain.Call(ctx, r.Signer, r.ContractID, "resolve_execution", payload, "0", resolveGas, chain.WaitExecuted)
		return utils.Wrap(err, "resolve_execution")
	}

	// A failing response is typically oversized because of its Error
	// message alone; truncating it to truncatedErrorLimit and retrying the
	// single-call path is the documented fallback, so
	// submit_execution_output_and_resolve is reserved for oversized
	// Output on success.
	if !resp.Success {
		truncated := *resp
		if len(truncated.Error) > truncatedErrorLimit {
			truncated.Error = truncateError(truncated.Error)
		}
		retryPayload, err := json.Marshal(resolveExecutionArgs{RequestId: req.RequestId, Response: &truncated})
		if err != nil {
			return utils.Wrap(err, "marshal truncated resolve_execution args")
		}
		if len(retryPayload) <= resolveArgLimit {
			_, err := r.Chain.Call(ctx, r.Signer, r.ContractID, "resolve_execution", retryPayload, "0", resolveGas, chain.WaitExecuted)
			return utils.Wrap(err, "resolve_execution")
		}
	}

	submitResp := *resp
	if !submitResp.Success && len(submitResp.Error) > truncatedErrorLimit {
		submitResp.Error = truncateError(submitResp.Error)
	}
	args, err := json.Marshal(submitAndResolveArgs{
		RequestId:     req.RequestId,
		Output:        submitResp.Output,
		Success:       submitResp.Success,
		Error:         submitResp.Error,
		ResourcesUsed: submitResp.ResourcesUsed,
		CompilationNote: submitResp.CompilationNote,
	})
	if err != nil {
		return utils.Wrap(err, "marshal submit_execution_output_and_resolve args")
	}
	_, err = r.Chain.Call(ctx, r.Signer, r.ContractID, "submit_execution_output_and_resolve", args, "0", resolveGas, chain.WaitExecuted)
	return utils.Wrap(err, "submit_execution_output_and_resolve")
}

func truncateError(msg string) string {
	originalLen := len(msg)
	suffix := fmt.Sprintf("... (truncated, original size: %d bytes)", originalLen)
	keep := truncatedErrorLimit - len(suffix)
	if keep < 0 {
		keep = 0
	}
	if keep > len(msg) {
		keep = len(msg)
	}
	return msg[:keep] + suffix
}

type resolveExecutionArgs struct {
	RequestId uint64                  `json:"request_id"`
	Response  *types.ExecutionResponse `json:"response"`
}

type submitAndResolveArgs struct {
	RequestId       uint64               `json:"request_id"`
	Output          *types.Output        `json:"output"`
	Success         bool                 `json:"success"`
	Error           string               `json:"error"`
	ResourcesUsed   types.ResourcesUsed  `json:"resources_used"`
	CompilationNote string               `json:"compilation_note"`
}
