package vm

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/outlayer-net/cluster/internal/chain"
)

// chainCallArgs is the guest-supplied envelope for request_execution's
// transaction-building primitives. signer_id/signer_key travel with the
// call itself - never substituted by the worker (spec §9 hard rule).
type chainCallArgs struct {
	SignerId    string `json:"signer_id"`
	SignerKey   string `json:"signer_key"`
	Receiver    string `json:"receiver"`
	Method      string `json:"method"`
	Args        json.RawMessage `json:"args"`
	DepositYocto string `json:"deposit_yocto"`
	Gas         uint64 `json:"gas"`
	WaitUntil   string `json:"wait_until"`
}

type chainTransferArgs struct {
	SignerId     string `json:"signer_id"`
	SignerKey    string `json:"signer_key"`
	Receiver     string `json:"receiver"`
	AmountYocto  string `json:"amount_yocto"`
	WaitUntil    string `json:"wait_until"`
}

type chainViewArgs struct {
	Contract string          `json:"contract"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args"`
	BlockId  uint64          `json:"block_id"`
	Finality string          `json:"finality"`
}

// chainHost dispatches the guest's chain-RPC host calls (spec §4.7 host
// surface item 3) onto the shared *chain.Client, enforcing the
// per-execution call budget with chain.ExecutionLimiter.
type chainHost struct {
	client  *chain.Client
	limiter *chain.ExecutionLimiter
}

func newChainHost(client *chain.Client, maxCalls int) *chainHost {
	return &chainHost{client: client, limiter: chain.NewExecutionLimiter(maxCalls)}
}

// dispatch routes one guest chain RPC call by method name. Unknown methods
// and an exhausted call budget are reported as errors, which the guest sees
// as a failed host call rather than a process crash.
func (h *chainHost) dispatch(ctx context.Context, method string, argsJSON []byte) (json.RawMessage, error) {
	if err := h.limiter.Allow(); err != nil {
		return nil, err
	}

	switch method {
	case "view":
		var a chainViewArgs
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		ref := chain.BlockRef{BlockID: a.BlockId, Finality: chain.Finality(a.Finality)}
		result, err := h.client.View(ctx, a.Contract, a.Method, a.Args, ref)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case "block":
		var a chainViewArgs
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		ref := chain.BlockRef{BlockID: a.BlockId, Finality: chain.Finality(a.Finality)}
		block, err := h.client.Block(ctx, ref)
		if err != nil {
			return nil, err
		}
		return json.Marshal(block)

	case "call":
		var a chainCallArgs
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		signer, err := decodeSigner(a.SignerId, a.SignerKey)
		if err != nil {
			return nil, err
		}
		wait := chain.WaitUntil(a.WaitUntil)
		if wait == "" {
			wait = chain.WaitExecuted
		}
		hash, err := h.client.Call(ctx, signer, a.Receiver, a.Method, a.Args, a.DepositYocto, a.Gas, wait)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"tx_hash": hash})

	case "transfer":
		var a chainTransferArgs
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		signer, err := decodeSigner(a.SignerId, a.SignerKey)
		if err != nil {
			return nil, err
		}
		wait := chain.WaitUntil(a.WaitUntil)
		if wait == "" {
			wait = chain.WaitExecuted
		}
		hash, err := h.client.Transfer(ctx, signer, a.Receiver, a.AmountYocto, wait)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"tx_hash": hash})

	case "tx_status":
		var a struct {
			Hash            string `json:"hash"`
			SignerAccountId string `json:"signer_account_id"`
		}
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		status, err := h.client.TxStatus(ctx, a.Hash, a.SignerAccountId)
		if err != nil {
			return nil, err
		}
		return json.Marshal(status)

	case "view_access_key":
		var a struct {
			AccountId string `json:"account_id"`
			PublicKey string `json:"public_key"`
		}
		if err := json.Unmarshal(argsJSON, &a); err != nil {
			return nil, err
		}
		out, err := h.client.ViewAccessKey(ctx, a.AccountId, a.PublicKey)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)

	// view_account, view_code, view_state, chunk, changes, gas_price,
	// status, network_info, validators and receipt share no typed wrapper;
	// the guest dispatches them straight through the generic RPC passthrough.
	case "view_account", "view_code", "view_state", "chunk", "changes",
		"gas_price", "status", "network_info", "validators", "receipt", "raw":
		var params json.RawMessage
		if len(argsJSON) > 0 {
			params = argsJSON
		}
		rpcMethod := method
		if method == "raw" {
			var a struct {
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(argsJSON, &a); err != nil {
				return nil, err
			}
			rpcMethod, params = a.Method, a.Params
		}
		return h.client.Raw(ctx, rpcMethod, params)

	default:
		return nil, errUnknownChainMethod
	}
}

// decodeSigner parses a guest-supplied signer_key, which travels either as
// NEAR's "ed25519:<base58>" wire format or as bare base58, per spec §9: the
// key material never lives on the worker, only passes through for the
// duration of one call.
func decodeSigner(accountId, key string) (chain.Signer, error) {
	key = strings.TrimPrefix(key, "ed25519:")
	raw, err := base58.Decode(key)
	if err != nil {
		return chain.Signer{}, err
	}
	return chain.Signer{AccountId: accountId, PrivateKey: ed25519.PrivateKey(raw)}, nil
}
