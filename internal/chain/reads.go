package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/outlayer-net/cluster/pkg/utils"
)

// BlockRef deterministically maps a finality string or explicit block id to
// a single block reference, per spec §4.1.
type BlockRef struct {
	Finality Finality
	BlockID  uint64
}

func (r BlockRef) params() map[string]any {
	if r.BlockID != 0 {
		return map[string]any{"block_id": r.BlockID}
	}
	finality := r.Finality
	if finality == "" {
		finality = FinalityOptimistic
	}
	return map[string]any{"finality": string(finality)}
}

// View calls a read-only contract method and returns the raw return bytes.
func (c *Client) View(ctx context.Context, contract, method string, args []byte, ref BlockRef) ([]byte, error) {
	params := ref.params()
	params["request_type"] = "call_function"
	params["account_id"] = contract
	params["method_name"] = method
	params["args_base64"] = base64.StdEncoding.EncodeToString(args)

	var result struct {
		Result []byte `json:"result"`
	}
	if err := c.call(ctx, "query", params, &result); err != nil {
		return nil, utils.Wrap(err, "view "+contract+"."+method)
	}
	return result.Result, nil
}

// AccessKeyView describes one access key's current nonce and permission.
type AccessKeyView struct {
	Nonce      uint64          `json:"nonce"`
	Permission json.RawMessage `json:"permission"`
}

// ViewAccessKey fetches the nonce and permission for an account's access
// key, used both for informational lookups and as the basis of the nonce
// retrieval used before signing a transaction.
func (c *Client) ViewAccessKey(ctx context.Context, account, publicKey string) (*AccessKeyView, error) {
	params := map[string]any{
		"request_type": "view_access_key",
		"finality":     string(FinalityOptimistic),
		"account_id":   account,
		"public_key":   publicKey,
	}
	var out AccessKeyView
	if err := c.call(ctx, "query", params, &out); err != nil {
		return nil, utils.Wrap(err, "view_access_key "+account)
	}
	return &out, nil
}

// BlockView is the minimal block header/body surface the adapter exposes.
type BlockView struct {
	Header struct {
		Height    uint64 `json:"height"`
		Hash      string `json:"hash"`
		Timestamp uint64 `json:"timestamp"`
	} `json:"header"`
}

// Block fetches a block by finality or explicit id.
func (c *Client) Block(ctx context.Context, ref BlockRef) (*BlockView, error) {
	var out BlockView
	if err := c.call(ctx, "block", ref.params(), &out); err != nil {
		return nil, utils.Wrap(err, "block")
	}
	return &out, nil
}

// TxStatusView is the outcome of a previously submitted transaction.
type TxStatusView struct {
	Status json.RawMessage `json:"status"`
}

// TxStatus looks up a transaction's outcome by hash, scoped to the signer
// that submitted it (required by the RPC surface for non-final lookups).
func (c *Client) TxStatus(ctx context.Context, hash, signerAccountId string) (*TxStatusView, error) {
	var out TxStatusView
	if err := c.call(ctx, "tx", []string{hash, signerAccountId}, &out); err != nil {
		return nil, utils.Wrap(err, "tx_status "+hash)
	}
	return &out, nil
}
