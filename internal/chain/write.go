package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/mr-tron/base58"

	"github.com/outlayer-net/cluster/pkg/utils"
)

// WaitUntil selects how long the adapter blocks before returning after
// broadcasting a transaction.
type WaitUntil string

const (
	WaitNone             WaitUntil = "NONE"
	WaitIncluded         WaitUntil = "INCLUDED"
	WaitExecuted         WaitUntil = "EXECUTED"
	WaitExecutedOptimistic WaitUntil = "EXECUTED_OPTIMISTIC"
)

// TxFailureError is returned when the chain accepts the transaction but its
// receipt outcome reports Failure, carrying the chain's error body verbatim
// (spec §4.1).
type TxFailureError struct {
	TxHash string
	Body   json.RawMessage
}

func (e *TxFailureError) Error() string {
	return fmt.Sprintf("chain: transaction %s failed: %s", e.TxHash, string(e.Body))
}

// fetchNonce retrieves the signer's current access-key nonce, retrying up to
// NonceRetryAttempts times with NonceRetrySpacing between attempts (spec
// §4.1) to tolerate newly installed access keys not yet visible on the RPC
// node.
func (c *Client) fetchNonce(ctx context.Context, signer Signer) (uint64, error) {
	var lastErr error
	for attempt := 0; attempt < NonceRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(NonceRetrySpacing):
			}
		}
		ak, err := c.ViewAccessKey(ctx, signer.AccountId, signer.PublicKeyBase58())
		if err == nil {
			return ak.Nonce + 1, nil
		}
		lastErr = err
	}
	return 0, utils.Wrap(lastErr, "fetch nonce after retries")
}

func (c *Client) recentBlockHash(ctx context.Context) ([32]byte, error) {
	var out [32]byte
	block, err := c.Block(ctx, BlockRef{Finality: FinalityFinal})
	if err != nil {
		return out, err
	}
	decoded, err := base58.Decode(block.Header.Hash)
	if err != nil || len(decoded) != 32 {
		return out, fmt.Errorf("chain: malformed block hash %q", block.Header.Hash)
	}
	copy(out[:], decoded)
	return out, nil
}

type broadcastResult struct {
	Status             json.RawMessage `json:"status"`
	TransactionOutcome struct {
		ID json.RawMessage `json:"id"`
	} `json:"transaction_outcome"`
}

func (c *Client) broadcast(ctx context.Context, signedTx []byte, wait WaitUntil) (string, error) {
	method := "broadcast_tx_async"
	if wait != WaitNone && wait != "" {
		method = "broadcast_tx_commit"
	}
	params := []string{base64.StdEncoding.EncodeToString(signedTx)}

	var out broadcastResult
	if err := c.call(ctx, method, params, &out); err != nil {
		return "", err
	}

	var statusStr string
	if err := json.Unmarshal(out.Status, &statusStr); err == nil {
		// broadcast_tx_async returns the tx hash directly as the result.
		return statusStr, nil
	}

	var statusObj struct {
		Failure    json.RawMessage `json:"Failure"`
		SuccessValue *string       `json:"SuccessValue"`
	}
	if err := json.Unmarshal(out.Status, &statusObj); err == nil && statusObj.Failure != nil {
		return "", &TxFailureError{Body: statusObj.Failure}
	}

	var txHash string
	_ = json.Unmarshal(out.TransactionOutcome.ID, &txHash)
	return txHash, nil
}

// Call signs and submits a FunctionCall transaction. depositYocto is the
// yoctoNEAR deposit as a base-10 string ("0" for none).
func (c *Client) Call(ctx context.Context, signer Signer, receiver, method string, args []byte, depositYocto string, gas uint64, wait WaitUntil) (string, error) {
	if !c.allowTx {
		return "", fmt.Errorf("chain: transaction methods are disabled by configuration")
	}
	deposit, ok := new(big.Int).SetString(depositYocto, 10)
	if !ok {
		return "", fmt.Errorf("chain: invalid deposit amount %q", depositYocto)
	}

	nonce, err := c.fetchNonce(ctx, signer)
	if err != nil {
		return "", err
	}
	blockHash, err := c.recentBlockHash(ctx)
	if err != nil {
		return "", err
	}

	action := encodeFunctionCall(method, args, gas, deposit.Bytes())
	tx := buildTransaction(signer, nonce, receiver, blockHash, action)
	_, signedTx := signTransaction(signer, tx)

	return c.broadcast(ctx, signedTx, wait)
}

// Transfer signs and submits a Transfer transaction.
func (c *Client) Transfer(ctx context.Context, signer Signer, receiver string, amountYocto string, wait WaitUntil) (string, error) {
	if !c.allowTx {
		return "", fmt.Errorf("chain: transaction methods are disabled by configuration")
	}
	amount, ok := new(big.Int).SetString(amountYocto, 10)
	if !ok {
		return "", fmt.Errorf("chain: invalid transfer amount %q", amountYocto)
	}

	nonce, err := c.fetchNonce(ctx, signer)
	if err != nil {
		return "", err
	}
	blockHash, err := c.recentBlockHash(ctx)
	if err != nil {
		return "", err
	}

	action := encodeTransfer(amount.Bytes())
	tx := buildTransaction(signer, nonce, receiver, blockHash, action)
	_, signedTx := signTransaction(signer, tx)

	return c.broadcast(ctx, signedTx, wait)
}
