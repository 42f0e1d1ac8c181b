package chain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Keystore DAO contract surface (spec §9 glossary "Keystore DAO",
// §7 contract method inventory): registration, proposal voting and the
// MPC chain-key-derivation request, all plain FunctionCall wrappers over
// the generic Client.Call/View primitives.
const (
	gasSubmitRegistration = 100_000_000_000_000
	gasRequestKey         = 100_000_000_000_000
	depositOneYocto       = "1"
)

// SubmitKeystoreRegistration submits this replica's (public_key, quote)
// pair for DAO approval (spec §4.5 bootstrap step 3).
func (c *Client) SubmitKeystoreRegistration(ctx context.Context, signer Signer, daoContract, publicKeyHex, quoteHex string) (string, error) {
	args, err := json.Marshal(map[string]string{
		"public_key": publicKeyHex,
		"tdx_quote_hex": quoteHex,
	})
	if err != nil {
		return "", err
	}
	return c.Call(ctx, signer, daoContract, "submit_keystore_registration", args, "0", gasSubmitRegistration, WaitExecuted)
}

type keystoreProposalView struct {
	Status string `json:"status"`
}

// KeystoreProposalStatus views the DAO proposal's current status for a
// registered public key.
func (c *Client) KeystoreProposalStatus(ctx context.Context, daoContract, publicKeyHex string) (string, error) {
	args, err := json.Marshal(map[string]string{"public_key": publicKeyHex})
	if err != nil {
		return "", err
	}
	raw, err := c.View(ctx, daoContract, "keystore_proposal_status", args, BlockRef{Finality: FinalityOptimistic})
	if err != nil {
		return "", err
	}
	var out keystoreProposalView
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("chain: malformed keystore_proposal_status response: %w", err)
	}
	return out.Status, nil
}

// RequestChainKeyDerivation calls the MPC contract's request_key entry
// point carrying the derivation path, attaching the 1 yoctoNEAR deposit
// the MPC contract requires. The response is the MPC network's signed
// share; verifying its BLS12-381 pairing signature is out of scope for
// this adapter (see DESIGN.md) and is the caller's responsibility.
func (c *Client) RequestChainKeyDerivation(ctx context.Context, signer Signer, mpcContract, derivationPath string) (string, error) {
	args, err := json.Marshal(map[string]string{"derivation_path": derivationPath})
	if err != nil {
		return "", err
	}
	return c.Call(ctx, signer, mpcContract, "request_key", args, depositOneYocto, gasRequestKey, WaitExecuted)
}
