package keystore

import (
	"context"
	"crypto/sha256"

	"github.com/outlayer-net/cluster/internal/chain"
)

// ChainRegistrar adapts internal/chain.Client to the Registrar interface
// for one fixed DAO contract.
type ChainRegistrar struct {
	Client      *chain.Client
	Signer      chain.Signer
	DaoContract string
}

func (r ChainRegistrar) SubmitRegistration(ctx context.Context, publicKeyHex, quoteHex string) error {
	_, err := r.Client.SubmitKeystoreRegistration(ctx, r.Signer, r.DaoContract, publicKeyHex, quoteHex)
	return err
}

func (r ChainRegistrar) ProposalStatus(ctx context.Context, publicKeyHex string) (ProposalStatus, error) {
	status, err := r.Client.KeystoreProposalStatus(ctx, r.DaoContract, publicKeyHex)
	if err != nil {
		return "", err
	}
	return ProposalStatus(status), nil
}

// ChainCKDClient adapts internal/chain.Client to the CKDClient interface.
// The MPC network's response is hashed down to a fixed-size share before
// HKDF-expansion happens one level up in Bootstrap.Run; a production
// deployment would instead verify the BLS12-381 pairing signature over
// the raw share (see DESIGN.md for why that step is not implemented here).
type ChainCKDClient struct {
	Client      *chain.Client
	Signer      chain.Signer
	MpcContract string
}

func (c ChainCKDClient) RequestSecret(ctx context.Context, derivationPath string) ([]byte, error) {
	resultHex, err := c.Client.RequestChainKeyDerivation(ctx, c.Signer, c.MpcContract, derivationPath)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(resultHex))
	return sum[:], nil
}
