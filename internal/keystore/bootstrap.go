package keystore

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

func nearPublicKeyBase58(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// BootstrapState is one stage of the keystore's startup state machine
// (spec §4.5). Until Ready, every cryptographic endpoint rejects requests.
type BootstrapState string

const (
	StateKeyGen        BootstrapState = "key_gen"
	StateAttest        BootstrapState = "attest"
	StateRegister      BootstrapState = "register"
	StateAwaitApproval BootstrapState = "await_approval"
	StateKeyRequest    BootstrapState = "key_request"
	StateReady         BootstrapState = "ready"
)

// ProposalStatus mirrors the DAO contract's proposal lifecycle.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "Pending"
	ProposalExecuted ProposalStatus = "Executed"
	ProposalRejected ProposalStatus = "Rejected"
)

// Attestor produces a TEE attestation quote embedding reportData in the
// quote's report-data field. A non-TEE deployment (spec's "none" tee_mode)
// uses a stub that returns a fixed marker quote.
type Attestor interface {
	Quote(ctx context.Context, reportData [32]byte) (quoteHex string, err error)
}

// Registrar is the DAO-contract-facing half of bootstrap: submitting the
// registration and polling proposal status.
type Registrar interface {
	SubmitRegistration(ctx context.Context, publicKeyHex, quoteHex string) error
	ProposalStatus(ctx context.Context, publicKeyHex string) (ProposalStatus, error)
}

// CKDClient requests the deterministic master secret from the MPC
// chain-key-derivation network once this keystore's public key has been
// installed as an access key on the DAO account. The real flow verifies a
// BLS12-381 pairing signature over the returned share before trusting it;
// no BLS12-381 library exists anywhere in the pack, so that verification
// step is the implementation's responsibility (see DESIGN.md) and this
// interface receives an already-verified secret.
type CKDClient interface {
	RequestSecret(ctx context.Context, derivationPath string) (secret []byte, err error)
}

// BootstrapConfig parameterises the state machine's timing.
type BootstrapConfig struct {
	PollInterval    time.Duration
	ApprovalTimeout time.Duration // spec requires >= 30 minutes
}

func (c BootstrapConfig) withDefaults() BootstrapConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 30 * time.Minute
	}
	return c
}

// Bootstrap drives a Keystore from KeyGen through Ready.
type Bootstrap struct {
	ks        *Keystore
	attestor  Attestor
	registrar Registrar
	ckd       CKDClient
	cfg       BootstrapConfig

	state  BootstrapState
	pubKey ed25519.PublicKey
}

func NewBootstrap(ks *Keystore, attestor Attestor, registrar Registrar, ckd CKDClient, cfg BootstrapConfig) *Bootstrap {
	return &Bootstrap{ks: ks, attestor: attestor, registrar: registrar, ckd: ckd, cfg: cfg.withDefaults(), state: StateKeyGen}
}

func (b *Bootstrap) State() BootstrapState { return b.state }

// Run executes every bootstrap stage in order, aborting the process (by
// returning an error) if DAO approval does not arrive within the
// configured timeout (spec §5, keystore cancellation rules).
func (b *Bootstrap) Run(ctx context.Context) error {
	identityPub, identityPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("keystore: bootstrap key_gen: %w", err)
	}
	b.pubKey = identityPub
	b.state = StateAttest
	logrus.Info("keystore bootstrap: generated ephemeral identity keypair")

	var reportData [32]byte
	copy(reportData[:], identityPub)
	quoteHex, err := b.attestor.Quote(ctx, reportData)
	if err != nil {
		return fmt.Errorf("keystore: bootstrap attest: %w", err)
	}
	b.state = StateRegister
	logrus.WithField("quote_len", len(quoteHex)).Info("keystore bootstrap: produced attestation quote")

	publicKeyHex := "ed25519:" + nearPublicKeyBase58(identityPub)
	if err := b.registrar.SubmitRegistration(ctx, publicKeyHex, quoteHex); err != nil {
		return fmt.Errorf("keystore: bootstrap register: %w", err)
	}
	b.state = StateAwaitApproval
	logrus.WithField("public_key", publicKeyHex).Info("keystore bootstrap: submitted DAO registration")

	if err := b.awaitApproval(ctx, publicKeyHex); err != nil {
		return err
	}
	b.state = StateKeyRequest

	derivationPath := publicKeyHex
	secret, err := b.ckd.RequestSecret(ctx, derivationPath)
	if err != nil {
		return fmt.Errorf("keystore: bootstrap key_request: %w", err)
	}
	master, err := hkdfExpand32(secret, derivationPath)
	if err != nil {
		return fmt.Errorf("keystore: bootstrap key_request hkdf: %w", err)
	}
	b.ks.Replace(master)

	b.state = StateReady
	b.ks.SetReady(true)
	logrus.Info("keystore bootstrap: ready")
	_ = identityPriv // the identity signing key is not retained once registration is submitted
	return nil
}

func (b *Bootstrap) awaitApproval(ctx context.Context, publicKeyHex string) error {
	deadline := time.Now().Add(b.cfg.ApprovalTimeout)
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := b.registrar.ProposalStatus(ctx, publicKeyHex)
		if err != nil {
			logrus.WithError(err).Warn("keystore bootstrap: proposal status poll failed, retrying")
		} else {
			switch status {
			case ProposalExecuted:
				return nil
			case ProposalRejected:
				return fmt.Errorf("keystore: DAO rejected registration for %s", publicKeyHex)
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("keystore: DAO approval timed out after %s", b.cfg.ApprovalTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func hkdfExpand32(secret []byte, info string) ([]byte, error) {
	out := make([]byte, 32)
	h := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := h.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}
