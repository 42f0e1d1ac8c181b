package keystore

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/outlayer-net/cluster/internal/chain"
	"github.com/outlayer-net/cluster/pkg/types"
)

// PaymentKeyEvent is the system event the on-chain contract emits to
// initiate a payment-key top-up or deletion, carrying the yield's data_id
// (spec §4.5 payment-key secrets).
type PaymentKeyEvent struct {
	DataId      types.DataId
	Owner       types.AccountId
	Nonce       string
	Delete      bool
	TopUpYocto  string // empty when Delete is true
}

// PaymentKeyStore reads and writes the current encrypted payment-key
// record, scoped by the same System(PaymentKey, nonce) accessor used to
// derive its seed.
type PaymentKeyStore interface {
	GetPaymentKeyRecord(ctx context.Context, owner, nonce string) ([]byte, error)
	PutPaymentKeyRecord(ctx context.Context, owner, nonce string, encrypted []byte) error
	DeletePaymentKeyRecord(ctx context.Context, owner, nonce string) error
}

type paymentKeyBalance struct {
	BalanceYocto string `json:"balance_yocto"`
}

// PaymentKeyResumer drives the yield/resume pattern for payment-key
// system events: decrypt, mutate, re-encrypt, then wake the paused
// on-chain promise with resume_topup or resume_delete_payment_key, signed
// by the operator account (never a user signing key, spec §4.5).
type PaymentKeyResumer struct {
	KS       *Keystore
	Store    PaymentKeyStore
	Chain    *chain.Client
	Operator chain.Signer
	Contract string
}

// HandleTopUp adjusts the stored balance by deltaYocto and resumes the
// paused promise with the resulting new balance.
func (p *PaymentKeyResumer) HandleTopUp(ctx context.Context, ev PaymentKeyEvent) error {
	accessor := types.SecretAccessor{
		Kind:   types.AccessorSystem,
		System: &types.SystemAccessor{Kind: types.SystemPaymentKey, Nonce: ev.Nonce},
	}
	seed, err := Seed(accessor, ev.Owner)
	if err != nil {
		return p.resumeFailure(ctx, "resume_topup", ev.DataId, err)
	}

	encrypted, err := p.Store.GetPaymentKeyRecord(ctx, ev.Owner, ev.Nonce)
	if err != nil {
		return p.resumeFailure(ctx, "resume_topup", ev.DataId, err)
	}

	var balance paymentKeyBalance
	if len(encrypted) > 0 {
		plaintext, err := p.KS.Decrypt(seed, encrypted)
		if err != nil {
			return p.resumeFailure(ctx, "resume_topup", ev.DataId, err)
		}
		if err := json.Unmarshal(plaintext, &balance); err != nil {
			return p.resumeFailure(ctx, "resume_topup", ev.DataId, err)
		}
	}
	balance.BalanceYocto = addYocto(balance.BalanceYocto, ev.TopUpYocto)

	plaintext, err := json.Marshal(balance)
	if err != nil {
		return p.resumeFailure(ctx, "resume_topup", ev.DataId, err)
	}
	reencrypted, err := p.KS.Encrypt(seed, plaintext)
	if err != nil {
		return p.resumeFailure(ctx, "resume_topup", ev.DataId, err)
	}
	if err := p.Store.PutPaymentKeyRecord(ctx, ev.Owner, ev.Nonce, reencrypted); err != nil {
		return p.resumeFailure(ctx, "resume_topup", ev.DataId, err)
	}

	return p.resume(ctx, "resume_topup", ev.DataId, map[string]any{"success": true, "new_balance_yocto": balance.BalanceYocto})
}

// HandleDelete removes the stored record and resumes the paused promise.
func (p *PaymentKeyResumer) HandleDelete(ctx context.Context, ev PaymentKeyEvent) error {
	if err := p.Store.DeletePaymentKeyRecord(ctx, ev.Owner, ev.Nonce); err != nil {
		return p.resumeFailure(ctx, "resume_delete_payment_key", ev.DataId, err)
	}
	return p.resume(ctx, "resume_delete_payment_key", ev.DataId, map[string]any{"success": true})
}

func (p *PaymentKeyResumer) resume(ctx context.Context, method string, dataId types.DataId, result map[string]any) error {
	args, err := json.Marshal(map[string]any{"data_id": dataId, "result": result})
	if err != nil {
		return err
	}
	_, err = p.Chain.Call(ctx, p.Operator, p.Contract, method, args, "0", 30_000_000_000_000, chain.WaitExecuted)
	return err
}

func (p *PaymentKeyResumer) resumeFailure(ctx context.Context, method string, dataId types.DataId, cause error) error {
	logrus.WithError(cause).WithField("method", method).Error("keystore: payment-key event processing failed")
	return p.resume(ctx, method, dataId, map[string]any{"success": false, "error": cause.Error()})
}

// addYocto adds two base-10 yoctoNEAR decimal strings, treating an empty
// string as zero. yoctoNEAR amounts routinely exceed uint64 (NEAR's u128),
// so arithmetic goes through math/big rather than a machine int.
func addYocto(a, b string) string {
	if a == "" {
		a = "0"
	}
	if b == "" {
		b = "0"
	}
	ai, ok := new(big.Int).SetString(a, 10)
	if !ok {
		ai = big.NewInt(0)
	}
	bi, ok := new(big.Int).SetString(b, 10)
	if !ok {
		bi = big.NewInt(0)
	}
	return ai.Add(ai, bi).String()
}
