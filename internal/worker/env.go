package worker

import (
	"encoding/hex"

	"github.com/outlayer-net/cluster/pkg/types"
)

// ExecutionEnv is everything C7 needs to run a guest module: its input,
// decrypted secrets, resource ceiling, and the NEAR_* context the guest
// reads to address its own on-chain calls and scoped storage bucket. The
// guest - never the worker - supplies any signer_id/signer_key it uses
// (spec §9); nothing here carries a private key.
type ExecutionEnv struct {
	Input              []byte
	Secrets            []byte // decrypted plaintext secrets blob, nil if none
	Limits             types.ResourceLimits
	ResponseFormat     types.ResponseFormat
	Sender             types.AccountId
	Payer              types.AccountId
	PaymentYocto       string
	ProjectUuid        string
	DataIdHex          string
	RequestId          uint64
	StoreOnFastFS      bool
	MaxCallsPerExec    int
}

func (c *Controller) buildEnv(req types.Request, secrets []byte, _ string) ExecutionEnv {
	return ExecutionEnv{
		Input:           req.Input,
		Secrets:         secrets,
		Limits:          req.Limits,
		ResponseFormat:  req.ResponseFormat,
		Sender:          req.Sender,
		Payer:           req.Payer,
		PaymentYocto:    req.PaymentYocto,
		ProjectUuid:     req.ProjectUuid,
		DataIdHex:       hexDataId(req.DataId),
		RequestId:       req.RequestId,
		StoreOnFastFS:   req.StoreOnFastFS,
		MaxCallsPerExec: c.Config.MaxCallsPerExec,
	}
}

func hexDataId(id [32]byte) string { return hex.EncodeToString(id[:]) }
