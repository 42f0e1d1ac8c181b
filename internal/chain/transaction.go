package chain

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/mr-tron/base58"

	"github.com/outlayer-net/cluster/pkg/borsh"
)

// action discriminants, matching the NEAR transaction Action enum ordering
// for the two variants this adapter emits.
const (
	actionFunctionCall uint8 = 2
	actionTransfer     uint8 = 3
)

// buildTransaction Borsh-encodes a single-action transaction following the
// NEAR transaction wire schema: signer_id, public_key (enum tag 0 for
// ed25519 + 32 raw bytes), nonce, receiver_id, block_hash (32 bytes),
// actions (Vec with one element).
func buildTransaction(signer Signer, nonce uint64, receiver string, blockHash [32]byte, actionBytes []byte) []byte {
	w := borsh.NewWriter()
	w.String(signer.AccountId)
	w.U8(0) // public key enum tag: ED25519
	w.FixedBytes(signer.PrivateKey.Public().(ed25519.PublicKey))
	w.U64(nonce)
	w.String(receiver)
	w.FixedBytes(blockHash[:])
	w.U32(1) // one action
	w.FixedBytes(actionBytes)
	return w.Bytes()
}

func encodeFunctionCall(method string, args []byte, gas uint64, depositYocto []byte) []byte {
	w := borsh.NewWriter()
	w.U8(actionFunctionCall)
	w.String(method)
	w.VecU8(args)
	w.U64(gas)
	w.U128(depositYocto)
	return w.Bytes()
}

func encodeTransfer(depositYocto []byte) []byte {
	w := borsh.NewWriter()
	w.U8(actionTransfer)
	w.U128(depositYocto)
	return w.Bytes()
}

// signTransaction hashes the Borsh-encoded transaction with SHA-256 and
// ed25519-signs the hash, returning (txHash base58, signedTxBorsh).
func signTransaction(signer Signer, txBytes []byte) (string, []byte) {
	hash := sha256.Sum256(txBytes)
	sig := ed25519.Sign(signer.PrivateKey, hash[:])

	w := borsh.NewWriter()
	w.FixedBytes(txBytes)
	w.U8(0) // signature enum tag: ED25519
	w.FixedBytes(sig)

	return base58.Encode(hash[:]), w.Bytes()
}
