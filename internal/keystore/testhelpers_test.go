package keystore

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

func hexDecode32(s string) (*[32]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return &out, nil
}

func sealAnonymousForTest(recipientPub *[32]byte, plaintext []byte) ([]byte, error) {
	return box.SealAnonymous(nil, plaintext, recipientPub, nil)
}
