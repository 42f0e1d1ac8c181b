package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/outlayer-net/cluster/pkg/types"
	"github.com/outlayer-net/cluster/pkg/utils"
)

// HTTPSecretsClient calls the keystore's /decrypt endpoint, pooling
// connections the same way internal/chain.Client pools its RPC transport.
type HTTPSecretsClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPSecretsClient(baseURL string) *HTTPSecretsClient {
	return &HTTPSecretsClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// DecryptError is a classified /decrypt failure (spec §4.5's decrypt
// failure taxonomy: not found, access denied, attestation invalid,
// decryption failed), so the controller can pick a TerminalKind without
// string-matching the keystore's human-readable message.
type DecryptError struct {
	Kind       string
	StatusCode int
	Message    string
}

func (e *DecryptError) Error() string { return e.Message }

const (
	DecryptErrNotFound           = "not_found"
	DecryptErrAccessDenied       = "access_denied"
	DecryptErrAttestationInvalid = "attestation_invalid"
	DecryptErrDecryptionFailed   = "decryption_failed"
)

// classifyDecryptError maps the keystore's /decrypt HTTP status and body to
// one of the named kinds; a status this client doesn't recognize falls back
// to decryption_failed, the safest of the four to refund as.
func classifyDecryptError(statusCode int, body string) *DecryptError {
	lower := strings.ToLower(body)
	e := &DecryptError{StatusCode: statusCode, Message: fmt.Sprintf("worker: keystore decrypt returned %d: %s", statusCode, body)}
	switch {
	case statusCode == http.StatusBadRequest && strings.Contains(lower, "not found"):
		e.Kind = DecryptErrNotFound
	case statusCode == http.StatusUnauthorized && strings.Contains(lower, "attestation"):
		e.Kind = DecryptErrAttestationInvalid
	case statusCode == http.StatusUnauthorized:
		e.Kind = DecryptErrAccessDenied
	default:
		e.Kind = DecryptErrDecryptionFailed
	}
	return e
}

type decryptRequestBody struct {
	Accessor      types.SecretAccessor `json:"accessor"`
	Profile       string               `json:"profile"`
	Owner         string               `json:"owner"`
	UserAccountId string               `json:"user_account_id"`
	TaskId        string               `json:"task_id,omitempty"`
}

type decryptResponseBody struct {
	PlaintextSecrets string `json:"plaintext_secrets"`
}

// Decrypt asks the keystore to evaluate ref's access condition against
// userAccountId and, if granted, return the profile's decrypted secrets.
func (h *HTTPSecretsClient) Decrypt(ctx context.Context, ref types.SecretsRef, taskId, userAccountId string) ([]byte, error) {
	body, err := json.Marshal(decryptRequestBody{
		Accessor:      ref.Accessor,
		Profile:       ref.Profile,
		Owner:         ref.Owner,
		UserAccountId: userAccountId,
		TaskId:        taskId,
	})
	if err != nil {
		return nil, utils.Wrap(err, "marshal decrypt request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/decrypt", bytes.NewReader(body))
	if err != nil {
		return nil, utils.Wrap(err, "build decrypt request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, utils.Wrap(err, "call keystore decrypt")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, utils.Wrap(err, "read decrypt response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyDecryptError(resp.StatusCode, string(respBody))
	}

	var out decryptResponseBody
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, utils.Wrap(err, "decode decrypt response")
	}
	plaintext, err := base64.StdEncoding.DecodeString(out.PlaintextSecrets)
	if err != nil {
		return nil, utils.Wrap(err, "decode plaintext_secrets")
	}
	return plaintext, nil
}
