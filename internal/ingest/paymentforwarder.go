package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/outlayer-net/cluster/internal/keystore"
	"github.com/outlayer-net/cluster/pkg/utils"
)

// HTTPPaymentForwarder implements PaymentForwarder by calling a standalone
// keystore process's internal payment-key endpoint, since the keystore
// holds the TEE-derived master secret that PaymentKeyResumer needs and the
// coordinator never does - payment-key events must leave the process
// rather than run in-process against a *keystore.Keystore, pooling
// connections the same way HTTPSecretsClient pools its own transport.
type HTTPPaymentForwarder struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

func NewHTTPPaymentForwarder(baseURL, authToken string) *HTTPPaymentForwarder {
	return &HTTPPaymentForwarder{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (h *HTTPPaymentForwarder) post(ctx context.Context, ev keystore.PaymentKeyEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return utils.Wrap(err, "marshal payment key event")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/internal/payment_key_event", bytes.NewReader(body))
	if err != nil {
		return utils.Wrap(err, "build payment key event request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+h.authToken)

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return utils.Wrap(err, "call keystore payment key event")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ingest: keystore payment key event returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// HandleTopUp forwards a top-up event to the keystore process.
func (h *HTTPPaymentForwarder) HandleTopUp(ctx context.Context, ev keystore.PaymentKeyEvent) error {
	ev.Delete = false
	return h.post(ctx, ev)
}

// HandleDelete forwards a deletion event to the keystore process.
func (h *HTTPPaymentForwarder) HandleDelete(ctx context.Context, ev keystore.PaymentKeyEvent) error {
	ev.Delete = true
	return h.post(ctx, ev)
}
