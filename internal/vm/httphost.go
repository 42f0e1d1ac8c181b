package vm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpHostArgs is the guest-supplied outbound HTTP request.
type httpHostArgs struct {
	Method  string            `json:"method"`
	Url     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

type httpHostResult struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// httpHost dispatches the guest's outbound HTTP calls (spec §4.7 host
// surface item 5), bounded by a per-execution call counter and a
// worker-configured destination allow-list.
type httpHost struct {
	client    *http.Client
	allowlist []string
	maxCalls  int
	used      int
}

func newHTTPHost(allowlist []string, maxCalls int) *httpHost {
	return &httpHost{
		client:    &http.Client{Timeout: 30 * time.Second},
		allowlist: allowlist,
		maxCalls:  maxCalls,
	}
}

func (h *httpHost) hostAllowed(rawURL string) bool {
	if len(h.allowlist) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowlist {
		if strings.EqualFold(u.Hostname(), allowed) {
			return true
		}
	}
	return false
}

func (h *httpHost) dispatch(ctx context.Context, argsJSON []byte) (json.RawMessage, error) {
	if h.used >= h.maxCalls {
		return nil, errHTTPCallBudgetExhausted
	}

	var a httpHostArgs
	if err := json.Unmarshal(argsJSON, &a); err != nil {
		return nil, err
	}
	if !h.hostAllowed(a.Url) {
		return nil, errHTTPHostNotAllowed
	}
	h.used++

	method := a.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, a.Url, bodyReader(a.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return json.Marshal(httpHostResult{Status: resp.StatusCode, Headers: headers, Body: body})
}

// maxHTTPResponseBytes caps a guest-fetched response body, mirroring the
// 64 MiB ceiling the worker applies to its own wasm_url fetches.
const maxHTTPResponseBytes = 64 * 1024 * 1024

func bodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return strings.NewReader(string(body))
}
