package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/outlayer-net/cluster/internal/ingest"
	"github.com/outlayer-net/cluster/internal/queue"
	"github.com/outlayer-net/cluster/pkg/types"
)

type stubLastHeight struct {
	height uint64
	known  bool
}

func (s stubLastHeight) GetLastHeight(ctx context.Context) (uint64, bool, error) {
	return s.height, s.known, nil
}

func (s stubLastHeight) PutLastHeight(ctx context.Context, height uint64) error {
	return nil
}

var _ ingest.LastHeightStore = stubLastHeight{}

func testServer() *Server {
	return &Server{
		Queue:      queue.New(time.Minute),
		APIKeys:    queue.NewAPIKeyRegistry(),
		Workers:    queue.NewWorkerRegistry(),
		LastHeight: stubLastHeight{height: 42, known: true},
		AuthToken:  "test-token",
	}
}

func TestHealthIsPublic(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestLeaseRequiresBearerToken(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/lease", bytes.NewReader([]byte("{}")))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", w.Code)
	}
}

func TestLeaseReturnsNotFoundWhenQueueEmpty(t *testing.T) {
	s := testServer()
	body, _ := json.Marshal(leaseRequest{WorkerId: "w1", Execution: true, TimeoutSeconds: 0})
	req := httptest.NewRequest(http.MethodPost, "/v1/lease", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp leaseResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Found {
		t.Fatalf("expected no task to be found")
	}
}

func TestLeaseHeartbeatCompleteRemoveLifecycle(t *testing.T) {
	s := testServer()
	dataId := types.DataId{1}
	s.Queue.CreateTask(types.Request{DataId: dataId, CompileOnly: true})

	leaseBody, _ := json.Marshal(leaseRequest{WorkerId: "w1", Compilation: true, TimeoutSeconds: 1})
	leaseReq := httptest.NewRequest(http.MethodPost, "/v1/lease", bytes.NewReader(leaseBody))
	leaseReq.Header.Set("Authorization", "Bearer test-token")
	leaseW := httptest.NewRecorder()
	s.Router().ServeHTTP(leaseW, leaseReq)

	var leaseResp leaseResponse
	if err := json.Unmarshal(leaseW.Body.Bytes(), &leaseResp); err != nil {
		t.Fatalf("decode lease response: %v", err)
	}
	if !leaseResp.Found || leaseResp.Task.DataId != dataId {
		t.Fatalf("expected the freshly created task to be leased, got %+v", leaseResp)
	}

	hbBody, _ := json.Marshal(heartbeatRequest{DataId: dataId, WorkerId: "w1"})
	hbReq := httptest.NewRequest(http.MethodPost, "/v1/heartbeat", bytes.NewReader(hbBody))
	hbReq.Header.Set("Authorization", "Bearer test-token")
	hbW := httptest.NewRecorder()
	s.Router().ServeHTTP(hbW, hbReq)
	if hbW.Code != http.StatusOK {
		t.Fatalf("expected heartbeat to succeed, got %d: %s", hbW.Code, hbW.Body.String())
	}

	completeBody, _ := json.Marshal(completeRequest{
		DataId:   dataId,
		WorkerId: "w1",
		Terminal: types.TerminalSuccess,
		Response: &types.ExecutionResponse{Success: true},
	})
	completeReq := httptest.NewRequest(http.MethodPost, "/v1/complete", bytes.NewReader(completeBody))
	completeReq.Header.Set("Authorization", "Bearer test-token")
	completeW := httptest.NewRecorder()
	s.Router().ServeHTTP(completeW, completeReq)
	if completeW.Code != http.StatusOK {
		t.Fatalf("expected complete to succeed, got %d: %s", completeW.Code, completeW.Body.String())
	}

	removeBody, _ := json.Marshal(removeRequest{DataId: dataId})
	removeReq := httptest.NewRequest(http.MethodPost, "/v1/remove", bytes.NewReader(removeBody))
	removeReq.Header.Set("Authorization", "Bearer test-token")
	removeW := httptest.NewRecorder()
	s.Router().ServeHTTP(removeW, removeReq)
	if removeW.Code != http.StatusOK {
		t.Fatalf("expected remove to succeed, got %d: %s", removeW.Code, removeW.Body.String())
	}
	if _, ok := s.Queue.Get(dataId); ok {
		t.Fatalf("expected the task to be gone after remove")
	}
}

func TestCreateAndListAPIKeys(t *testing.T) {
	s := testServer()
	body, _ := json.Marshal(createAPIKeyRequest{Owner: "alice.near", Label: "ci", Key: "sk-abc"})
	req := httptest.NewRequest(http.MethodPost, "/admin/api_keys", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/admin/api_keys", nil)
	listReq.Header.Set("Authorization", "Bearer test-token")
	listW := httptest.NewRecorder()
	s.Router().ServeHTTP(listW, listReq)
	if listW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", listW.Code, listW.Body.String())
	}
}

func TestIngestProgressReportsLastHeight(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/ingest_progress", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["last_height"].(float64) != 42 {
		t.Fatalf("expected last_height 42, got %v", resp["last_height"])
	}
}
