// Package coordinator implements the HTTP surface a standalone coordinator
// process exposes: a worker-facing API for leasing and completing tasks
// (mirroring C3's in-process queue.Queue one level up, over the wire, since
// workers run as separate processes per spec's scheduling model) and an
// operator-facing admin API for API key management, worker/cache
// inspection, and ingest progress.
//
// The router layering - a bearer-token subrouter wrapping a public health
// route - follows internal/keystore.Server's own gorilla/mux shape.
package coordinator

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/outlayer-net/cluster/internal/ingest"
	"github.com/outlayer-net/cluster/internal/queue"
	"github.com/outlayer-net/cluster/pkg/types"
)

// Server wires the coordinator's HTTP surface over an in-process Queue.
type Server struct {
	Queue      *queue.Queue
	APIKeys    *queue.APIKeyRegistry
	Workers    *queue.WorkerRegistry
	LastHeight ingest.LastHeightStore
	AuthToken  string
	Log        *logrus.Entry
}

func (s *Server) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.WithField("component", "coordinator")
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(jsonHeaders)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	worker := r.NewRoute().Subrouter()
	worker.Use(s.authMiddleware)
	worker.HandleFunc("/v1/lease", s.handleLease).Methods(http.MethodPost)
	worker.HandleFunc("/v1/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	worker.HandleFunc("/v1/complete", s.handleComplete).Methods(http.MethodPost)
	worker.HandleFunc("/v1/remove", s.handleRemove).Methods(http.MethodPost)
	worker.HandleFunc("/v1/worker_status", s.handleWorkerStatus).Methods(http.MethodPost)

	admin := r.NewRoute().Subrouter()
	admin.Use(s.authMiddleware)
	admin.HandleFunc("/admin/api_keys", s.handleCreateAPIKey).Methods(http.MethodPost)
	admin.HandleFunc("/admin/api_keys", s.handleListAPIKeys).Methods(http.MethodGet)
	admin.HandleFunc("/admin/workers", s.handleListWorkers).Methods(http.MethodGet)
	admin.HandleFunc("/admin/ingest_progress", s.handleIngestProgress).Methods(http.MethodGet)

	return r
}

func jsonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}
		token := auth[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type leaseRequest struct {
	WorkerId       string `json:"worker_id"`
	Compilation    bool   `json:"compilation"`
	Execution      bool   `json:"execution"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type leaseResponse struct {
	Found bool        `json:"found"`
	Task  *queue.Task `json:"task,omitempty"`
}

func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caps := queue.Capabilities{Compilation: req.Compilation, Execution: req.Execution}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second

	task, ok, err := s.Queue.Lease(r.Context(), req.WorkerId, caps, timeout)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeJSON(w, leaseResponse{Found: false})
		return
	}
	writeJSON(w, leaseResponse{Found: true, Task: &task})
}

type heartbeatRequest struct {
	DataId   types.DataId `json:"data_id"`
	WorkerId string       `json:"worker_id"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.Queue.Heartbeat(req.DataId, req.WorkerId); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

type completeRequest struct {
	DataId   types.DataId              `json:"data_id"`
	WorkerId string                    `json:"worker_id"`
	Terminal types.TerminalKind        `json:"terminal"`
	Response *types.ExecutionResponse  `json:"response"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.Queue.Complete(req.DataId, req.WorkerId, req.Terminal, req.Response); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

type removeRequest struct {
	DataId types.DataId `json:"data_id"`
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.Queue.Remove(req.DataId)
	writeJSON(w, map[string]bool{"ok": true})
}

type workerStatusRequest struct {
	WorkerId    string       `json:"worker_id"`
	Compilation bool         `json:"compilation"`
	Execution   bool         `json:"execution"`
	CurrentTask *types.DataId `json:"current_task"`
}

func (s *Server) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	if s.Workers == nil {
		writeJSON(w, map[string]bool{"ok": true})
		return
	}
	var req workerStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var current *[32]byte
	if req.CurrentTask != nil {
		id := [32]byte(*req.CurrentTask)
		current = &id
	}
	s.Workers.Report(req.WorkerId, queue.Capabilities{Compilation: req.Compilation, Execution: req.Execution}, current)
	writeJSON(w, map[string]bool{"ok": true})
}

type createAPIKeyRequest struct {
	Owner string `json:"owner"`
	Label string `json:"label"`
	Key   string `json:"key"`
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec := s.APIKeys.Register(req.Owner, req.Label, req.Key)
	writeJSON(w, rec)
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.APIKeys.List())
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Workers.List())
}

func (s *Server) handleIngestProgress(w http.ResponseWriter, r *http.Request) {
	height, ok, err := s.LastHeight.GetLastHeight(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"last_height": height, "known": ok})
}
