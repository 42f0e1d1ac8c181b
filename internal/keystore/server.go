package keystore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/outlayer-net/cluster/internal/access"
	"github.com/outlayer-net/cluster/pkg/types"
)

// SecretProfile is the on-chain record C5 reads before decrypting: the
// accessor's stored branch (for Repo accessors, authoritative over the
// request's branch), the encrypted payload and the gating AccessCondition.
type SecretProfile struct {
	EncryptedSecrets []byte
	Branch           *string
	Access           access.Condition
}

// ProfileReader reads a secret profile from the chain contract, with
// wildcard fallback for Repo accessors handled by the implementation
// (spec §4.5 /decrypt step (b)).
type ProfileReader interface {
	GetSecretProfile(ctx context.Context, accessor types.SecretAccessor, profile, owner string) (*SecretProfile, error)
}

// Server wires the keystore's HTTP surface: two public endpoints and four
// bearer-token-protected endpoints (spec §4.5).
type Server struct {
	KS                 *Keystore
	Profiles           ProfileReader
	Chain              access.ChainLookup
	Expected           ExpectedMeasurements
	TeeMode            string
	AllowedTokenHashes map[string]bool
	// Payments is optional: a coordinator forwards payment-key system
	// events here rather than running PaymentKeyResumer in-process, since
	// only the keystore process holds the live master secret it needs.
	Payments *PaymentKeyResumer
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(jsonHeaders)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/pubkey", s.handlePubkey).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.authMiddleware)
	protected.HandleFunc("/decrypt", s.handleDecrypt).Methods(http.MethodPost)
	protected.HandleFunc("/add_generated_secret", s.handleAddGeneratedSecret).Methods(http.MethodPost)
	protected.HandleFunc("/update_user_secrets", s.handleUpdateUserSecrets).Methods(http.MethodPost)
	protected.HandleFunc("/internal/payment_key_event", s.handlePaymentKeyEvent).Methods(http.MethodPost)

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
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}
		sum := sha256.Sum256([]byte(token))
		if !s.AllowedTokenHashes[hex.EncodeToString(sum[:])] {
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
	writeJSON(w, map[string]string{"status": "ok", "tee_mode": s.TeeMode})
}

type pubkeyRequest struct {
	Seed        string `json:"seed"`
	SecretsJSON string `json:"secrets_json"`
}

func (s *Server) handlePubkey(w http.ResponseWriter, r *http.Request) {
	if !s.KS.IsReady() {
		writeError(w, http.StatusUnauthorized, "keystore not ready, waiting for DAO approval")
		return
	}
	var req pubkeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var secretsMap map[string]json.RawMessage
	if err := json.Unmarshal([]byte(req.SecretsJSON), &secretsMap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid secrets_json")
		return
	}
	keys := make([]string, 0, len(secretsMap))
	for k := range secretsMap {
		keys = append(keys, k)
	}
	if err := ValidateUserSecretKeys(keys); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pub, err := s.KS.PublicKeyHex(req.Seed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"pubkey": pub})
}

type attestationRequest struct {
	QuoteHex     string       `json:"quote_hex"`
	Measurements Measurements `json:"measurements"`
}

type decryptRequest struct {
	Accessor      types.SecretAccessor `json:"accessor"`
	Profile       string               `json:"profile"`
	Owner         string               `json:"owner"`
	UserAccountId string               `json:"user_account_id"`
	Attestation   attestationRequest   `json:"attestation"`
	TaskId        string               `json:"task_id,omitempty"`
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	if !s.KS.IsReady() {
		writeError(w, http.StatusUnauthorized, "keystore not ready, waiting for DAO approval")
		return
	}
	var req decryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Step (a): the attestation must check out against the configured
	// measurement allow-list before anything else happens (spec §4.5).
	if err := s.Expected.Verify(s.TeeMode, req.Attestation.QuoteHex, req.Attestation.Measurements); err != nil {
		logrus.WithError(err).WithField("task_id", req.TaskId).Warn("keystore: attestation invalid")
		writeError(w, http.StatusUnauthorized, "attestation invalid")
		return
	}

	profile, err := s.Profiles.GetSecretProfile(r.Context(), req.Accessor, req.Profile, req.Owner)
	if err != nil {
		logrus.WithError(err).WithField("task_id", req.TaskId).Error("keystore: failed to read secret profile")
		writeError(w, http.StatusInternalServerError, "failed to read secrets from contract")
		return
	}
	if profile == nil {
		writeError(w, http.StatusBadRequest, "secrets not found in contract")
		return
	}

	granted, err := access.Evaluate(r.Context(), profile.Access, req.UserAccountId, s.Chain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "access validation failed: "+err.Error())
		return
	}
	if !granted {
		writeError(w, http.StatusUnauthorized, "access denied by access condition")
		return
	}

	// The seed is rebuilt from the accessor with the profile's own branch,
	// never the request's: the request's branch already selected which
	// profile the contract returned, but encryption happened at write time
	// against the stored branch (spec §4.5).
	accessor := req.Accessor
	if accessor.Kind == types.AccessorRepo && accessor.Repo != nil {
		repoCopy := *accessor.Repo
		repoCopy.Branch = profile.Branch
		accessor.Repo = &repoCopy
	}
	seed, err := Seed(accessor, req.Owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	plaintext, err := s.KS.Decrypt(seed, profile.EncryptedSecrets)
	if err != nil {
		logrus.WithError(err).WithField("task_id", req.TaskId).Error("keystore: decryption failed")
		writeError(w, http.StatusInternalServerError, "decryption failed")
		return
	}

	writeJSON(w, map[string]string{"plaintext_secrets": base64.StdEncoding.EncodeToString(plaintext)})
}

func (s *Server) handlePaymentKeyEvent(w http.ResponseWriter, r *http.Request) {
	if !s.KS.IsReady() {
		writeError(w, http.StatusUnauthorized, "keystore not ready, waiting for DAO approval")
		return
	}
	if s.Payments == nil {
		writeError(w, http.StatusNotImplemented, "payment-key forwarding is not configured")
		return
	}
	var ev PaymentKeyEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	if ev.Delete {
		err = s.Payments.HandleDelete(r.Context(), ev)
	} else {
		err = s.Payments.HandleTopUp(r.Context(), ev)
	}
	if err != nil {
		logrus.WithError(err).Error("keystore: payment-key event handling failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

type generatedSecretSpec struct {
	Name           string `json:"name"`
	GenerationType string `json:"generation_type"`
}

type addGeneratedSecretRequest struct {
	Seed                   string                `json:"seed"`
	EncryptedSecretsBase64 *string               `json:"encrypted_secrets_base64"`
	NewSecrets             []generatedSecretSpec `json:"new_secrets"`
}

func (s *Server) handleAddGeneratedSecret(w http.ResponseWriter, r *http.Request) {
	if !s.KS.IsReady() {
		writeError(w, http.StatusUnauthorized, "keystore not ready, waiting for DAO approval")
		return
	}
	var req addGeneratedSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	secretsMap := map[string]json.RawMessage{}
	if req.EncryptedSecretsBase64 != nil && *req.EncryptedSecretsBase64 != "" {
		encrypted, err := base64.StdEncoding.DecodeString(*req.EncryptedSecretsBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid base64 in encrypted_secrets")
			return
		}
		plaintext, err := s.KS.Decrypt(req.Seed, encrypted)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to decrypt existing secrets: "+err.Error())
			return
		}
		if err := json.Unmarshal(plaintext, &secretsMap); err != nil {
			writeError(w, http.StatusInternalServerError, "decrypted data is not valid JSON")
			return
		}
	}

	for k := range secretsMap {
		if HasReservedPrefix(k) {
			writeError(w, http.StatusBadRequest, "manual secrets cannot use the PROTECTED_ prefix: "+k)
			return
		}
	}
	for _, spec := range req.NewSecrets {
		if !HasReservedPrefix(spec.Name) {
			writeError(w, http.StatusBadRequest, "generated secrets must start with PROTECTED_: "+spec.Name)
			return
		}
		if _, exists := secretsMap[spec.Name]; exists {
			writeError(w, http.StatusBadRequest, "cannot generate secrets: key already exists: "+spec.Name)
			return
		}
	}

	var allKeys []string
	for _, spec := range req.NewSecrets {
		value, err := s.KS.GenerateSecret(req.Seed, spec.GenerationType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		raw, _ := json.Marshal(value)
		secretsMap[spec.Name] = raw
	}
	for k := range secretsMap {
		allKeys = append(allKeys, k)
	}
	if err := ValidateUserSecretKeys(allKeys); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	finalJSON, err := json.Marshal(secretsMap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	encrypted, err := s.KS.Encrypt(req.Seed, finalJSON)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sort.Strings(allKeys)
	writeJSON(w, map[string]any{
		"encrypted_data_base64": base64.StdEncoding.EncodeToString(encrypted),
		"all_keys":              allKeys,
	})
}
