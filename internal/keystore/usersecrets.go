package keystore

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/outlayer-net/cluster/pkg/types"
)

// UpdateMode selects how new secrets merge with what the contract already
// has (spec §4.5 /update_user_secrets).
type UpdateMode string

const (
	ModeAppend UpdateMode = "append"
	ModeReset  UpdateMode = "reset"
)

type updateUserSecretsRequest struct {
	Accessor         types.SecretAccessor   `json:"accessor"`
	NewAccessor      *types.SecretAccessor  `json:"new_accessor"`
	Profile          string                 `json:"profile"`
	Owner            string                 `json:"owner"`
	Mode             UpdateMode             `json:"mode"`
	Secrets          map[string]json.RawMessage `json:"secrets"`
	GenerateProtected []generatedSecretSpec `json:"generate_protected"`
	SignedMessage    string                 `json:"signed_message"`
	Signature        string                 `json:"signature"`
	PublicKey        string                 `json:"public_key"`
	Nonce            string                 `json:"nonce"`
	Recipient        string                 `json:"recipient"`
}

type updateSummary struct {
	ProtectedKeysPreserved []string `json:"protected_keys_preserved"`
	UpdatedKeys            []string `json:"updated_keys"`
	RemovedKeys            []string `json:"removed_keys"`
	TotalKeys              int      `json:"total_keys"`
}

func (s *Server) handleUpdateUserSecrets(w http.ResponseWriter, r *http.Request) {
	if !s.KS.IsReady() {
		writeError(w, http.StatusUnauthorized, "keystore not ready, waiting for DAO approval")
		return
	}
	var req updateUserSecretsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sortedKeys := make([]string, 0, len(req.Secrets))
	for k := range req.Secrets {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)
	sortedProtected := make([]string, 0, len(req.GenerateProtected))
	for _, g := range req.GenerateProtected {
		sortedProtected = append(sortedProtected, g.Name)
	}
	sort.Strings(sortedProtected)

	expected := UpdateSecretsMessage(req.Owner, req.Profile, sortedKeys, sortedProtected)
	if req.SignedMessage != expected {
		writeError(w, http.StatusBadRequest, "invalid message format, expected: "+expected)
		return
	}

	if err := VerifyNep413(req.SignedMessage, req.Signature, req.PublicKey, req.Nonce, req.Recipient); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid signature: "+err.Error())
		return
	}

	for k := range req.Secrets {
		if HasReservedPrefix(k) {
			writeError(w, http.StatusBadRequest, "user secrets cannot use the PROTECTED_ prefix: "+k)
			return
		}
	}

	oldProfile, err := s.Profiles.GetSecretProfile(r.Context(), req.Accessor, req.Profile, req.Owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch secrets: "+err.Error())
		return
	}

	current := map[string]json.RawMessage{}
	oldSeed, err := accessorSeed(req.Accessor, oldProfile, req.Owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if oldProfile != nil {
		plaintext, err := s.KS.Decrypt(oldSeed, oldProfile.EncryptedSecrets)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to decrypt existing secrets: "+err.Error())
			return
		}
		if err := json.Unmarshal(plaintext, &current); err != nil {
			writeError(w, http.StatusInternalServerError, "decrypted data is not valid JSON")
			return
		}
	}

	var removedKeys, updatedKeys, protectedPreserved []string
	switch req.Mode {
	case ModeReset:
		for k := range current {
			if !HasReservedPrefix(k) {
				removedKeys = append(removedKeys, k)
				delete(current, k)
			}
		}
		for k, v := range req.Secrets {
			current[k] = v
			updatedKeys = append(updatedKeys, k)
		}
	default: // ModeAppend
		for k, v := range req.Secrets {
			current[k] = v
			updatedKeys = append(updatedKeys, k)
		}
	}
	for k := range current {
		if HasReservedPrefix(k) {
			protectedPreserved = append(protectedPreserved, k)
		}
	}

	for _, spec := range req.GenerateProtected {
		if _, exists := current[spec.Name]; exists {
			writeError(w, http.StatusBadRequest, "PROTECTED_ secrets are immutable once created: "+spec.Name)
			return
		}
	}

	newSeed := oldSeed
	if req.NewAccessor != nil {
		migrated, err := Seed(*req.NewAccessor, req.Owner)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		newSeed = migrated
	}

	for _, spec := range req.GenerateProtected {
		value, err := s.KS.GenerateSecret(newSeed, spec.GenerationType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		raw, _ := json.Marshal(value)
		current[spec.Name] = raw
		protectedPreserved = append(protectedPreserved, spec.Name)
	}

	finalJSON, err := json.Marshal(current)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	encrypted, err := s.KS.Encrypt(newSeed, finalJSON)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sort.Strings(removedKeys)
	sort.Strings(updatedKeys)
	sort.Strings(protectedPreserved)
	writeJSON(w, map[string]any{
		"encrypted_secrets_base64": base64.StdEncoding.EncodeToString(encrypted),
		"summary": updateSummary{
			ProtectedKeysPreserved: protectedPreserved,
			UpdatedKeys:            updatedKeys,
			RemovedKeys:            removedKeys,
			TotalKeys:              len(current),
		},
	})
}

// accessorSeed rebuilds the decryption seed for the OLD accessor using the
// profile's stored branch, exactly as /decrypt does.
func accessorSeed(accessor types.SecretAccessor, profile *SecretProfile, owner string) (string, error) {
	if profile != nil && accessor.Kind == types.AccessorRepo && accessor.Repo != nil {
		repoCopy := *accessor.Repo
		repoCopy.Branch = profile.Branch
		accessor.Repo = &repoCopy
	}
	return Seed(accessor, owner)
}
