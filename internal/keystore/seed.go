package keystore

import (
	"fmt"
	"strings"

	"github.com/outlayer-net/cluster/pkg/types"
)

// normalizeRepo strips a leading scheme and trailing whitespace, matching
// the normalization the contract applies before storing a Repo accessor.
func normalizeRepo(repo string) string {
	repo = strings.TrimSpace(repo)
	repo = strings.TrimPrefix(repo, "https://")
	repo = strings.TrimPrefix(repo, "http://")
	return repo
}

// Seed builds the deterministic seed string for an accessor, profile and
// owner (spec §4.5 accessor/seed table). Branch handling is the caller's
// responsibility: pass the branch that was actually stored alongside the
// secret, never the one in an incoming request, so wildcard secrets
// (branch=nil) keep decrypting every request branch that matches them.
func Seed(accessor types.SecretAccessor, owner types.AccountId) (string, error) {
	switch accessor.Kind {
	case types.AccessorRepo:
		if accessor.Repo == nil {
			return "", fmt.Errorf("keystore: Repo accessor missing repo fields")
		}
		repo := normalizeRepo(accessor.Repo.Repo)
		if accessor.Repo.Branch != nil && *accessor.Repo.Branch != "" {
			return fmt.Sprintf("%s:%s:%s", repo, owner, *accessor.Repo.Branch), nil
		}
		return fmt.Sprintf("%s:%s", repo, owner), nil

	case types.AccessorWasmHash:
		if accessor.WasmHash == "" {
			return "", fmt.Errorf("keystore: WasmHash accessor missing hash")
		}
		return fmt.Sprintf("wasm_hash:%s:%s", accessor.WasmHash, owner), nil

	case types.AccessorProject:
		if accessor.ProjectId == "" {
			return "", fmt.Errorf("keystore: Project accessor missing project id")
		}
		return fmt.Sprintf("project:%s:%s", accessor.ProjectId, owner), nil

	case types.AccessorSystem:
		if accessor.System == nil {
			return "", fmt.Errorf("keystore: System accessor missing fields")
		}
		switch accessor.System.Kind {
		case types.SystemPaymentKey:
			return fmt.Sprintf("system:payment_key:%s:%s", accessor.System.Nonce, owner), nil
		default:
			return "", fmt.Errorf("keystore: unknown system accessor kind %q", accessor.System.Kind)
		}

	default:
		return "", fmt.Errorf("keystore: unknown accessor kind %q", accessor.Kind)
	}
}
