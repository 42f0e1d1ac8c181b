package vm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/outlayer-net/cluster/internal/worker"
)

// reservedPrefix is forbidden as a user secret key by C5; guarded here too
// so a malformed secrets blob can never shadow request metadata.
const reservedPrefix = "NEAR_"

// buildGuestEnv merges decrypted secrets with the fixed NEAR_* metadata set
// (spec §4.7 host surface item 2) into the flat string map exposed to the
// guest. Secrets are applied first so a reserved name in the secrets blob -
// which C5 already rejects at write time - can never override request
// metadata read by the guest.
func buildGuestEnv(env worker.ExecutionEnv, wasmChecksum string) (map[string]string, error) {
	out := map[string]string{}

	if len(env.Secrets) > 0 {
		var secrets map[string]string
		if err := json.Unmarshal(env.Secrets, &secrets); err != nil {
			return nil, fmt.Errorf("vm: decrypted secrets are not a flat string map: %w", err)
		}
		for k, v := range secrets {
			if strings.HasPrefix(k, reservedPrefix) {
				continue
			}
			out[k] = v
		}
	}

	out["NEAR_SENDER"] = env.Sender
	out["NEAR_PAYER"] = env.Payer
	out["NEAR_PAYMENT_YOCTO"] = env.PaymentYocto
	out["NEAR_REQUEST_ID"] = fmt.Sprintf("%d", env.RequestId)
	out["NEAR_DATA_ID"] = env.DataIdHex
	out["NEAR_PROJECT_UUID"] = env.ProjectUuid
	out["NEAR_WASM_HASH"] = wasmChecksum
	out["NEAR_MAX_INSTRUCTIONS"] = fmt.Sprintf("%d", env.Limits.MaxInstructions)
	out["NEAR_MAX_MEMORY_MB"] = fmt.Sprintf("%d", env.Limits.MaxMemoryMB)
	out["NEAR_MAX_WALL_SECONDS"] = fmt.Sprintf("%d", env.Limits.MaxWallSeconds)
	out["NEAR_RESPONSE_FORMAT"] = string(env.ResponseFormat)
	return out, nil
}

// sortedEnvKeys returns the guest env map's keys in deterministic order, for
// building a reproducible WASI environment list.
func sortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
