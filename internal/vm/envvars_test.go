package vm

import (
	"testing"

	"github.com/outlayer-net/cluster/internal/worker"
	"github.com/outlayer-net/cluster/pkg/types"
)

func TestBuildGuestEnvMergesSecretsAndMetadata(t *testing.T) {
	env := worker.ExecutionEnv{
		Secrets:      []byte(`{"API_KEY":"secret-value"}`),
		Sender:       "alice.near",
		Payer:        "bob.near",
		PaymentYocto: "1000",
		RequestId:    42,
		ProjectUuid:  "proj-1",
		Limits:       types.ResourceLimits{MaxInstructions: 5, MaxMemoryMB: 64, MaxWallSeconds: 3},
	}

	out, err := buildGuestEnv(env, "deadbeef")
	if err != nil {
		t.Fatalf("buildGuestEnv: %v", err)
	}
	if out["API_KEY"] != "secret-value" {
		t.Fatalf("expected the decrypted secret to be present, got %+v", out)
	}
	if out["NEAR_SENDER"] != "alice.near" || out["NEAR_PAYER"] != "bob.near" {
		t.Fatalf("unexpected sender/payer: %+v", out)
	}
	if out["NEAR_REQUEST_ID"] != "42" || out["NEAR_WASM_HASH"] != "deadbeef" {
		t.Fatalf("unexpected request metadata: %+v", out)
	}
	if out["NEAR_MAX_MEMORY_MB"] != "64" {
		t.Fatalf("unexpected memory limit var: %+v", out)
	}
}

func TestBuildGuestEnvSecretsCannotShadowReservedNames(t *testing.T) {
	env := worker.ExecutionEnv{
		Secrets: []byte(`{"NEAR_SENDER":"attacker.near","SAFE_KEY":"ok"}`),
		Sender:  "alice.near",
	}
	out, err := buildGuestEnv(env, "cafebabe")
	if err != nil {
		t.Fatalf("buildGuestEnv: %v", err)
	}
	if out["NEAR_SENDER"] != "alice.near" {
		t.Fatalf("a secret named NEAR_SENDER must not override request metadata, got %q", out["NEAR_SENDER"])
	}
	if out["SAFE_KEY"] != "ok" {
		t.Fatalf("expected the non-reserved secret to pass through")
	}
}

func TestBuildGuestEnvRejectsMalformedSecrets(t *testing.T) {
	env := worker.ExecutionEnv{Secrets: []byte(`not-json`)}
	if _, err := buildGuestEnv(env, "x"); err == nil {
		t.Fatalf("expected an error for malformed secrets")
	}
}

func TestSortedEnvKeysIsDeterministic(t *testing.T) {
	keys := sortedEnvKeys(map[string]string{"b": "1", "a": "2", "c": "3"})
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected key order: %v", keys)
	}
}
