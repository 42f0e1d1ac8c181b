package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/outlayer-net/cluster/internal/chain"
	"github.com/outlayer-net/cluster/pkg/types"
)

// viewServerResponse mirrors the envelope internal/chain.Client.View decodes
// its result from: the "result" field nested inside the RPC envelope is
// itself a struct with a []byte "result" field, which encoding/json
// marshals/unmarshals as a base64 string.
type viewServerResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Result  struct {
		Result []byte `json:"result"`
	} `json:"result"`
}

func newViewServer(t *testing.T, project types.Project) *httptest.Server {
	t.Helper()
	projectJSON, err := json.Marshal(project)
	if err != nil {
		t.Fatalf("marshal project: %v", err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var resp viewServerResponse
		resp.JSONRPC = "2.0"
		resp.ID = "outlayer"
		resp.Result.Result = projectJSON
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestChainProjectResolverResolvesActiveVersion(t *testing.T) {
	project := types.Project{
		ProjectId:     "alice.near/demo",
		Uuid:          "abc123",
		ActiveVersion: "sha-1",
		Versions: map[string]types.ProjectVersion{
			"sha-1": {Source: types.CodeSource{Kind: types.CodeSourceWasmUrl, WasmUrl: &types.WasmUrlSource{Url: "https://example.com/a.wasm", Sha256Hash: "sha-1"}}},
		},
	}
	srv := newViewServer(t, project)
	defer srv.Close()

	r := &ChainProjectResolver{Chain: chain.NewClient(srv.URL), ContractID: "outlayer.near"}
	src, err := r.ResolveProjectVersion(context.Background(), "alice.near/demo", "")
	if err != nil {
		t.Fatalf("ResolveProjectVersion: %v", err)
	}
	if src.Kind != types.CodeSourceWasmUrl || src.WasmUrl.Url != "https://example.com/a.wasm" {
		t.Fatalf("unexpected resolved source: %+v", src)
	}
}

func TestChainProjectResolverCachesAcrossCalls(t *testing.T) {
	calls := 0
	project := types.Project{
		ActiveVersion: "v1",
		Versions: map[string]types.ProjectVersion{
			"v1": {Source: types.CodeSource{Kind: types.CodeSourceWasmUrl, WasmUrl: &types.WasmUrlSource{Url: "u", Sha256Hash: "v1"}}},
		},
	}
	projectJSON, _ := json.Marshal(project)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		var resp viewServerResponse
		resp.JSONRPC = "2.0"
		resp.ID = "outlayer"
		resp.Result.Result = projectJSON
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r := &ChainProjectResolver{Chain: chain.NewClient(srv.URL), ContractID: "outlayer.near"}
	ctx := context.Background()
	if _, err := r.ResolveProjectVersion(ctx, "p", ""); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := r.ResolveProjectVersion(ctx, "p", ""); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the second call to be served from cache, saw %d RPC calls", calls)
	}

	r.Invalidate("p")
	if _, err := r.ResolveProjectVersion(ctx, "p", ""); err != nil {
		t.Fatalf("post-invalidate resolve: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected Invalidate to force a fresh RPC call, saw %d", calls)
	}
}

func TestChainProjectResolverUnknownVersion(t *testing.T) {
	project := types.Project{ActiveVersion: "v1", Versions: map[string]types.ProjectVersion{}}
	srv := newViewServer(t, project)
	defer srv.Close()

	r := &ChainProjectResolver{Chain: chain.NewClient(srv.URL), ContractID: "outlayer.near"}
	_, err := r.ResolveProjectVersion(context.Background(), "p", "")
	if err != errProjectVersionNotFound {
		t.Fatalf("expected errProjectVersionNotFound, got %v", err)
	}
}
