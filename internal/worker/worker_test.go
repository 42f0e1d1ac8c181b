package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/outlayer-net/cluster/internal/queue"
	"github.com/outlayer-net/cluster/pkg/types"
)

func TestCapabilitiesValidateRejectsNativeCompileWithExecution(t *testing.T) {
	c := Capabilities{NativeCompile: true, Execution: true}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected native compilation + execution to be rejected")
	}
}

func TestCapabilitiesValidateAllowsNativeCompileAlone(t *testing.T) {
	c := Capabilities{NativeCompile: true, Compilation: true}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected native-compile-only capabilities to be valid, got %v", err)
	}
}

func TestNewRejectsInvalidCapabilities(t *testing.T) {
	_, err := New(Controller{Caps: Capabilities{NativeCompile: true, Execution: true}})
	if err == nil {
		t.Fatalf("expected New to reject invalid capabilities")
	}
}

func TestNewAppliesConfigDefaults(t *testing.T) {
	c, err := New(Controller{Queue: queue.New(0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Config.PollTimeout != 60*time.Second {
		t.Fatalf("expected default poll timeout, got %v", c.Config.PollTimeout)
	}
	if c.Config.HeartbeatEvery != 30*time.Second {
		t.Fatalf("expected default heartbeat interval, got %v", c.Config.HeartbeatEvery)
	}
	if c.Config.DefaultBuildTarget != "wasm32-wasip1" {
		t.Fatalf("expected default build target, got %q", c.Config.DefaultBuildTarget)
	}
}

// --- resolveSource / obtainWasm fakes ---

type fakeProjectResolver struct {
	source types.CodeSource
	err    error
	calls  int
}

func (f *fakeProjectResolver) ResolveProjectVersion(ctx context.Context, projectId, versionKey string) (types.CodeSource, error) {
	f.calls++
	return f.source, f.err
}

type fakeCompiler struct {
	wasm []byte
	cerr *CompilationError
	err  error
	calls int
}

func (f *fakeCompiler) Compile(ctx context.Context, source types.GitHubSource, limits types.ResourceLimits) ([]byte, *CompilationError, error) {
	f.calls++
	return f.wasm, f.cerr, f.err
}

type fakeCache struct {
	store map[string][]byte
	puts  []string
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.store == nil {
		return nil, false, nil
	}
	w, ok := f.store[key]
	return w, ok, nil
}

func (f *fakeCache) Put(ctx context.Context, key string, wasm []byte) error {
	f.puts = append(f.puts, key)
	if f.store == nil {
		f.store = map[string][]byte{}
	}
	f.store[key] = wasm
	return nil
}

func TestResolveSourcePassthroughGitHub(t *testing.T) {
	c := &Controller{}
	req := types.Request{Source: types.ExecutionSource{Kind: types.ExecutionSourceGitHub, GitHub: &types.GitHubSource{Repo: "a/b", Commit: "deadbeef"}}}
	src, err := c.resolveSource(context.Background(), req)
	if err != nil {
		t.Fatalf("resolveSource: %v", err)
	}
	if src.Kind != types.CodeSourceGitHub || src.GitHub.Repo != "a/b" {
		t.Fatalf("unexpected source: %+v", src)
	}
}

func TestResolveSourceUsesResolvedSourceWhenPresent(t *testing.T) {
	pinned := types.CodeSource{Kind: types.CodeSourceWasmUrl, WasmUrl: &types.WasmUrlSource{Url: "pinned"}}
	pr := &fakeProjectResolver{}
	c := &Controller{Projects: pr}
	req := types.Request{
		Source:         types.ExecutionSource{Kind: types.ExecutionSourceProject, Project: &types.ProjectSource{ProjectId: "p"}},
		ResolvedSource: &pinned,
	}
	src, err := c.resolveSource(context.Background(), req)
	if err != nil {
		t.Fatalf("resolveSource: %v", err)
	}
	if src.WasmUrl == nil || src.WasmUrl.Url != "pinned" {
		t.Fatalf("expected ResolvedSource to short-circuit project lookup, got %+v", src)
	}
	if pr.calls != 0 {
		t.Fatalf("expected ProjectResolver not to be consulted when ResolvedSource is set")
	}
}

func TestResolveSourceProjectDelegatesToProjectResolver(t *testing.T) {
	pr := &fakeProjectResolver{source: types.CodeSource{Kind: types.CodeSourceGitHub, GitHub: &types.GitHubSource{Repo: "x/y", Commit: "c1"}}}
	c := &Controller{Projects: pr}
	req := types.Request{Source: types.ExecutionSource{Kind: types.ExecutionSourceProject, Project: &types.ProjectSource{ProjectId: "p1", VersionKey: "v1"}}}
	src, err := c.resolveSource(context.Background(), req)
	if err != nil {
		t.Fatalf("resolveSource: %v", err)
	}
	if src.GitHub.Repo != "x/y" || pr.calls != 1 {
		t.Fatalf("expected project resolver to be called once, got %+v calls=%d", src, pr.calls)
	}
}

func TestObtainGitHubWasmUsesCacheHit(t *testing.T) {
	cache := &fakeCache{store: map[string][]byte{"a/b@c1": []byte("cached-wasm")}}
	compiler := &fakeCompiler{wasm: []byte("fresh-wasm")}
	c := &Controller{Cache: cache, Compiler: compiler}

	src := types.CodeSource{Kind: types.CodeSourceGitHub, GitHub: &types.GitHubSource{Repo: "a/b", Commit: "c1"}}
	wasm, note, cerr := c.obtainWasm(context.Background(), types.Request{}, src)
	if cerr != nil {
		t.Fatalf("obtainWasm: %v", cerr)
	}
	if string(wasm) != "cached-wasm" {
		t.Fatalf("expected cache hit to short-circuit compilation, got %q", wasm)
	}
	if compiler.calls != 0 {
		t.Fatalf("expected compiler not to run on a cache hit")
	}
	if note == "" {
		t.Fatalf("expected a non-empty note")
	}
}

func TestObtainGitHubWasmCompilesAndCachesOnMiss(t *testing.T) {
	cache := &fakeCache{}
	compiler := &fakeCompiler{wasm: []byte("compiled")}
	c := &Controller{Cache: cache, Compiler: compiler}

	src := types.CodeSource{Kind: types.CodeSourceGitHub, GitHub: &types.GitHubSource{Repo: "a/b", Commit: "c1"}}
	wasm, _, cerr := c.obtainWasm(context.Background(), types.Request{}, src)
	if cerr != nil {
		t.Fatalf("obtainWasm: %v", cerr)
	}
	if string(wasm) != "compiled" || compiler.calls != 1 {
		t.Fatalf("expected a compile on cache miss, got wasm=%q calls=%d", wasm, compiler.calls)
	}
	if len(cache.puts) != 1 {
		t.Fatalf("expected the compiled artifact to be cached, puts=%v", cache.puts)
	}
}

func TestObtainGitHubWasmForceRebuildBypassesCache(t *testing.T) {
	cache := &fakeCache{store: map[string][]byte{"a/b@c1": []byte("stale")}}
	compiler := &fakeCompiler{wasm: []byte("rebuilt")}
	c := &Controller{Cache: cache, Compiler: compiler}

	src := types.CodeSource{Kind: types.CodeSourceGitHub, GitHub: &types.GitHubSource{Repo: "a/b", Commit: "c1"}}
	wasm, _, cerr := c.obtainWasm(context.Background(), types.Request{ForceRebuild: true}, src)
	if cerr != nil {
		t.Fatalf("obtainWasm: %v", cerr)
	}
	if string(wasm) != "rebuilt" || compiler.calls != 1 {
		t.Fatalf("expected force_rebuild to bypass the cache, got wasm=%q calls=%d", wasm, compiler.calls)
	}
}

func TestObtainGitHubWasmPropagatesCompilationError(t *testing.T) {
	compiler := &fakeCompiler{cerr: &CompilationError{Kind: ErrRustCompilationError, UserMessage: "nope"}}
	c := &Controller{Cache: &fakeCache{}, Compiler: compiler}

	src := types.CodeSource{Kind: types.CodeSourceGitHub, GitHub: &types.GitHubSource{Repo: "a/b", Commit: "c1"}}
	_, _, cerr := c.obtainWasm(context.Background(), types.Request{}, src)
	if cerr == nil || cerr.Kind != ErrRustCompilationError {
		t.Fatalf("expected the compiler's classified error to propagate, got %v", cerr)
	}
}

// --- end-to-end runTask ---

type fakeSecrets struct {
	plaintext []byte
	err       error
	calls     int
}

func (f *fakeSecrets) Decrypt(ctx context.Context, ref types.SecretsRef, taskId, userAccountId string) ([]byte, error) {
	f.calls++
	return f.plaintext, f.err
}

type fakeExecutor struct {
	resp  *types.ExecutionResponse
	err   error
	calls int
	gotEnv ExecutionEnv
}

func (f *fakeExecutor) Execute(ctx context.Context, wasm []byte, env ExecutionEnv) (*types.ExecutionResponse, error) {
	f.calls++
	f.gotEnv = env
	return f.resp, f.err
}

type fakeResolver struct {
	calls int
	req   types.Request
	resp  *types.ExecutionResponse
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, req types.Request, resp *types.ExecutionResponse) error {
	f.calls++
	f.req = req
	f.resp = resp
	return f.err
}

func dataIdFor(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	return id
}

func enqueueTask(t *testing.T, q *queue.Queue, dataId [32]byte, req types.Request) queue.Task {
	t.Helper()
	req.DataId = dataId
	if res := q.CreateTask(req); !res.Created {
		t.Fatalf("expected task to be created")
	}
	task, ok, err := q.Lease(context.Background(), "worker-1", queue.Capabilities{Compilation: true, Execution: true}, time.Second)
	if err != nil || !ok {
		t.Fatalf("expected to lease the freshly created task, ok=%v err=%v", ok, err)
	}
	return task
}

func wasmUrlServer(t *testing.T, payload []byte) (*httptest.Server, string) {
	t.Helper()
	sum := sha256.Sum256(payload)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	return srv, hex.EncodeToString(sum[:])
}

func TestRunTaskCompileOnlySkipsSecretsAndExecutor(t *testing.T) {
	srv, hash := wasmUrlServer(t, []byte("module bytes"))
	defer srv.Close()

	q := queue.New(time.Minute)
	wasmSrc := types.WasmUrlSource{Url: srv.URL, Sha256Hash: hash}
	req := types.Request{
		Source:      types.ExecutionSource{Kind: types.ExecutionSourceWasmUrl, WasmUrl: &wasmSrc},
		CompileOnly: true,
		SecretsRef:  &types.SecretsRef{Profile: "default"},
	}
	dataId := dataIdFor(1)
	task := enqueueTask(t, q, dataId, req)

	resolver := &fakeResolver{}
	secrets := &fakeSecrets{}
	executor := &fakeExecutor{}
	ctrl, err := New(Controller{
		Queue:    q,
		Caps:     Capabilities{Compilation: true, Execution: true},
		Secrets:  secrets,
		Executor: executor,
		Resolver: resolver,
		Config:   Config{WorkerId: "worker-1"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctrl.runTask(context.Background(), task)

	if secrets.calls != 0 {
		t.Fatalf("expected compile_only to skip secrets decryption entirely")
	}
	if executor.calls != 0 {
		t.Fatalf("expected compile_only to skip execution entirely")
	}
	if resolver.calls != 1 || !resolver.resp.Success {
		t.Fatalf("expected a single successful chain resolve call, got calls=%d resp=%+v", resolver.calls, resolver.resp)
	}
}

func TestRunTaskDecryptsSecretsBeforeExecute(t *testing.T) {
	srv, hash := wasmUrlServer(t, []byte("module bytes 2"))
	defer srv.Close()

	q := queue.New(time.Minute)
	wasmSrc := types.WasmUrlSource{Url: srv.URL, Sha256Hash: hash}
	req := types.Request{
		Source:     types.ExecutionSource{Kind: types.ExecutionSourceWasmUrl, WasmUrl: &wasmSrc},
		SecretsRef: &types.SecretsRef{Profile: "default"},
		Sender:     "alice.near",
	}
	dataId := dataIdFor(2)
	task := enqueueTask(t, q, dataId, req)

	resolver := &fakeResolver{}
	secrets := &fakeSecrets{plaintext: []byte(`{"K":"V"}`)}
	executor := &fakeExecutor{resp: &types.ExecutionResponse{Success: true}}
	ctrl, err := New(Controller{
		Queue:    q,
		Caps:     Capabilities{Compilation: true, Execution: true},
		Secrets:  secrets,
		Executor: executor,
		Resolver: resolver,
		Config:   Config{WorkerId: "worker-1"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctrl.runTask(context.Background(), task)

	if secrets.calls != 1 {
		t.Fatalf("expected exactly one decrypt call before execution, got %d", secrets.calls)
	}
	if executor.calls != 1 {
		t.Fatalf("expected execution to run once secrets were decrypted, got %d", executor.calls)
	}
	if string(executor.gotEnv.Secrets) != `{"K":"V"}` {
		t.Fatalf("expected the decrypted secrets to reach ExecutionEnv, got %q", executor.gotEnv.Secrets)
	}
	if resolver.calls != 1 || !resolver.resp.Success {
		t.Fatalf("expected a single successful chain resolve call, got calls=%d resp=%+v", resolver.calls, resolver.resp)
	}
}

func TestRunTaskAccessDeniedOnSecretsFailure(t *testing.T) {
	q := queue.New(time.Minute)
	ghSrc := types.GitHubSource{Repo: "a/b", Commit: "c1"}
	req := types.Request{
		Source:     types.ExecutionSource{Kind: types.ExecutionSourceGitHub, GitHub: &ghSrc},
		SecretsRef: &types.SecretsRef{Profile: "default"},
	}
	dataId := dataIdFor(3)
	task := enqueueTask(t, q, dataId, req)

	resolver := &fakeResolver{}
	secrets := &fakeSecrets{err: errSecretsDenied}
	cache := &fakeCache{store: map[string][]byte{"a/b@c1": []byte("cached-wasm")}}
	ctrl, err := New(Controller{
		Queue:    q,
		Caps:     Capabilities{Compilation: true, Execution: true},
		Secrets:  secrets,
		Cache:    cache,
		Executor: &fakeExecutor{},
		Resolver: resolver,
		Config:   Config{WorkerId: "worker-1"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctrl.runTask(context.Background(), task)

	if secrets.calls != 1 {
		t.Fatalf("expected exactly one decrypt attempt")
	}
	if resolver.calls != 1 || resolver.resp.Success {
		t.Fatalf("expected a failed terminal response resolved to chain")
	}
	if !strings.HasPrefix(resolver.resp.Error, string(types.TerminalAccessDenied)+": ") {
		t.Fatalf("expected TerminalAccessDenied for an access-denied DecryptError, got %q", resolver.resp.Error)
	}
}

func TestRunTaskGenericDecryptFailureIsNotAccessDenied(t *testing.T) {
	q := queue.New(time.Minute)
	ghSrc := types.GitHubSource{Repo: "a/b", Commit: "c1"}
	req := types.Request{
		Source:     types.ExecutionSource{Kind: types.ExecutionSourceGitHub, GitHub: &ghSrc},
		SecretsRef: &types.SecretsRef{Profile: "default"},
	}
	dataId := dataIdFor(4)
	task := enqueueTask(t, q, dataId, req)

	resolver := &fakeResolver{}
	secrets := &fakeSecrets{err: &DecryptError{Kind: DecryptErrDecryptionFailed, StatusCode: 500, Message: "keystore: decryption failed"}}
	cache := &fakeCache{store: map[string][]byte{"a/b@c1": []byte("cached-wasm")}}
	ctrl, err := New(Controller{
		Queue:    q,
		Caps:     Capabilities{Compilation: true, Execution: true},
		Secrets:  secrets,
		Cache:    cache,
		Executor: &fakeExecutor{},
		Resolver: resolver,
		Config:   Config{WorkerId: "worker-1"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctrl.runTask(context.Background(), task)

	if resolver.calls != 1 || resolver.resp.Success {
		t.Fatalf("expected a failed terminal response resolved to chain")
	}
	if !strings.HasPrefix(resolver.resp.Error, string(types.TerminalFailed)+": ") {
		t.Fatalf("expected a non-access-control DecryptError to resolve as TerminalFailed, got %q", resolver.resp.Error)
	}
}

var errSecretsDenied = &DecryptError{Kind: DecryptErrAccessDenied, StatusCode: 401, Message: "access denied by access condition"}
