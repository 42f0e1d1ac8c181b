// Package vm implements the WASM execution engine (C7): a component-model
// wasm runtime configured per request with fuel, memory and wall-clock
// limits, a host surface reaching C1 (chain RPC), C4 (scoped storage) and
// bounded outbound HTTP, and a signed precompilation cache so repeat
// executions of the same artifact skip recompilation.
//
// The engine's shape - one fresh runtime instance per request, metered at
// host-call boundaries, with background state held behind narrow
// interfaces - mirrors the teacher's core/virtual_machine.go HeavyVM,
// generalized from a bespoke opcode VM to wasmer-go executing real guest
// modules.
package vm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/outlayer-net/cluster/internal/chain"
	"github.com/outlayer-net/cluster/internal/storage"
	"github.com/outlayer-net/cluster/internal/worker"
	"github.com/outlayer-net/cluster/pkg/types"
)

// Config bounds the engine's behavior across every execution it runs.
type Config struct {
	// HTTPAllowlist lists hostnames the guest's outbound HTTP host call may
	// reach (spec §4.7 host surface item 5); empty means no outbound HTTP.
	HTTPAllowlist []string
	// MaxHTTPCallsPerExec bounds outbound HTTP calls issued by one execution.
	MaxHTTPCallsPerExec int
	// CacheMaxBytes bounds the precompilation cache's resident size.
	CacheMaxBytes int64
}

func (c Config) withDefaults() Config {
	if c.MaxHTTPCallsPerExec <= 0 {
		c.MaxHTTPCallsPerExec = 20
	}
	if c.CacheMaxBytes <= 0 {
		c.CacheMaxBytes = 512 * 1024 * 1024
	}
	return c
}

// Engine runs guest WASM modules and implements worker.Executor.
type Engine struct {
	Runtime Runtime
	Cache   *Cache
	Chain   *chain.Client
	Storage *storage.Store
	Config  Config
	Log     *logrus.Entry
}

// New constructs an Engine, wiring a production WasmerRuntime and Cache if
// not supplied (tests substitute fakes for both).
func New(e Engine) *Engine {
	e.Config = e.Config.withDefaults()
	if e.Runtime == nil {
		e.Runtime = NewWasmerRuntime()
	}
	if e.Log == nil {
		e.Log = logrus.WithField("component", "vm")
	}
	return &e
}

// Execute runs one guest module to completion and returns its terminal
// ExecutionResponse, implementing worker.Executor. wasm is the already
// resolved/compiled module bytes (source compilation is C6's concern);
// this engine additionally maintains its own cache from wasm bytes to a
// compiled, serialised artifact (spec §4.7 "Precompilation cache
// integration").
func (e *Engine) Execute(ctx context.Context, wasm []byte, env worker.ExecutionEnv) (*types.ExecutionResponse, error) {
	started := time.Now()
	checksum := sha256.Sum256(wasm)
	wasmChecksum := hex.EncodeToString(checksum[:])

	mod, compileMs, err := e.compileOrLoad(wasm, wasmChecksum)
	if err != nil {
		return nil, err
	}

	envVars, err := buildGuestEnv(env, wasmChecksum)
	if err != nil {
		return nil, err
	}

	limits := env.Limits
	limits.Clamp()

	deadline := Arm(time.Duration(limits.MaxWallSeconds) * time.Second)
	defer deadline.Stop()

	accountId := env.Sender
	if accountId == "" {
		accountId = types.WorkerPrivateAccount
	}

	state := &hostState{
		ctx:         ctx,
		input:       env.Input,
		env:         envVars,
		fuel:        NewFuelMeter(limits.MaxInstructions),
		deadline:    deadline,
		memCapBytes: int(limits.MaxMemoryMB) * 1024 * 1024,
		chain:       newChainHost(e.Chain, env.MaxCallsPerExec),
		storage:     newStorageHost(e.Storage, env.ProjectUuid, accountId, wasmChecksum),
		http:        newHTTPHost(e.Config.HTTPAllowlist, e.Config.MaxHTTPCallsPerExec),
		log:         e.Log.WithField("request_id", env.RequestId),
	}

	instance, err := mod.Instantiate(state)
	if err != nil {
		return e.runtimeFailure(err, state, compileMs, started), nil
	}
	defer instance.Close()

	runErr := instance.Run()
	resp := e.buildResponse(runErr, state, env, compileMs, started)
	return resp, nil
}

// compileOrLoad consults the precompilation cache before asking the
// runtime to compile wasm from scratch (spec §4.7). A cache hit that fails
// to deserialise - e.g. an engine-version change - is purged and the
// module is recompiled and re-cached.
func (e *Engine) compileOrLoad(wasm []byte, wasmChecksum string) (CompiledModule, time.Duration, error) {
	if e.Cache != nil {
		if cached, ok := e.Cache.Get(wasmChecksum); ok {
			if mod, err := e.Runtime.Deserialize(cached); err == nil {
				return mod, 0, nil
			}
			e.Cache.Invalidate(wasmChecksum)
		}
	}

	start := time.Now()
	mod, err := e.Runtime.Compile(wasm)
	if err != nil {
		return nil, 0, err
	}
	compileMs := time.Since(start)

	if e.Cache != nil {
		if serialized, err := mod.Serialize(); err == nil {
			e.Cache.Put(wasmChecksum, serialized)
		}
	}
	return mod, compileMs, nil
}

func (e *Engine) runtimeFailure(err error, state *hostState, compileMs time.Duration, started time.Time) *types.ExecutionResponse {
	return &types.ExecutionResponse{
		Success: false,
		Error:   err.Error(),
		ResourcesUsed: types.ResourcesUsed{
			Instructions:  state.fuel.Used(),
			TimeMs:        uint64(time.Since(started).Milliseconds()),
			CompileTimeMs: uint64(compileMs.Milliseconds()),
		},
	}
}

func (e *Engine) buildResponse(runErr error, state *hostState, env worker.ExecutionEnv, compileMs time.Duration, started time.Time) *types.ExecutionResponse {
	resp := &types.ExecutionResponse{
		ResourcesUsed: types.ResourcesUsed{
			Instructions:  state.fuel.Used(),
			TimeMs:        uint64(time.Since(started).Milliseconds()),
			CompileTimeMs: uint64(compileMs.Milliseconds()),
		},
	}
	if runErr != nil {
		resp.Success = false
		resp.Error = runErr.Error()
		return resp
	}
	if err := state.deadline.Check(); err != nil {
		resp.Success = false
		resp.Error = err.Error()
		return resp
	}

	resp.Success = true
	resp.Output = outputFor(env.ResponseFormat, state.output)
	return resp
}

func outputFor(format types.ResponseFormat, raw []byte) *types.Output {
	switch format {
	case types.ResponseText:
		return &types.Output{Kind: types.OutputText, Text: string(raw)}
	case types.ResponseJson:
		return &types.Output{Kind: types.OutputJson, Json: raw}
	default:
		return &types.Output{Kind: types.OutputBytes, Bytes: raw}
	}
}
