// Package worker implements the per-task worker controller (C6): the state
// machine driving a leased task from source resolution through compilation,
// secret decryption, execution and chain resolution.
//
// The controller's shape - a driver loop pulling work and dispatching it
// through a sequence of named stages - mirrors the teacher's
// core/virtual_machine.go instruction-dispatch loop, generalized here from
// opcode dispatch to task-lifecycle dispatch.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/outlayer-net/cluster/internal/chain"
	"github.com/outlayer-net/cluster/internal/queue"
	"github.com/outlayer-net/cluster/pkg/types"
	"github.com/outlayer-net/cluster/pkg/utils"
)

// Capabilities mirrors queue.Capabilities for this worker's advertised
// feature set, plus the security rule gating native compilation against
// execution and signing (spec §4.6): "a worker with native compilation
// enabled must NOT also have execution enabled and must NOT carry any
// user-affecting signing key".
type Capabilities struct {
	Compilation   bool
	Execution     bool
	NativeCompile bool
}

// Validate enforces the native-compile/execution/signing-key mutual
// exclusion rule.
func (c Capabilities) Validate() error {
	if c.NativeCompile && c.Execution {
		return errNativeCompileWithExecution
	}
	return nil
}

func (c Capabilities) toQueue() queue.Capabilities {
	return queue.Capabilities{Compilation: c.Compilation, Execution: c.Execution}
}

// ProjectResolver resolves an unpinned Project execution source to a
// concrete CodeSource, consulting the active (or pinned) version recorded
// on chain (spec §4.6 "resolve_source").
type ProjectResolver interface {
	ResolveProjectVersion(ctx context.Context, projectId, versionKey string) (types.CodeSource, error)
}

// SecretsClient is the C5 seam used to decrypt a task's secrets_ref.
type SecretsClient interface {
	Decrypt(ctx context.Context, ref types.SecretsRef, taskId, userAccountId string) ([]byte, error)
}

// Executor is the C7 seam: compiles-or-cached WASM goes in, a terminal
// ExecutionResponse comes out.
type Executor interface {
	Execute(ctx context.Context, wasm []byte, env ExecutionEnv) (*types.ExecutionResponse, error)
}

// ChainResolver completes a task's on-chain yield; *Resolver is the
// production implementation.
type ChainResolver interface {
	Resolve(ctx context.Context, req types.Request, resp *types.ExecutionResponse) error
}

// TaskQueue is the C3 seam a Controller leases work from. *queue.Queue
// satisfies this directly for an in-process coordinator+worker deployment;
// a remote worker process instead wires an HTTP client against the
// coordinator's worker-facing API.
type TaskQueue interface {
	Lease(ctx context.Context, workerId string, caps queue.Capabilities, timeout time.Duration) (queue.Task, bool, error)
	Heartbeat(dataId [32]byte, workerId string) error
	Complete(dataId [32]byte, workerId string, kind types.TerminalKind, resp *types.ExecutionResponse) error
	Remove(dataId [32]byte)
}

// Config bounds the controller's behavior; WorkerId tags leases and
// heartbeats.
type Config struct {
	WorkerId         string
	PollTimeout      time.Duration
	HeartbeatEvery   time.Duration
	MaxCallsPerExec  int
	DefaultBuildTarget string
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 60 * time.Second
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 30 * time.Second
	}
	if c.MaxCallsPerExec <= 0 {
		c.MaxCallsPerExec = chain.DefaultMaxCallsPerExecution
	}
	if c.DefaultBuildTarget == "" {
		c.DefaultBuildTarget = "wasm32-wasip1"
	}
	return c
}

// Controller drives one worker process's task lifecycle.
type Controller struct {
	Queue      TaskQueue
	Caps       Capabilities
	Compiler   Compiler
	Cache      CacheStore
	Secrets    SecretsClient
	Projects   ProjectResolver
	Executor   Executor
	Chain      *chain.Client
	Resolver   ChainResolver
	Config     Config
	Log        *logrus.Entry
}

// New constructs a Controller, validating capabilities and applying Config
// defaults.
func New(c Controller) (*Controller, error) {
	if err := c.Caps.Validate(); err != nil {
		return nil, err
	}
	c.Config = c.Config.withDefaults()
	if c.Log == nil {
		c.Log = logrus.WithField("component", "worker").WithField("worker_id", c.Config.WorkerId)
	}
	return &c, nil
}

// RunOnce leases at most one task and drives it to completion, returning
// false if no task was available within the poll timeout (spec §5: normal,
// not an error).
func (c *Controller) RunOnce(ctx context.Context) (bool, error) {
	task, ok, err := c.Queue.Lease(ctx, c.Config.WorkerId, c.Caps.toQueue(), c.Config.PollTimeout)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	c.runTask(ctx, task)
	return true, nil
}

// Run leases and drives tasks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := c.RunOnce(ctx); err != nil {
			c.Log.WithError(err).Error("lease failed")
		}
	}
}

// runTask drives Leased -> Terminal for a single task (spec §4.6 state
// diagram). Every stage's error is classified into a TerminalKind and
// resolved to chain rather than propagated, since resolve must always
// happen - it releases the user's payment.
func (c *Controller) runTask(ctx context.Context, task queue.Task) {
	stopHeartbeat := c.startHeartbeat(task.DataId)
	defer stopHeartbeat()

	log := c.Log.WithField("request_id", task.Request.RequestId)

	source, err := c.resolveSource(ctx, task.Request)
	if err != nil {
		c.finish(ctx, task, failureResponse(types.TerminalFailed, err), types.TerminalFailed)
		return
	}

	wasm, compileNote, cerr := c.obtainWasm(ctx, task.Request, source)
	if cerr != nil {
		log.WithError(cerr).Warn("compilation failed")
		c.finish(ctx, task, compilationFailureResponse(cerr), types.TerminalCompilationFailed)
		return
	}

	if task.Request.CompileOnly {
		resp := &types.ExecutionResponse{Success: true, CompilationNote: compileNote}
		c.finish(ctx, task, resp, types.TerminalSuccess)
		return
	}

	var secrets []byte
	if task.Request.SecretsRef != nil {
		secrets, err = c.Secrets.Decrypt(ctx, *task.Request.SecretsRef, hexDataId(task.DataId), task.Request.Sender)
		if err != nil {
			kind := decryptTerminalKind(err)
			c.finish(ctx, task, failureResponse(kind, err), kind)
			return
		}
	}

	env := c.buildEnv(task.Request, secrets, compileNote)

	resp, err := c.Executor.Execute(ctx, wasm, env)
	if err != nil {
		c.finish(ctx, task, failureResponse(types.TerminalExecutionFailed, err), types.TerminalExecutionFailed)
		return
	}

	kind := types.TerminalSuccess
	if !resp.Success {
		kind = types.TerminalExecutionFailed
	}
	c.finish(ctx, task, resp, kind)
}

func (c *Controller) finish(ctx context.Context, task queue.Task, resp *types.ExecutionResponse, kind types.TerminalKind) {
	if err := c.Queue.Complete(task.DataId, c.Config.WorkerId, kind, resp); err != nil {
		c.Log.WithError(err).Error("failed to record terminal state locally")
	}
	if err := c.Resolver.Resolve(ctx, task.Request, resp); err != nil {
		c.Log.WithError(err).WithField("request_id", task.Request.RequestId).Error("chain resolve failed")
		return
	}
	c.Queue.Remove(task.DataId)
}

func (c *Controller) startHeartbeat(dataId [32]byte) func() {
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(c.Config.HeartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				_ = c.Queue.Heartbeat(dataId, c.Config.WorkerId)
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

// decryptTerminalKind maps a Secrets.Decrypt error to a TerminalKind.
// TerminalKind (spec §7) is coarser than the keystore's own decrypt failure
// taxonomy (spec §4.5: not found, access denied, attestation invalid,
// decryption failed) - only access_denied has a dedicated kind, everything
// else is a generic TerminalFailed rather than being mislabeled as an
// access-control rejection.
func decryptTerminalKind(err error) types.TerminalKind {
	var derr *DecryptError
	if errors.As(err, &derr) && derr.Kind == DecryptErrAccessDenied {
		return types.TerminalAccessDenied
	}
	return types.TerminalFailed
}

func failureResponse(kind types.TerminalKind, err error) *types.ExecutionResponse {
	return &types.ExecutionResponse{Success: false, Error: utils.Wrap(err, string(kind)).Error()}
}

func compilationFailureResponse(cerr *CompilationError) *types.ExecutionResponse {
	return &types.ExecutionResponse{Success: false, Error: cerr.UserMessage}
}
