package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/outlayer-net/cluster/internal/keystore"
	"github.com/outlayer-net/cluster/internal/queue"
	"github.com/outlayer-net/cluster/pkg/types"
	"github.com/outlayer-net/cluster/pkg/utils"
)

var errEmptyEventData = errors.New("ingest: event carried no data object")

// defaultBuildTarget is substituted for an unset build_target (spec §4.2
// step 4), matching the contract/worker's own fallback.
const defaultBuildTarget = "wasm32-wasi"

// TaskEnqueuer is the C3 seam the execution_requested path writes into.
type TaskEnqueuer interface {
	CreateTask(req types.Request) queue.CreateResult
}

// ProjectCleaner is the C4 seam the project_storage_cleanup path calls.
type ProjectCleaner interface {
	ClearProject(projectUuid string) (int, error)
}

// PaymentForwarder is the keystore seam the system_event path forwards
// TopUpPaymentKey/DeletePaymentKey events into.
type PaymentForwarder interface {
	HandleTopUp(ctx context.Context, ev keystore.PaymentKeyEvent) error
	HandleDelete(ctx context.Context, ev keystore.PaymentKeyEvent) error
}

// Dispatcher routes a parsed Event to the appropriate downstream collaborator
// (spec §4.2 step 4).
type Dispatcher struct {
	Queue    TaskEnqueuer
	Storage  ProjectCleaner
	Payments PaymentForwarder
}

// Dispatch decodes ev.Data[0] per ev.Event and routes it. An unrecognized
// event name is not an error — events this ingestor doesn't understand are
// silently ignored, matching spec §4.2's filter-then-dispatch model.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	switch ev.Event {
	case "execution_requested":
		return d.handleExecutionRequested(ev)
	case "project_storage_cleanup":
		return d.handleProjectStorageCleanup(ev)
	case "system_event":
		return d.handleSystemEvent(ctx, ev)
	default:
		return nil
	}
}

// executionRequestedPayload mirrors the contract's ExecutionRequestedEvent:
// request_data travels as a JSON-encoded string, not a nested object.
type executionRequestedPayload struct {
	RequestData string `json:"request_data"`
	DataId      string `json:"data_id"` // base64
	Timestamp   uint64 `json:"timestamp"`
}

type requestDataPayload struct {
	RequestId      uint64               `json:"request_id"`
	SenderId       string               `json:"sender_id"`
	CodeSource     codeSourcePayload    `json:"code_source"`
	ResourceLimits resourceLimitsPayload `json:"resource_limits"`
	InputData      string               `json:"input_data"` // base64
	SecretsRef     *secretsRefPayload   `json:"secrets_ref"`
	Payment        string               `json:"payment"`
	ResponseFormat string               `json:"response_format"`
	CompileOnly    bool                 `json:"compile_only"`
	ForceRebuild   bool                 `json:"force_rebuild"`
	StoreOnFastfs  bool                 `json:"store_on_fastfs"`
	ProjectUuid    string               `json:"project_uuid"`
}

type codeSourcePayload struct {
	GitHub  *githubSourcePayload  `json:"GitHub"`
	WasmUrl *wasmUrlSourcePayload `json:"WasmUrl"`
}

type githubSourcePayload struct {
	Repo        string  `json:"repo"`
	Commit      string  `json:"commit"`
	BuildTarget *string `json:"build_target"`
}

type wasmUrlSourcePayload struct {
	Url         string  `json:"url"`
	Hash        string  `json:"hash"`
	BuildTarget *string `json:"build_target"`
}

type resourceLimitsPayload struct {
	MaxInstructions     uint64 `json:"max_instructions"`
	MaxMemoryMb         uint32 `json:"max_memory_mb"`
	MaxExecutionSeconds uint64 `json:"max_execution_seconds"`
}

type secretsRefPayload struct {
	Accessor string `json:"accessor"`
	Profile  string `json:"profile"`
	Owner    string `json:"owner"`
}

func (d *Dispatcher) handleExecutionRequested(ev Event) error {
	var envelope executionRequestedPayload
	if err := ev.dataObject(&envelope); err != nil {
		return utils.Wrap(err, "decode execution_requested envelope")
	}
	var rd requestDataPayload
	if err := json.Unmarshal([]byte(envelope.RequestData), &rd); err != nil {
		return utils.Wrap(err, "decode request_data")
	}

	var dataId types.DataId
	raw, err := base64.StdEncoding.DecodeString(envelope.DataId)
	if err != nil {
		return utils.Wrap(err, "decode data_id")
	}
	copy(dataId[:], raw)

	input, err := base64.StdEncoding.DecodeString(rd.InputData)
	if err != nil {
		return utils.Wrap(err, "decode input_data")
	}

	source, err := rd.CodeSource.toExecutionSource()
	if err != nil {
		return utils.Wrap(err, "resolve code_source")
	}

	req := types.Request{
		RequestId:      rd.RequestId,
		DataId:         dataId,
		Source:         source,
		Limits: types.ResourceLimits{
			MaxInstructions: rd.ResourceLimits.MaxInstructions,
			MaxMemoryMB:     rd.ResourceLimits.MaxMemoryMb,
			MaxWallSeconds:  rd.ResourceLimits.MaxExecutionSeconds,
		},
		Input:          input,
		SecretsRef:     rd.SecretsRef.toSecretsRef(),
		ResponseFormat: types.ResponseFormat(rd.ResponseFormat),
		PaymentYocto:   rd.Payment,
		Sender:         rd.SenderId,
		ProjectUuid:    rd.ProjectUuid,
		CompileOnly:    rd.CompileOnly,
		ForceRebuild:   rd.ForceRebuild,
		StoreOnFastFS:  rd.StoreOnFastfs,
	}
	req.Limits.Clamp()

	d.Queue.CreateTask(req)
	return nil
}

func (c codeSourcePayload) toExecutionSource() (types.ExecutionSource, error) {
	switch {
	case c.GitHub != nil:
		target := defaultBuildTarget
		if c.GitHub.BuildTarget != nil && *c.GitHub.BuildTarget != "" {
			target = *c.GitHub.BuildTarget
		}
		return types.ExecutionSource{
			Kind: types.ExecutionSourceGitHub,
			GitHub: &types.GitHubSource{
				Repo:        c.GitHub.Repo,
				Commit:      c.GitHub.Commit,
				BuildTarget: target,
			},
		}, nil
	case c.WasmUrl != nil:
		target := defaultBuildTarget
		if c.WasmUrl.BuildTarget != nil && *c.WasmUrl.BuildTarget != "" {
			target = *c.WasmUrl.BuildTarget
		}
		return types.ExecutionSource{
			Kind: types.ExecutionSourceWasmUrl,
			WasmUrl: &types.WasmUrlSource{
				Url:         c.WasmUrl.Url,
				Sha256Hash:  c.WasmUrl.Hash,
				BuildTarget: target,
			},
		}, nil
	default:
		return types.ExecutionSource{}, errors.New("ingest: code_source carries neither GitHub nor WasmUrl")
	}
}

func (s *secretsRefPayload) toSecretsRef() *types.SecretsRef {
	if s == nil {
		return nil
	}
	return &types.SecretsRef{
		Accessor: types.SecretAccessor{Kind: types.SecretAccessorKind(s.Accessor)},
		Profile:  s.Profile,
		Owner:    s.Owner,
	}
}

type projectStorageCleanupPayload struct {
	ProjectId   string `json:"project_id"`
	ProjectUuid string `json:"project_uuid"`
	Timestamp   uint64 `json:"timestamp"`
}

func (d *Dispatcher) handleProjectStorageCleanup(ev Event) error {
	var p projectStorageCleanupPayload
	if err := ev.dataObject(&p); err != nil {
		return utils.Wrap(err, "decode project_storage_cleanup")
	}
	_, err := d.Storage.ClearProject(p.ProjectUuid)
	return err
}

type systemEventPayload struct {
	Kind       string `json:"kind"` // "TopUpPaymentKey" | "DeletePaymentKey"
	DataId     string `json:"data_id"`
	Owner      string `json:"owner"`
	Nonce      string `json:"nonce"`
	TopUpYocto string `json:"top_up_yocto"`
}

func (d *Dispatcher) handleSystemEvent(ctx context.Context, ev Event) error {
	var p systemEventPayload
	if err := ev.dataObject(&p); err != nil {
		return utils.Wrap(err, "decode system_event")
	}

	var dataId types.DataId
	raw, err := base64.StdEncoding.DecodeString(p.DataId)
	if err != nil {
		return utils.Wrap(err, "decode system_event data_id")
	}
	copy(dataId[:], raw)

	pk := keystore.PaymentKeyEvent{
		DataId:     dataId,
		Owner:      p.Owner,
		Nonce:      p.Nonce,
		TopUpYocto: p.TopUpYocto,
	}

	switch p.Kind {
	case "TopUpPaymentKey":
		return d.Payments.HandleTopUp(ctx, pk)
	case "DeletePaymentKey":
		pk.Delete = true
		return d.Payments.HandleDelete(ctx, pk)
	default:
		return nil
	}
}
