// Package types holds the shared domain model for the outlayer cluster:
// chain-originated requests, code sources, execution results, secret
// accessors and storage records. These are the wire/value types passed
// between the coordinator, worker, keystore and storage components.
package types

import "time"

// AccountId is a chain account identifier, e.g. "alice.near".
type AccountId = string

// DataId is the 32-byte opaque correlation id minted by the chain's yield
// primitive, carried as lowercase hex over HTTP and raw bytes on chain.
type DataId [32]byte

// ResponseFormat selects how guest output is interpreted.
type ResponseFormat string

const (
	ResponseBytes ResponseFormat = "Bytes"
	ResponseText  ResponseFormat = "Text"
	ResponseJson  ResponseFormat = "Json"
)

// CodeSource is the resolved, directly-fetchable source of a WASM module.
// Exactly one of the embedded variants is populated; Kind discriminates.
type CodeSourceKind string

const (
	CodeSourceGitHub  CodeSourceKind = "GitHub"
	CodeSourceWasmUrl CodeSourceKind = "WasmUrl"
)

// CodeSource is the tagged union payload. Only the field matching Kind is
// meaningful.
type CodeSource struct {
	Kind    CodeSourceKind
	GitHub  *GitHubSource
	WasmUrl *WasmUrlSource
}

type GitHubSource struct {
	Repo        string
	Commit      string
	BuildTarget string
}

type WasmUrlSource struct {
	Url         string
	Sha256Hash  string
	BuildTarget string
}

// VersionKey returns the identifier used to key a project version: the WASM
// hash for WasmUrl sources, "{repo}@{commit}" for GitHub sources.
func (c CodeSource) VersionKey() string {
	switch c.Kind {
	case CodeSourceWasmUrl:
		return c.WasmUrl.Sha256Hash
	case CodeSourceGitHub:
		return c.GitHub.Repo + "@" + c.GitHub.Commit
	default:
		return ""
	}
}

// ExecutionSourceKind discriminates the as-submitted (pre-resolution)
// execution source, which may still require an on-chain project lookup.
type ExecutionSourceKind string

const (
	ExecutionSourceGitHub  ExecutionSourceKind = "GitHub"
	ExecutionSourceWasmUrl ExecutionSourceKind = "WasmUrl"
	ExecutionSourceProject ExecutionSourceKind = "Project"
)

type ExecutionSource struct {
	Kind    ExecutionSourceKind
	GitHub  *GitHubSource
	WasmUrl *WasmUrlSource
	Project *ProjectSource
}

type ProjectSource struct {
	ProjectId  string
	VersionKey string // optional; empty means "use active version"
}

// ResourceLimits bounds a single execution. Each field is capped by a hard
// system maximum enforced independently by the chain contract and mirrored
// here for defense in depth.
type ResourceLimits struct {
	MaxInstructions uint64
	MaxMemoryMB     uint32
	MaxWallSeconds  uint64
}

const (
	HardMaxInstructions = uint64(20_000_000_000)
	HardMaxMemoryMB     = uint32(4096)
	HardMaxWallSeconds  = uint64(600)
)

// Clamp caps every field to the hard system maxima, mutating in place.
func (r *ResourceLimits) Clamp() {
	if r.MaxInstructions == 0 || r.MaxInstructions > HardMaxInstructions {
		r.MaxInstructions = HardMaxInstructions
	}
	if r.MaxMemoryMB == 0 || r.MaxMemoryMB > HardMaxMemoryMB {
		r.MaxMemoryMB = HardMaxMemoryMB
	}
	if r.MaxWallSeconds == 0 || r.MaxWallSeconds > HardMaxWallSeconds {
		r.MaxWallSeconds = HardMaxWallSeconds
	}
}

// SecretAccessorKind discriminates the accessor tagged union.
type SecretAccessorKind string

const (
	AccessorRepo     SecretAccessorKind = "Repo"
	AccessorWasmHash SecretAccessorKind = "WasmHash"
	AccessorProject  SecretAccessorKind = "Project"
	AccessorSystem   SecretAccessorKind = "System"
)

type SystemKind string

const SystemPaymentKey SystemKind = "PaymentKey"

type SecretAccessor struct {
	Kind      SecretAccessorKind
	Repo      *RepoAccessor
	WasmHash  string
	ProjectId string
	System    *SystemAccessor
}

type RepoAccessor struct {
	Repo   string
	Branch *string // nil == wildcard
}

type SystemAccessor struct {
	Kind  SystemKind
	Nonce string
}

// SecretsRef pins a request to a specific secret profile at request time.
type SecretsRef struct {
	Accessor SecretAccessor
	Profile  string
	Owner    AccountId
}

// Request mirrors the on-chain execution request, as ingested by the
// coordinator and handed to a worker.
type Request struct {
	RequestId      uint64
	DataId         DataId
	Source         ExecutionSource
	ResolvedSource *CodeSource
	Limits         ResourceLimits
	Input          []byte
	SecretsRef     *SecretsRef
	ResponseFormat ResponseFormat
	PaymentYocto   string // u128 carried as decimal string
	Payer          AccountId
	Sender         AccountId
	Timestamp      time.Time
	ProjectUuid    string
	CompileOnly    bool
	ForceRebuild   bool
	StoreOnFastFS  bool
}

// OutputKind discriminates ExecutionResponse.Output.
type OutputKind string

const (
	OutputBytes OutputKind = "Bytes"
	OutputText  OutputKind = "Text"
	OutputJson  OutputKind = "Json"
)

type Output struct {
	Kind  OutputKind
	Bytes []byte
	Text  string
	Json  []byte // raw JSON
}

type ResourcesUsed struct {
	Instructions  uint64
	TimeMs        uint64
	CompileTimeMs uint64
}

// ExecutionResponse is the payload serialised back to chain on resolve.
type ExecutionResponse struct {
	Success          bool
	Output           *Output
	Error            string
	ResourcesUsed    ResourcesUsed
	CompilationNote  string
}

// TerminalKind is the taxonomy of terminal task states (spec §7).
type TerminalKind string

const (
	TerminalSuccess             TerminalKind = "success"
	TerminalAccessDenied        TerminalKind = "access_denied"
	TerminalCompilationFailed   TerminalKind = "compilation_failed"
	TerminalExecutionFailed     TerminalKind = "execution_failed"
	TerminalInsufficientPayment TerminalKind = "insufficient_payment"
	TerminalCustom              TerminalKind = "custom"
	TerminalFailed              TerminalKind = "failed"
)

// StorageRecord is one row of the encrypted per-project KV store (C4).
type StorageRecord struct {
	ProjectUuid    string
	AccountId      AccountId
	KeyHash        [32]byte
	EncryptedKey   []byte
	EncryptedValue []byte
	WasmHash       string
	IsEncrypted    bool
	UpdatedAt      time.Time
}

// WorkerPrivateAccount is the reserved per-project worker-private bucket.
const WorkerPrivateAccount AccountId = "@worker"

// Project/version bookkeeping (resolved via the on-chain registry, cached
// by the coordinator).
type ProjectVersion struct {
	Source        CodeSource
	AddedAt       time.Time
	StorageDeposit string
}

type Project struct {
	ProjectId     string // "{owner_account}/{name}"
	Uuid          string // stable 16-hex id
	ActiveVersion string
	Versions      map[string]ProjectVersion
}
