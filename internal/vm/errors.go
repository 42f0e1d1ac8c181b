package vm

import "errors"

var (
	// errFuelExhausted trips when a guest's instruction budget (max_instructions)
	// is spent, mirroring the teacher's GasMeter out-of-gas condition.
	errFuelExhausted = errors.New("vm: fuel exhausted")

	// errDeadlineExceeded trips when the wall-clock watchdog fires; execution
	// is unwound at the next host-call boundary rather than mid-instruction
	// (spec §5 "tripped at the next instrumented boundary").
	errDeadlineExceeded = errors.New("vm: wall-clock deadline exceeded")

	errMemoryCapExceeded = errors.New("vm: guest memory exceeds max_memory_mb")

	errNoMemoryExport  = errors.New("vm: module does not export linear memory")
	errNoStartFunction = errors.New("vm: module does not export a _start function")

	errHTTPCallBudgetExhausted = errors.New("vm: execution exceeded its http call budget")
	errHTTPHostNotAllowed      = errors.New("vm: destination host is not on the outbound allow-list")

	errUnknownChainMethod   = errors.New("vm: unknown chain rpc method")
	errUnknownStorageMethod = errors.New("vm: unknown storage method")

	errArtifactSignatureInvalid = errors.New("vm: cached artifact signature invalid")
)
