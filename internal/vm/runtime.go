package vm

// Runtime compiles and instantiates guest WASM modules. The production
// implementation (WasmerRuntime) wraps wasmer-go; tests substitute a fake
// so Engine.Execute's orchestration can be exercised without a real wasm
// binary or the cgo-backed wasmer engine.
type Runtime interface {
	Compile(wasm []byte) (CompiledModule, error)
	Deserialize(data []byte) (CompiledModule, error)
}

// CompiledModule is a module ready to instantiate, serialisable for the
// precompilation cache (spec §4.7).
type CompiledModule interface {
	Serialize() ([]byte, error)
	Instantiate(h *hostState) (GuestInstance, error)
}

// GuestInstance is one isolated run of a compiled module - fresh per
// request, discarded after Run returns (spec §4.7 "no state leaks between
// requests").
type GuestInstance interface {
	Run() error
	Close()
}
