package vm

import (
	"github.com/wasmerio/wasmer-go/wasmer"
)

// WasmerRuntime is the production Runtime, grounded on the teacher's
// core/virtual_machine.go HeavyVM: a wasmer.Engine shared across
// compilations, one wasmer.Store per module, and a host import object
// built the same way (wasmer.NewFunction + a raw linear-memory
// read/write pair), generalized here from a handful of opcode-VM
// primitives to the full guest host surface (spec §4.7).
type WasmerRuntime struct {
	engine *wasmer.Engine
}

// NewWasmerRuntime constructs a runtime backed by a single wasmer.Engine,
// reused across every compilation on this worker.
func NewWasmerRuntime() *WasmerRuntime {
	return &WasmerRuntime{engine: wasmer.NewEngine()}
}

func (r *WasmerRuntime) Compile(wasm []byte) (CompiledModule, error) {
	store := wasmer.NewStore(r.engine)
	mod, err := wasmer.NewModule(store, wasm)
	if err != nil {
		return nil, err
	}
	return &wasmerModule{store: store, module: mod}, nil
}

func (r *WasmerRuntime) Deserialize(data []byte) (CompiledModule, error) {
	store := wasmer.NewStore(r.engine)
	mod, err := wasmer.DeserializeModule(store, data)
	if err != nil {
		return nil, err
	}
	return &wasmerModule{store: store, module: mod}, nil
}

type wasmerModule struct {
	store  *wasmer.Store
	module *wasmer.Module
}

func (m *wasmerModule) Serialize() ([]byte, error) {
	return m.module.Serialize()
}

func (m *wasmerModule) Instantiate(h *hostState) (GuestInstance, error) {
	// memRef is bound to the guest's exported memory only after
	// wasmer.NewInstance succeeds; the host functions close over the
	// pointer so they can be built before that memory exists, matching the
	// teacher's two-phase import-then-instantiate-then-bind-memory order.
	var mem *wasmer.Memory
	imports := registerHostImports(m.store, h, &mem)
	instance, err := wasmer.NewInstance(m.module, imports)
	if err != nil {
		return nil, err
	}
	mem, err = instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, errNoMemoryExport
	}
	if h.memCapBytes > 0 && len(mem.Data()) > h.memCapBytes {
		return nil, errMemoryCapExceeded
	}
	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return nil, errNoStartFunction
	}
	return &wasmerInstance{instance: instance, mem: mem, start: start, state: h}, nil
}

type wasmerInstance struct {
	instance *wasmer.Instance
	mem      *wasmer.Memory
	start    wasmer.NativeFunction
	state    *hostState
}

func (g *wasmerInstance) Run() error {
	_, err := g.start()
	return err
}

func (g *wasmerInstance) Close() {
	g.instance.Close()
}

// registerHostImports builds the "env" namespace host functions exposed to
// the guest. Each call charges fuel and checks the wall-clock watchdog
// before doing any work (spec §5), then delegates to hostState - the
// teacher's registerHost keeps the same read/write-into-linear-memory shape,
// generalized from four opcode-level primitives to the JSON-staged host
// surface (input/output ABI, env vars, chain RPC, storage, HTTP).
func registerHostImports(store *wasmer.Store, h *hostState, memRef **wasmer.Memory) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	memData := func() []byte {
		if *memRef == nil {
			return nil
		}
		return (*memRef).Data()
	}
	read := func(ptr, ln int32) []byte {
		data := memData()
		if ptr < 0 || ln < 0 || int(ptr)+int(ln) > len(data) {
			return nil
		}
		out := make([]byte, ln)
		copy(out, data[ptr:ptr+ln])
		return out
	}
	write := func(ptr int32, payload []byte) int32 {
		data := memData()
		if ptr < 0 || int(ptr)+len(payload) > len(data) {
			return -1
		}
		copy(data[ptr:], payload)
		return int32(len(payload))
	}

	i32 := wasmer.ValueKind(wasmer.I32)
	params1 := wasmer.NewValueTypes(i32)
	params2 := wasmer.NewValueTypes(i32, i32)
	params3 := wasmer.NewValueTypes(i32, i32, i32)
	params4 := wasmer.NewValueTypes(i32, i32, i32, i32)
	oneResult := wasmer.NewValueTypes(i32)
	noResults := wasmer.NewValueTypes()

	hostInputLen := wasmer.NewFunction(store, wasmer.NewFunctionType(noResults, oneResult),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI32(int32(len(h.input)))}, nil
		})

	hostInputRead := wasmer.NewFunction(store, wasmer.NewFunctionType(params1, oneResult),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.checkBudget(len(h.input)); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			n := write(args[0].I32(), h.input)
			return []wasmer.Value{wasmer.NewI32(n)}, nil
		})

	hostOutputWrite := wasmer.NewFunction(store, wasmer.NewFunctionType(params2, oneResult),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			payload := read(ptr, ln)
			if err := h.checkBudget(len(payload)); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			h.output = append(h.output, payload...)
			return []wasmer.Value{wasmer.NewI32(int32(len(payload)))}, nil
		})

	hostLog := wasmer.NewFunction(store, wasmer.NewFunctionType(params2, noResults),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			msg := read(args[0].I32(), args[1].I32())
			if h.log != nil {
				h.log.WithField("guest", true).Info(string(msg))
			}
			return []wasmer.Value{}, nil
		})

	hostEnvGet := wasmer.NewFunction(store, wasmer.NewFunctionType(params2, oneResult),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			name := read(args[0].I32(), args[1].I32())
			if err := h.checkBudget(len(name)); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(h.envGet(string(name)))}, nil
		})

	hostChainCall := wasmer.NewFunction(store, wasmer.NewFunctionType(params4, oneResult),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			method := read(args[0].I32(), args[1].I32())
			argsJSON := read(args[2].I32(), args[3].I32())
			if err := h.checkBudget(len(argsJSON)); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(h.chainCall(string(method), argsJSON))}, nil
		})

	hostStorageCall := wasmer.NewFunction(store, wasmer.NewFunctionType(params4, oneResult),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			method := read(args[0].I32(), args[1].I32())
			argsJSON := read(args[2].I32(), args[3].I32())
			if err := h.checkBudget(len(argsJSON)); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(h.storageCall(string(method), argsJSON))}, nil
		})

	hostHTTPCall := wasmer.NewFunction(store, wasmer.NewFunctionType(params2, oneResult),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			argsJSON := read(args[0].I32(), args[1].I32())
			if err := h.checkBudget(len(argsJSON)); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(h.httpCall(argsJSON))}, nil
		})

	hostReadResult := wasmer.NewFunction(store, wasmer.NewFunctionType(params1, oneResult),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			n := write(args[0].I32(), h.pending)
			return []wasmer.Value{wasmer.NewI32(n)}, nil
		})

	hostConsumeFuel := wasmer.NewFunction(store, wasmer.NewFunctionType(params1, oneResult),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			n := int(args[0].I32())
			if err := h.checkBudget(n); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_input_len":     hostInputLen,
		"host_input_read":    hostInputRead,
		"host_output_write":  hostOutputWrite,
		"host_log":           hostLog,
		"host_env_get":       hostEnvGet,
		"host_chain_call":    hostChainCall,
		"host_storage_call":  hostStorageCall,
		"host_http_call":     hostHTTPCall,
		"host_read_result":   hostReadResult,
		"host_consume_fuel":  hostConsumeFuel,
	})

	return imports
}
