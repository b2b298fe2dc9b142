// Package runtime provides an abstraction layer for WebAssembly runtime engines.
//
// The interfaces mirror the object model of an embeddable runtime: a shared
// Runtime (engine) compiles modules and creates Stores; a Store owns a WASI
// instance and a Linker; the Linker binds imports and instantiates modules.
// Backends register themselves with Register and are created with NewRuntime.
package runtime

import "context"

// Runtime represents a Wasm runtime engine. It is shared by every Store
// created from it.
type Runtime interface {
	// Compile compiles the given Wasm binary into a CompiledModule
	Compile(ctx context.Context, binary []byte) (CompiledModule, error)
	// NewValType creates a value type descriptor for kind
	NewValType(kind ValueKind) (ValType, error)
	// NewWasiConfig creates an empty WASI configuration
	NewWasiConfig() (WasiConfig, error)
	// NewStore creates an isolated store bound to this runtime
	NewStore(ctx context.Context) (Store, error)
	// Close closes the runtime and releases all resources
	Close(ctx context.Context) error
}

// CompiledModule represents a compiled Wasm module, ready for instantiation
type CompiledModule interface {
	// Exports returns the module's exports in declaration order
	Exports() []ExportType
	// Close releases the resources associated with the compiled module
	Close(ctx context.Context) error
}

// ValType is a value type descriptor owned by the runtime.
type ValType interface {
	Kind() ValueKind
	// Delete releases the descriptor
	Delete()
}

// WasiConfig collects the WASI settings of one instance. It is consumed by
// Store.NewWasiInstance.
type WasiConfig interface {
	SetArgs(args ...string)
	SetEnv(env ...string)
	// PreopenDir grants the guest access to hostPath under guestPath
	PreopenDir(hostPath, guestPath string) error
	// Delete releases a configuration that was never consumed
	Delete()
}

// Store holds the runtime state of one execution context.
type Store interface {
	// NewWasiInstance creates the WASI host implementation from cfg
	NewWasiInstance(ctx context.Context, cfg WasiConfig) (WasiInstance, error)
	// NewLinker creates a linker bound to this store
	NewLinker(ctx context.Context) (Linker, error)
	// Close releases the store
	Close(ctx context.Context) error
}

// WasiInstance is the WASI host implementation of a store.
type WasiInstance interface {
	Close(ctx context.Context) error
}

// Linker binds imports to modules before instantiation.
type Linker interface {
	// DefineWasi registers the imports of wasi under their WASI module name
	DefineWasi(ctx context.Context, wasi WasiInstance) error
	// DefineFunc registers fn as module.name with the given signature
	DefineFunc(ctx context.Context, module, name string, params, results []ValType, fn HostFunction) error
	// Instantiate instantiates module against the definitions made so far
	Instantiate(ctx context.Context, module CompiledModule) (ModuleInstance, error)
	// Close releases the linker
	Close(ctx context.Context) error
}

// ModuleInstance represents an instantiated Wasm module
type ModuleInstance interface {
	// Exports returns the instance's exports in the module's declaration
	// order. The slice is owned by the instance.
	Exports() []Extern
	// Close closes the instance and releases its resources
	Close(ctx context.Context) error
}

// Extern is one export of an instance.
type Extern interface {
	Kind() ExternKind
	// Func returns nil unless Kind is ExternFunc
	Func() FunctionInstance
	// Memory returns nil unless Kind is ExternMemory
	Memory() Memory
}

// FunctionInstance represents an exported function from a Wasm module
type FunctionInstance interface {
	// Call executes the function. len(results) must equal the function's
	// result count; results are overwritten on success.
	Call(ctx context.Context, args []Value, results []Value) error
}

// Memory represents the linear memory of a Wasm module instance
type Memory interface {
	// Size returns the current size in bytes
	Size() uint32
	// Read reads 'size' bytes from the memory at 'offset'
	Read(offset uint32, size uint32) ([]byte, bool)
	// Write writes 'data' to the memory at 'offset'
	Write(offset uint32, data []byte) bool
}

// Caller is the guest instance that invoked a host function.
type Caller interface {
	// Export returns the caller's export with the given name, or nil
	Export(name string) Extern
}
