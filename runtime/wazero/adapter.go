// Package wazero implements runtime.Runtime on top of wazero, with WASI
// provided by wasi-go.
package wazero

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/otelwasm/wasmhost/internal/wasmbin"
	"github.com/otelwasm/wasmhost/runtime"
)

// wazeroRuntime implements runtime.Runtime using Wazero
type wazeroRuntime struct {
	config wazero.RuntimeConfig
	cache  wazero.CompilationCache
	// compiler validates binaries and reports function types; instances
	// live in per-store runtimes.
	compiler wazero.Runtime
}

// wazeroCompiledModule implements runtime.CompiledModule for Wazero
type wazeroCompiledModule struct {
	binary  []byte
	module  wazero.CompiledModule
	exports []runtime.ExportType
}

// wazeroValType implements runtime.ValType for Wazero
type wazeroValType struct {
	kind runtime.ValueKind
}

// wazeroStore implements runtime.Store with a dedicated wazero.Runtime, so
// host modules and WASI of one store never clash with another's.
type wazeroStore struct {
	runtime wazero.Runtime
	wasi    *wazeroWasiInstance
}

type hostFuncDef struct {
	name    string
	params  []runtime.ValueKind
	results []runtime.ValueKind
	fn      runtime.HostFunction
}

type hostModuleDef struct {
	name  string
	funcs []hostFuncDef
}

// wazeroLinker implements runtime.Linker by collecting host functions and
// building one wazero host module per import module name at Instantiate.
type wazeroLinker struct {
	store        *wazeroStore
	wasi         *wazeroWasiInstance
	modules      []*hostModuleDef
	instantiated bool
}

// wazeroModuleInstance implements runtime.ModuleInstance for Wazero
type wazeroModuleInstance struct {
	instance api.Module
	wasi     *wazeroWasiInstance
	externs  []runtime.Extern
}

// wazeroFunctionInstance implements runtime.FunctionInstance for Wazero
type wazeroFunctionInstance struct {
	function api.Function
	wasi     *wazeroWasiInstance
	results  []runtime.ValueKind
}

// wazeroMemory implements runtime.Memory for Wazero
type wazeroMemory struct {
	memory api.Memory
}

type wazeroExtern struct {
	kind   runtime.ExternKind
	fn     *wazeroFunctionInstance
	memory *wazeroMemory
}

// wazeroCaller implements runtime.Caller for the guest calling a host function
type wazeroCaller struct {
	module api.Module
	wasi   *wazeroWasiInstance
}

var (
	_ runtime.Runtime          = (*wazeroRuntime)(nil)
	_ runtime.CompiledModule   = (*wazeroCompiledModule)(nil)
	_ runtime.Store            = (*wazeroStore)(nil)
	_ runtime.Linker           = (*wazeroLinker)(nil)
	_ runtime.ModuleInstance   = (*wazeroModuleInstance)(nil)
	_ runtime.FunctionInstance = (*wazeroFunctionInstance)(nil)
	_ runtime.Memory           = (*wazeroMemory)(nil)
	_ runtime.Caller           = (*wazeroCaller)(nil)
)

// Compile compiles the given Wasm binary into a CompiledModule
func (r *wazeroRuntime) Compile(ctx context.Context, binary []byte) (runtime.CompiledModule, error) {
	declared, err := wasmbin.ReadExports(binary)
	if err != nil {
		return nil, fmt.Errorf("wazero compile error: %v: %w", err, runtime.ErrModuleCompileFailed)
	}

	compiled, err := r.compiler.CompileModule(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("wazero compile error: %v: %w", err, runtime.ErrModuleCompileFailed)
	}

	definitions := compiled.ExportedFunctions()
	exports := make([]runtime.ExportType, 0, len(declared))
	for _, e := range declared {
		et := runtime.ExportType{Name: e.Name}
		switch e.Kind {
		case wasmbin.KindFunc:
			et.Kind = runtime.ExternFunc
			def, ok := definitions[e.Name]
			if !ok {
				compiled.Close(ctx)
				return nil, fmt.Errorf("wazero: exported function %q has no definition: %w", e.Name, runtime.ErrModuleCompileFailed)
			}
			if et.Params, err = convertValueTypes(def.ParamTypes()); err != nil {
				compiled.Close(ctx)
				return nil, fmt.Errorf("wazero: params of %q: %w", e.Name, err)
			}
			if et.Results, err = convertValueTypes(def.ResultTypes()); err != nil {
				compiled.Close(ctx)
				return nil, fmt.Errorf("wazero: results of %q: %w", e.Name, err)
			}
		case wasmbin.KindTable:
			et.Kind = runtime.ExternTable
		case wasmbin.KindMemory:
			et.Kind = runtime.ExternMemory
		case wasmbin.KindGlobal:
			et.Kind = runtime.ExternGlobal
		}
		exports = append(exports, et)
	}

	return &wazeroCompiledModule{
		binary:  append([]byte(nil), binary...),
		module:  compiled,
		exports: exports,
	}, nil
}

// NewValType returns a descriptor for kind
func (r *wazeroRuntime) NewValType(kind runtime.ValueKind) (runtime.ValType, error) {
	if _, err := convertValueKind(kind); err != nil {
		return nil, err
	}
	return &wazeroValType{kind: kind}, nil
}

// NewWasiConfig returns an empty WASI configuration
func (r *wazeroRuntime) NewWasiConfig() (runtime.WasiConfig, error) {
	return &wazeroWasiConfig{}, nil
}

// NewStore creates a store backed by its own wazero.Runtime
func (r *wazeroRuntime) NewStore(ctx context.Context) (runtime.Store, error) {
	return &wazeroStore{runtime: wazero.NewRuntimeWithConfig(ctx, r.config)}, nil
}

// Close closes the runtime and releases all resources
func (r *wazeroRuntime) Close(ctx context.Context) error {
	return errors.Join(r.compiler.Close(ctx), r.cache.Close(ctx))
}

// Exports returns the module's exports in declaration order
func (m *wazeroCompiledModule) Exports() []runtime.ExportType {
	return m.exports
}

// Close releases the resources associated with the compiled module
func (m *wazeroCompiledModule) Close(ctx context.Context) error {
	return m.module.Close(ctx)
}

func (v *wazeroValType) Kind() runtime.ValueKind { return v.kind }

func (v *wazeroValType) Delete() {}

// NewLinker creates a linker bound to the store
func (s *wazeroStore) NewLinker(context.Context) (runtime.Linker, error) {
	return &wazeroLinker{store: s}, nil
}

// Close closes the store's runtime, and with it every module instantiated in it
func (s *wazeroStore) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// DefineWasi makes the store's WASI module visible to instantiation
func (l *wazeroLinker) DefineWasi(_ context.Context, wasi runtime.WasiInstance) error {
	w, ok := wasi.(*wazeroWasiInstance)
	if !ok || w.store != l.store {
		return fmt.Errorf("wasi instance does not belong to this store: %w", runtime.ErrLinkFailed)
	}
	l.wasi = w
	return nil
}

// DefineFunc registers a host function under module.name
func (l *wazeroLinker) DefineFunc(_ context.Context, module, name string, params, results []runtime.ValType, fn runtime.HostFunction) error {
	if l.instantiated {
		return fmt.Errorf("wazero: define %s.%s after instantiation: %w", module, name, runtime.ErrLinkFailed)
	}
	if fn == nil {
		return fmt.Errorf("wazero: define %s.%s: nil function: %w", module, name, runtime.ErrLinkFailed)
	}
	if l.wasi != nil && module == wasiModuleName {
		return fmt.Errorf("wazero: %s.%s shadows WASI: %w", module, name, runtime.ErrLinkFailed)
	}

	def := hostFuncDef{name: name, params: runtime.Kinds(params), results: runtime.Kinds(results), fn: fn}
	for _, m := range l.modules {
		if m.name != module {
			continue
		}
		for _, f := range m.funcs {
			if f.name == name {
				return fmt.Errorf("wazero: %s.%s already defined: %w", module, name, runtime.ErrLinkFailed)
			}
		}
		m.funcs = append(m.funcs, def)
		return nil
	}
	l.modules = append(l.modules, &hostModuleDef{name: module, funcs: []hostFuncDef{def}})
	return nil
}

const wasiModuleName = "wasi_snapshot_preview1"

// Instantiate builds the host modules and instantiates the guest module
func (l *wazeroLinker) Instantiate(ctx context.Context, module runtime.CompiledModule) (runtime.ModuleInstance, error) {
	wazeroModule, ok := module.(*wazeroCompiledModule)
	if !ok {
		return nil, fmt.Errorf("invalid module type for wazero runtime: %w", runtime.ErrInvalidConfiguration)
	}
	if l.instantiated {
		return nil, fmt.Errorf("wazero: linker already instantiated a module: %w", runtime.ErrModuleInstantiateFailed)
	}
	l.instantiated = true

	rt := l.store.runtime
	for _, m := range l.modules {
		if err := l.instantiateHostModule(ctx, m); err != nil {
			return nil, fmt.Errorf("host module %s instantiation failed: %v: %w", m.name, err, runtime.ErrModuleInstantiateFailed)
		}
	}

	// The compilation cache is shared with the engine, so this does not
	// compile the binary again.
	compiled, err := rt.CompileModule(ctx, wazeroModule.binary)
	if err != nil {
		return nil, fmt.Errorf("guest module compilation failed: %v: %w", err, runtime.ErrModuleInstantiateFailed)
	}

	// Start functions are run explicitly by the caller.
	config := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithStdout(os.Stdout).
		WithStderr(os.Stderr)

	instance, err := rt.InstantiateModule(l.wasi.withRuntimeContext(ctx), compiled, config)
	if err != nil {
		return nil, fmt.Errorf("guest module instantiation failed: %v: %w", err, runtime.ErrModuleInstantiateFailed)
	}

	return newModuleInstance(instance, l.wasi, wazeroModule.exports), nil
}

// Close releases the linker. Host modules belong to the store's runtime.
func (l *wazeroLinker) Close(context.Context) error {
	l.modules = nil
	l.wasi = nil
	return nil
}

// instantiateHostModule creates and instantiates a host module with its functions
func (l *wazeroLinker) instantiateHostModule(ctx context.Context, m *hostModuleDef) error {
	builder := l.store.runtime.NewHostModuleBuilder(m.name)

	for _, def := range m.funcs {
		paramTypes, err := convertValueKinds(def.params)
		if err != nil {
			return err
		}
		resultTypes, err := convertValueKinds(def.results)
		if err != nil {
			return err
		}

		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(l.goModuleFunc(def), paramTypes, resultTypes).
			Export(def.name)
	}

	_, err := builder.Instantiate(ctx)
	return err
}

// goModuleFunc adapts a runtime.HostFunction to wazero's stack calling
// convention. A host error panics, which wazero turns into a guest trap.
func (l *wazeroLinker) goModuleFunc(def hostFuncDef) api.GoModuleFunc {
	wasi := l.wasi
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		args := make([]runtime.Value, len(def.params))
		for i, k := range def.params {
			args[i] = decodeValue(k, stack[i])
		}
		results := runtime.ZeroValues(def.results)

		if err := def.fn(ctx, &wazeroCaller{module: mod, wasi: wasi}, args, results); err != nil {
			panic(err)
		}
		for i, v := range results {
			stack[i] = encodeValue(v)
		}
	}
}

func newModuleInstance(instance api.Module, wasi *wazeroWasiInstance, exports []runtime.ExportType) *wazeroModuleInstance {
	m := &wazeroModuleInstance{
		instance: instance,
		wasi:     wasi,
		externs:  make([]runtime.Extern, len(exports)),
	}
	for i, e := range exports {
		ext := &wazeroExtern{kind: e.Kind}
		switch e.Kind {
		case runtime.ExternFunc:
			if fn := instance.ExportedFunction(e.Name); fn != nil {
				ext.fn = &wazeroFunctionInstance{function: fn, wasi: wasi, results: e.Results}
			}
		case runtime.ExternMemory:
			if mem := instance.ExportedMemory(e.Name); mem != nil {
				ext.memory = &wazeroMemory{memory: mem}
			}
		}
		m.externs[i] = ext
	}
	return m
}

// Exports returns the instance's exports in declaration order
func (m *wazeroModuleInstance) Exports() []runtime.Extern {
	return m.externs
}

// Close closes the instance and releases its resources
func (m *wazeroModuleInstance) Close(ctx context.Context) error {
	return m.instance.Close(ctx)
}

func (e *wazeroExtern) Kind() runtime.ExternKind { return e.kind }

func (e *wazeroExtern) Func() runtime.FunctionInstance {
	if e.fn == nil {
		return nil
	}
	return e.fn
}

func (e *wazeroExtern) Memory() runtime.Memory {
	if e.memory == nil {
		return nil
	}
	return e.memory
}

// Call executes the function with the given parameters
func (f *wazeroFunctionInstance) Call(ctx context.Context, args []runtime.Value, results []runtime.Value) error {
	if len(results) != len(f.results) {
		return fmt.Errorf("wazero: function returns %d results, buffer holds %d: %w", len(f.results), len(results), runtime.ErrResultCount)
	}

	params := make([]uint64, len(args))
	for i, a := range args {
		params[i] = encodeValue(a)
	}

	raw, err := f.function.Call(f.wasi.withRuntimeContext(ctx), params...)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			// proc_exit(0) from a command module is a normal return.
			for i, k := range f.results {
				results[i] = runtime.ValueFromBits(k, 0)
			}
			return nil
		}
		return runtime.NewTrap(err)
	}

	for i, k := range f.results {
		results[i] = decodeValue(k, raw[i])
	}
	return nil
}

// Size returns the current memory size in bytes
func (mem *wazeroMemory) Size() uint32 {
	return mem.memory.Size()
}

// Read reads 'size' bytes from the memory at 'offset'
func (mem *wazeroMemory) Read(offset uint32, size uint32) ([]byte, bool) {
	return mem.memory.Read(offset, size)
}

// Write writes 'data' to the memory at 'offset'
func (mem *wazeroMemory) Write(offset uint32, data []byte) bool {
	return mem.memory.Write(offset, data)
}

// Export returns the caller's export with the given name, or nil
func (c *wazeroCaller) Export(name string) runtime.Extern {
	if fn := c.module.ExportedFunction(name); fn != nil {
		results, err := convertValueTypes(fn.Definition().ResultTypes())
		if err != nil {
			return nil
		}
		return &wazeroExtern{
			kind: runtime.ExternFunc,
			fn:   &wazeroFunctionInstance{function: fn, wasi: c.wasi, results: results},
		}
	}
	if mem := c.module.ExportedMemory(name); mem != nil {
		return &wazeroExtern{kind: runtime.ExternMemory, memory: &wazeroMemory{memory: mem}}
	}
	return nil
}
