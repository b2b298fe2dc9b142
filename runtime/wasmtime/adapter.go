//go:build cgo

// Package wasmtime implements runtime.Runtime on top of wasmtime-go. It is
// only built with cgo; importing it registers the "wasmtime" runtime type.
package wasmtime

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/bytecodealliance/wasmtime-go/v13"

	"github.com/otelwasm/wasmhost/runtime"
)

func init() {
	runtime.Register(runtime.TypeWasmtime, newWasmtimeRuntime)
}

// wasmtimeRuntime implements runtime.Runtime using Wasmtime
type wasmtimeRuntime struct {
	engine *wasmtime.Engine
}

type wasmtimeCompiledModule struct {
	module  *wasmtime.Module
	exports []runtime.ExportType
}

type wasmtimeValType struct {
	kind runtime.ValueKind
	vt   *wasmtime.ValType
}

type wasmtimeWasiConfig struct {
	cfg *wasmtime.WasiConfig
}

type wasmtimeStore struct {
	engine *wasmtime.Engine
	store  *wasmtime.Store

	// ctx is the context of the guest call in progress, handed to host
	// functions called from it.
	ctx context.Context
}

type wasmtimeWasiInstance struct {
	store *wasmtimeStore
}

type wasmtimeLinker struct {
	store  *wasmtimeStore
	linker *wasmtime.Linker
}

type wasmtimeModuleInstance struct {
	instance *wasmtime.Instance
	externs  []runtime.Extern
}

type wasmtimeExtern struct {
	kind   runtime.ExternKind
	fn     *wasmtimeFunc
	memory *wasmtimeMemory
}

type wasmtimeFunc struct {
	fn      *wasmtime.Func
	store   wasmtime.Storelike
	owner   *wasmtimeStore
	results []runtime.ValueKind
}

type wasmtimeMemory struct {
	memory *wasmtime.Memory
	store  wasmtime.Storelike
}

type wasmtimeCaller struct {
	caller *wasmtime.Caller
	owner  *wasmtimeStore
}

var (
	_ runtime.Runtime          = (*wasmtimeRuntime)(nil)
	_ runtime.CompiledModule   = (*wasmtimeCompiledModule)(nil)
	_ runtime.Store            = (*wasmtimeStore)(nil)
	_ runtime.Linker           = (*wasmtimeLinker)(nil)
	_ runtime.ModuleInstance   = (*wasmtimeModuleInstance)(nil)
	_ runtime.FunctionInstance = (*wasmtimeFunc)(nil)
	_ runtime.Memory           = (*wasmtimeMemory)(nil)
	_ runtime.Caller           = (*wasmtimeCaller)(nil)
)

// newWasmtimeRuntime creates an engine. Wasmtime always compiles with
// Cranelift, so both modes are accepted.
func newWasmtimeRuntime(config runtime.Config) (runtime.Runtime, error) {
	switch config.Mode {
	case runtime.ModeInterpreter, runtime.ModeCompiled, "":
	default:
		return nil, fmt.Errorf("wasmtime: unknown mode %q: %w", config.Mode, runtime.ErrInvalidConfiguration)
	}

	cfg := wasmtime.NewConfig()
	if config.CacheDir != "" {
		path, err := writeCacheConfig(config.CacheDir)
		if err != nil {
			return nil, err
		}
		if err := cfg.CacheConfigLoad(path); err != nil {
			return nil, fmt.Errorf("wasmtime: cache config %q: %w", path, err)
		}
	}

	return &wasmtimeRuntime{engine: wasmtime.NewEngineWithConfig(cfg)}, nil
}

// writeCacheConfig writes a wasmtime cache configuration pointing at dir
func writeCacheConfig(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("wasmtime: cache dir %q: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(abs, "wasmtime-cache.toml")
	toml := fmt.Sprintf("[cache]\nenabled = true\ndirectory = %q\n", abs)
	if err := os.WriteFile(path, []byte(toml), 0o600); err != nil {
		return "", fmt.Errorf("wasmtime: cache config %q: %w", path, err)
	}
	return path, nil
}

func (r *wasmtimeRuntime) Compile(_ context.Context, binary []byte) (runtime.CompiledModule, error) {
	module, err := wasmtime.NewModule(r.engine, binary)
	if err != nil {
		return nil, fmt.Errorf("wasmtime compile error: %v: %w", err, runtime.ErrModuleCompileFailed)
	}

	var exports []runtime.ExportType
	for _, e := range module.Exports() {
		et := runtime.ExportType{Name: e.Name()}
		ty := e.Type()
		switch {
		case ty.FuncType() != nil:
			et.Kind = runtime.ExternFunc
			ft := ty.FuncType()
			if et.Params, err = convertValTypes(ft.Params()); err != nil {
				module.Close()
				return nil, fmt.Errorf("wasmtime: params of %q: %w", et.Name, err)
			}
			if et.Results, err = convertValTypes(ft.Results()); err != nil {
				module.Close()
				return nil, fmt.Errorf("wasmtime: results of %q: %w", et.Name, err)
			}
		case ty.MemoryType() != nil:
			et.Kind = runtime.ExternMemory
		case ty.TableType() != nil:
			et.Kind = runtime.ExternTable
		default:
			et.Kind = runtime.ExternGlobal
		}
		exports = append(exports, et)
	}

	return &wasmtimeCompiledModule{module: module, exports: exports}, nil
}

func (r *wasmtimeRuntime) NewValType(kind runtime.ValueKind) (runtime.ValType, error) {
	vk, err := convertValueKind(kind)
	if err != nil {
		return nil, err
	}
	return &wasmtimeValType{kind: kind, vt: wasmtime.NewValType(vk)}, nil
}

func (r *wasmtimeRuntime) NewWasiConfig() (runtime.WasiConfig, error) {
	cfg := wasmtime.NewWasiConfig()
	cfg.InheritStdout()
	cfg.InheritStderr()
	return &wasmtimeWasiConfig{cfg: cfg}, nil
}

func (r *wasmtimeRuntime) NewStore(context.Context) (runtime.Store, error) {
	return &wasmtimeStore{engine: r.engine, store: wasmtime.NewStore(r.engine)}, nil
}

func (r *wasmtimeRuntime) Close(context.Context) error {
	r.engine.Close()
	return nil
}

func (m *wasmtimeCompiledModule) Exports() []runtime.ExportType { return m.exports }

func (m *wasmtimeCompiledModule) Close(context.Context) error {
	m.module.Close()
	return nil
}

func (v *wasmtimeValType) Kind() runtime.ValueKind { return v.kind }

// Delete drops the reference; wasmtime-go frees the descriptor with a finalizer.
func (v *wasmtimeValType) Delete() { v.vt = nil }

func (c *wasmtimeWasiConfig) SetArgs(args ...string) { c.cfg.SetArgv(args) }

func (c *wasmtimeWasiConfig) SetEnv(env ...string) {
	keys := make([]string, 0, len(env))
	values := make([]string, 0, len(env))
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				keys = append(keys, kv[:i])
				values = append(values, kv[i+1:])
				break
			}
		}
	}
	c.cfg.SetEnv(keys, values)
}

func (c *wasmtimeWasiConfig) PreopenDir(hostPath, guestPath string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return fmt.Errorf("wasmtime: preopen %q: %w", hostPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("wasmtime: preopen %q: not a directory: %w", hostPath, runtime.ErrWasiFailed)
	}
	if guestPath == "" {
		guestPath = hostPath
	}
	if err := c.cfg.PreopenDir(hostPath, guestPath); err != nil {
		return fmt.Errorf("wasmtime: preopen %q: %v: %w", hostPath, err, runtime.ErrWasiFailed)
	}
	return nil
}

func (c *wasmtimeWasiConfig) Delete() { c.cfg = nil }

// NewWasiInstance moves cfg into the store.
func (s *wasmtimeStore) NewWasiInstance(_ context.Context, cfg runtime.WasiConfig) (runtime.WasiInstance, error) {
	c, ok := cfg.(*wasmtimeWasiConfig)
	if !ok || c.cfg == nil {
		return nil, fmt.Errorf("invalid wasi config for wasmtime runtime: %w", runtime.ErrInvalidConfiguration)
	}
	s.store.SetWasi(c.cfg)
	c.cfg = nil
	return &wasmtimeWasiInstance{store: s}, nil
}

func (s *wasmtimeStore) NewLinker(context.Context) (runtime.Linker, error) {
	return &wasmtimeLinker{store: s, linker: wasmtime.NewLinker(s.engine)}, nil
}

// enter makes ctx the context of host functions until the returned function
// restores the previous one.
func (s *wasmtimeStore) enter(ctx context.Context) func() {
	prev := s.ctx
	s.ctx = ctx
	return func() { s.ctx = prev }
}

func (s *wasmtimeStore) callContext() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *wasmtimeStore) Close(context.Context) error {
	s.store.Close()
	return nil
}

// Close is a no-op; the WASI context is owned by the store.
func (w *wasmtimeWasiInstance) Close(context.Context) error { return nil }

func (l *wasmtimeLinker) DefineWasi(_ context.Context, wasi runtime.WasiInstance) error {
	w, ok := wasi.(*wasmtimeWasiInstance)
	if !ok || w.store != l.store {
		return fmt.Errorf("wasi instance does not belong to this store: %w", runtime.ErrLinkFailed)
	}
	if err := l.linker.DefineWasi(); err != nil {
		return fmt.Errorf("wasmtime: define wasi: %v: %w", err, runtime.ErrLinkFailed)
	}
	return nil
}

func (l *wasmtimeLinker) DefineFunc(_ context.Context, module, name string, params, results []runtime.ValType, fn runtime.HostFunction) error {
	if fn == nil {
		return fmt.Errorf("wasmtime: define %s.%s: nil function: %w", module, name, runtime.ErrLinkFailed)
	}
	paramTypes, err := valTypes(params)
	if err != nil {
		return err
	}
	resultTypes, err := valTypes(results)
	if err != nil {
		return err
	}
	paramKinds, resultKinds := runtime.Kinds(params), runtime.Kinds(results)

	cb := func(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
		in := make([]runtime.Value, len(args))
		for i, a := range args {
			in[i] = fromVal(paramKinds[i], a)
		}
		out := runtime.ZeroValues(resultKinds)
		if err := fn(l.store.callContext(), &wasmtimeCaller{caller: caller, owner: l.store}, in, out); err != nil {
			return nil, wasmtime.NewTrap(err.Error())
		}
		vals := make([]wasmtime.Val, len(out))
		for i, v := range out {
			vals[i] = toVal(v)
		}
		return vals, nil
	}

	if err := l.linker.FuncNew(module, name, wasmtime.NewFuncType(paramTypes, resultTypes), cb); err != nil {
		return fmt.Errorf("wasmtime: define %s.%s: %v: %w", module, name, err, runtime.ErrLinkFailed)
	}
	return nil
}

func (l *wasmtimeLinker) Instantiate(ctx context.Context, module runtime.CompiledModule) (runtime.ModuleInstance, error) {
	m, ok := module.(*wasmtimeCompiledModule)
	if !ok {
		return nil, fmt.Errorf("invalid module type for wasmtime runtime: %w", runtime.ErrInvalidConfiguration)
	}
	restore := l.store.enter(ctx)
	instance, err := l.linker.Instantiate(l.store.store, m.module)
	restore()
	if err != nil {
		return nil, fmt.Errorf("guest module instantiation failed: %v: %w", err, runtime.ErrModuleInstantiateFailed)
	}

	// Instance.Exports follows the module's declaration order.
	exts := instance.Exports(l.store.store)
	inst := &wasmtimeModuleInstance{instance: instance, externs: make([]runtime.Extern, len(exts))}
	for i, ext := range exts {
		inst.externs[i] = newExtern(ext, l.store, m.exports[i])
	}
	return inst, nil
}

func (l *wasmtimeLinker) Close(context.Context) error {
	l.linker.Close()
	return nil
}

func newExtern(ext *wasmtime.Extern, s *wasmtimeStore, et runtime.ExportType) *wasmtimeExtern {
	e := &wasmtimeExtern{kind: et.Kind}
	if fn := ext.Func(); fn != nil {
		e.fn = &wasmtimeFunc{fn: fn, store: s.store, owner: s, results: et.Results}
	}
	if mem := ext.Memory(); mem != nil {
		e.memory = &wasmtimeMemory{memory: mem, store: s.store}
	}
	return e
}

func (m *wasmtimeModuleInstance) Exports() []runtime.Extern { return m.externs }

// Close is a no-op; instances live as long as their store.
func (m *wasmtimeModuleInstance) Close(context.Context) error { return nil }

func (e *wasmtimeExtern) Kind() runtime.ExternKind { return e.kind }

func (e *wasmtimeExtern) Func() runtime.FunctionInstance {
	if e.fn == nil {
		return nil
	}
	return e.fn
}

func (e *wasmtimeExtern) Memory() runtime.Memory {
	if e.memory == nil {
		return nil
	}
	return e.memory
}

func (f *wasmtimeFunc) Call(ctx context.Context, args []runtime.Value, results []runtime.Value) error {
	if len(results) != len(f.results) {
		return fmt.Errorf("wasmtime: function returns %d results, buffer holds %d: %w", len(f.results), len(results), runtime.ErrResultCount)
	}

	params := make([]interface{}, len(args))
	for i, a := range args {
		params[i] = toCallArg(a)
	}

	restore := f.owner.enter(ctx)
	out, err := f.fn.Call(f.store, params...)
	restore()
	if err != nil {
		return runtime.NewTrap(err)
	}

	switch len(f.results) {
	case 0:
	case 1:
		results[0] = fromCallResult(f.results[0], out)
	default:
		vals, ok := out.([]wasmtime.Val)
		if !ok || len(vals) != len(f.results) {
			return fmt.Errorf("wasmtime: unexpected results %T: %w", out, runtime.ErrResultCount)
		}
		for i, v := range vals {
			results[i] = fromVal(f.results[i], v)
		}
	}
	return nil
}

// Size returns the memory size in bytes, capped at math.MaxUint32 for a full
// 4 GiB memory.
func (mem *wasmtimeMemory) Size() uint32 {
	return clampSize(uint64(mem.memory.DataSize(mem.store)))
}

func clampSize(n uint64) uint32 {
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

func (mem *wasmtimeMemory) Read(offset, size uint32) ([]byte, bool) {
	data := mem.memory.UnsafeData(mem.store)
	if uint64(offset)+uint64(size) > uint64(len(data)) {
		return nil, false
	}
	return data[offset : offset+size : offset+size], true
}

func (mem *wasmtimeMemory) Write(offset uint32, b []byte) bool {
	data := mem.memory.UnsafeData(mem.store)
	if uint64(offset)+uint64(len(b)) > uint64(len(data)) {
		return false
	}
	copy(data[offset:], b)
	return true
}

func (c *wasmtimeCaller) Export(name string) runtime.Extern {
	ext := c.caller.GetExport(name)
	if ext == nil {
		return nil
	}
	if fn := ext.Func(); fn != nil {
		ft := fn.Type(c.caller)
		results, err := convertValTypes(ft.Results())
		if err != nil {
			return nil
		}
		return &wasmtimeExtern{kind: runtime.ExternFunc, fn: &wasmtimeFunc{fn: fn, store: c.caller, owner: c.owner, results: results}}
	}
	if mem := ext.Memory(); mem != nil {
		return &wasmtimeExtern{kind: runtime.ExternMemory, memory: &wasmtimeMemory{memory: mem, store: c.caller}}
	}
	return nil
}
