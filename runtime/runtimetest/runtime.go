// Package runtimetest provides an in-memory runtime.Runtime that records every
// call made through it and can be told to fail at any of them.
package runtimetest

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/otelwasm/wasmhost/runtime"
)

// Operation names recorded by Runtime.
const (
	OpCompile           = "Compile"
	OpNewValType        = "NewValType"
	OpDeleteValType     = "ValType.Delete"
	OpNewWasiConfig     = "NewWasiConfig"
	OpPreopenDir        = "PreopenDir"
	OpDeleteWasiConfig  = "WasiConfig.Delete"
	OpNewStore          = "NewStore"
	OpCloseStore        = "Store.Close"
	OpNewWasiInstance   = "NewWasiInstance"
	OpCloseWasiInstance = "WasiInstance.Close"
	OpNewLinker         = "NewLinker"
	OpCloseLinker       = "Linker.Close"
	OpDefineWasi        = "DefineWasi"
	OpDefineFunc        = "DefineFunc"
	OpInstantiate       = "Instantiate"
	OpCloseInstance     = "Instance.Close"
	OpCall              = "Call"
	OpCloseModule       = "Module.Close"
	OpCloseRuntime      = "Runtime.Close"
)

// Runtime is a stub runtime. Modules are registered with Define and
// looked up by their bytes in Compile.
type Runtime struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]error
	modules map[string]*Module
}

var _ runtime.Runtime = (*Runtime)(nil)

// New returns an empty stub runtime.
func New() *Runtime {
	return &Runtime{
		calls:   make(map[string]int),
		fail:    make(map[string]error),
		modules: make(map[string]*Module),
	}
}

// FailOn makes every later call of op fail with err. A nil err clears it.
func (r *Runtime) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, op)
		return
	}
	r.fail[op] = err
}

// Calls returns how many times op was called.
func (r *Runtime) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Reset clears the call counts.
func (r *Runtime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = make(map[string]int)
}

// record counts op and returns the injected failure, if any.
func (r *Runtime) record(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op]++
	return r.fail[op]
}

// Define registers a module that Compile returns for binary.
func (r *Runtime) Define(binary []byte, exports ...Export) *Module {
	m := &Module{rt: r, exports: exports}
	r.mu.Lock()
	r.modules[string(binary)] = m
	r.mu.Unlock()
	return m
}

func (r *Runtime) Compile(_ context.Context, binary []byte) (runtime.CompiledModule, error) {
	if err := r.record(OpCompile); err != nil {
		return nil, err
	}
	r.mu.Lock()
	m, ok := r.modules[string(binary)]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("runtimetest: no module defined for %d bytes: %w", len(binary), runtime.ErrModuleCompileFailed)
	}
	return m, nil
}

func (r *Runtime) NewValType(kind runtime.ValueKind) (runtime.ValType, error) {
	if err := r.record(OpNewValType); err != nil {
		return nil, err
	}
	if kind > runtime.ValueKindRef {
		return nil, fmt.Errorf("runtimetest: %s: %w", kind, runtime.ErrUnsupportedValueKind)
	}
	return &valType{rt: r, kind: kind}, nil
}

func (r *Runtime) NewWasiConfig() (runtime.WasiConfig, error) {
	if err := r.record(OpNewWasiConfig); err != nil {
		return nil, err
	}
	return &WasiConfig{rt: r, Preopens: map[string]string{}}, nil
}

func (r *Runtime) NewStore(context.Context) (runtime.Store, error) {
	if err := r.record(OpNewStore); err != nil {
		return nil, err
	}
	return &store{rt: r}, nil
}

func (r *Runtime) Close(context.Context) error {
	return r.record(OpCloseRuntime)
}

type valType struct {
	rt   *Runtime
	kind runtime.ValueKind
}

func (v *valType) Kind() runtime.ValueKind { return v.kind }

func (v *valType) Delete() { _ = v.rt.record(OpDeleteValType) }

// WasiConfig records the settings it was given.
type WasiConfig struct {
	rt       *Runtime
	Args     []string
	Env      []string
	Preopens map[string]string
}

func (c *WasiConfig) SetArgs(args ...string) { c.Args = append([]string(nil), args...) }

func (c *WasiConfig) SetEnv(env ...string) { c.Env = append([]string(nil), env...) }

func (c *WasiConfig) PreopenDir(hostPath, guestPath string) error {
	if err := c.rt.record(OpPreopenDir); err != nil {
		return err
	}
	info, err := os.Stat(hostPath)
	if err != nil {
		return fmt.Errorf("runtimetest: preopen %q: %w", hostPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("runtimetest: preopen %q: not a directory: %w", hostPath, runtime.ErrWasiFailed)
	}
	c.Preopens[guestPath] = hostPath
	return nil
}

func (c *WasiConfig) Delete() { _ = c.rt.record(OpDeleteWasiConfig) }

type store struct {
	rt   *Runtime
	wasi *WasiInstance
}

func (s *store) NewWasiInstance(_ context.Context, cfg runtime.WasiConfig) (runtime.WasiInstance, error) {
	if err := s.rt.record(OpNewWasiInstance); err != nil {
		return nil, err
	}
	c, ok := cfg.(*WasiConfig)
	if !ok {
		return nil, fmt.Errorf("runtimetest: foreign wasi config %T: %w", cfg, runtime.ErrInvalidConfiguration)
	}
	s.wasi = &WasiInstance{rt: s.rt, Config: c}
	return s.wasi, nil
}

func (s *store) NewLinker(context.Context) (runtime.Linker, error) {
	if err := s.rt.record(OpNewLinker); err != nil {
		return nil, err
	}
	return &linker{rt: s.rt, funcs: make(map[string]hostFunc)}, nil
}

func (s *store) Close(context.Context) error {
	return s.rt.record(OpCloseStore)
}

// WasiInstance exposes the configuration it was built from.
type WasiInstance struct {
	rt     *Runtime
	Config *WasiConfig
}

func (w *WasiInstance) Close(context.Context) error {
	return w.rt.record(OpCloseWasiInstance)
}

type hostFunc struct {
	params  []runtime.ValueKind
	results []runtime.ValueKind
	fn      runtime.HostFunction
}

type linker struct {
	rt    *Runtime
	wasi  *WasiInstance
	funcs map[string]hostFunc
}

func importKey(module, name string) string {
	return module + "\x00" + name
}

func (l *linker) DefineWasi(_ context.Context, wasi runtime.WasiInstance) error {
	if err := l.rt.record(OpDefineWasi); err != nil {
		return err
	}
	w, ok := wasi.(*WasiInstance)
	if !ok {
		return fmt.Errorf("runtimetest: foreign wasi instance %T: %w", wasi, runtime.ErrInvalidConfiguration)
	}
	l.wasi = w
	return nil
}

func (l *linker) DefineFunc(_ context.Context, module, name string, params, results []runtime.ValType, fn runtime.HostFunction) error {
	if err := l.rt.record(OpDefineFunc); err != nil {
		return err
	}
	key := importKey(module, name)
	if _, ok := l.funcs[key]; ok {
		return fmt.Errorf("runtimetest: %s.%s already defined: %w", module, name, runtime.ErrLinkFailed)
	}
	l.funcs[key] = hostFunc{params: runtime.Kinds(params), results: runtime.Kinds(results), fn: fn}
	return nil
}

func (l *linker) Instantiate(_ context.Context, module runtime.CompiledModule) (runtime.ModuleInstance, error) {
	if err := l.rt.record(OpInstantiate); err != nil {
		return nil, err
	}
	m, ok := module.(*Module)
	if !ok {
		return nil, fmt.Errorf("runtimetest: foreign module %T: %w", module, runtime.ErrInvalidConfiguration)
	}
	for _, imp := range m.imports {
		if _, ok := l.funcs[importKey(imp.Module, imp.Name)]; !ok {
			return nil, fmt.Errorf("runtimetest: import %s.%s not defined: %w", imp.Module, imp.Name, runtime.ErrModuleInstantiateFailed)
		}
	}
	return newInstance(l.rt, m, l.funcs), nil
}

func (l *linker) Close(context.Context) error {
	return l.rt.record(OpCloseLinker)
}
