package wasmhost

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/otelwasm/wasmhost/handle"
	"github.com/otelwasm/wasmhost/runtime"
	_ "github.com/otelwasm/wasmhost/runtime/wazero" // Register Wazero runtime
)

// Engine is the runtime shared by every module and execution context created
// from it. It is safe for concurrent use.
type Engine struct {
	rt  runtime.Runtime
	cfg Config

	mu          sync.Mutex
	descriptors map[runtime.ValueKind]*handle.Shared[runtime.ValType]
	closed      bool
}

// NewEngine creates the runtime named by cfg.RuntimeConfig.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt, err := runtime.NewRuntime(cfg.RuntimeConfig.Type, cfg.RuntimeConfig.runtimeConfig())
	if err != nil {
		return nil, fmt.Errorf("wasmhost: error creating runtime: %w", err)
	}
	Logger().Debug("engine created",
		zap.String("runtime", cfg.RuntimeConfig.Type),
		zap.String("mode", string(cfg.RuntimeConfig.Mode)))
	return NewEngineWithRuntime(rt, cfg), nil
}

// NewEngineWithRuntime wraps an existing runtime. The engine takes ownership
// of rt.
func NewEngineWithRuntime(rt runtime.Runtime, cfg Config) *Engine {
	cfg.Default()
	return &Engine{
		rt:          rt,
		cfg:         cfg,
		descriptors: make(map[runtime.ValueKind]*handle.Shared[runtime.ValType]),
	}
}

// Runtime returns the underlying runtime.
func (e *Engine) Runtime() runtime.Runtime { return e.rt }

// Config returns the configuration the engine was created with.
func (e *Engine) Config() Config { return e.cfg }

// TypeDescriptor returns the shared descriptor for kind, creating it on
// first use. The caller owns one reference and must Drop it.
func (e *Engine) TypeDescriptor(kind runtime.ValueKind) (*handle.Shared[runtime.ValType], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("wasmhost: engine closed: %w", runtime.ErrClosed)
	}
	if d, ok := e.descriptors[kind]; ok {
		return d.Ref(), nil
	}

	vt, err := e.rt.NewValType(kind)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: %s descriptor: %w: %w", kind, ErrAllocation, err)
	}
	d := handle.NewShared(vt, func(vt runtime.ValType) { vt.Delete() })
	e.descriptors[kind] = d
	return d.Ref(), nil
}

// Compile compiles binary and builds its export index.
func (e *Engine) Compile(ctx context.Context, binary []byte) (*Module, error) {
	compiled, err := e.rt.Compile(ctx, binary)
	if err != nil {
		return nil, reportError("compile", fmt.Errorf("wasmhost: error compiling module: %w", err))
	}

	m := &Module{
		engine:   e,
		compiled: compiled,
		types:    compiled.Exports(),
	}
	m.index = BuildExportIndex(compiled)
	m.kind = DetectModuleKind(m)
	Logger().Debug("module compiled",
		zap.Int("exports", m.index.Len()),
		zap.Stringer("kind", m.kind))
	return m, nil
}

// Close drops the engine's descriptor references and closes the runtime.
// Modules and contexts created from the engine must be closed first.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for kind, d := range e.descriptors {
		d.Drop()
		delete(e.descriptors, kind)
	}
	e.mu.Unlock()

	if err := e.rt.Close(ctx); err != nil {
		return fmt.Errorf("wasmhost: error closing runtime: %w", err)
	}
	return nil
}

// descriptorVec builds a runtime vector of descriptors for kinds. On success
// the caller owns the references in refs.
func (e *Engine) descriptorVec(kinds []runtime.ValueKind) (*handle.Vec[runtime.ValType], []*handle.Shared[runtime.ValType], error) {
	refs := make([]*handle.Shared[runtime.ValType], 0, len(kinds))
	ptrs := make([]*runtime.ValType, 0, len(kinds))
	for _, k := range kinds {
		d, err := e.TypeDescriptor(k)
		if err != nil {
			for _, r := range refs {
				r.Drop()
			}
			return nil, nil, err
		}
		refs = append(refs, d)
		vt := d.Get()
		ptrs = append(ptrs, &vt)
	}
	return handle.AllocateConst(handle.HeapOps[runtime.ValType](), ptrs, false), refs, nil
}

var errEngineMismatch = errors.New("module belongs to another engine")
