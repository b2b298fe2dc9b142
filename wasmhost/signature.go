package wasmhost

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/otelwasm/wasmhost/handle"
	"github.com/otelwasm/wasmhost/runtime"
)

// HostFunc implements a host import. It reads the guest's arguments from
// call and stores results with call.SetResult. A returned error traps the
// guest.
type HostFunc func(ctx context.Context, call *HostCall) error

// Signature describes a function crossing the guest boundary: a host import
// when it has a callback, or a guest export to call. A Signature may be
// shared by many execution contexts.
type Signature struct {
	module   string
	name     string
	params   []runtime.ValueKind
	results  []runtime.ValueKind
	callback HostFunc

	resolved atomic.Pointer[resolvedExport]
}

// resolvedExport caches the export position of a signature for one module.
type resolvedExport struct {
	module *Module
	index  int
}

// NewSignature returns a signature for module.name. module is ignored for
// guest exports.
func NewSignature(module, name string, params, results []runtime.ValueKind, callback HostFunc) *Signature {
	return &Signature{
		module:   module,
		name:     name,
		params:   append([]runtime.ValueKind(nil), params...),
		results:  append([]runtime.ValueKind(nil), results...),
		callback: callback,
	}
}

func (s *Signature) Module() string               { return s.module }
func (s *Signature) Name() string                 { return s.name }
func (s *Signature) Params() []runtime.ValueKind  { return s.params }
func (s *Signature) Results() []runtime.ValueKind { return s.results }
func (s *Signature) Callback() HostFunc           { return s.callback }
func (s *Signature) String() string               { return s.module + "." + s.name }

// LinkAsHostImport defines s in the linker of c, calling override when it
// is non-nil and the signature's callback otherwise.
//
// It must run before the module is instantiated. Without any callback the
// import is rejected, except in production mode where it is linked to a stub
// that traps the guest when called.
//
// Errors are returned without logging; NewContext logs them once with the
// failing stage.
func (s *Signature) LinkAsHostImport(ctx context.Context, c *Context, override HostFunc) error {
	if c == nil || c.err != nil || c.closed || !c.linker.Valid() {
		return fmt.Errorf("wasmhost: link %s: %w", s, ErrInvalidContext)
	}
	if c.instance.Valid() {
		return fmt.Errorf("wasmhost: link %s: %w", s, ErrAlreadyInstantiated)
	}

	fn := override
	if fn == nil {
		fn = s.callback
	}
	if fn == nil {
		if !c.engine.cfg.Production {
			return fmt.Errorf("wasmhost: link %s: %w", s, ErrMissingCallback)
		}
		Logger().Warn("linking trap stub for host import without callback", zap.Stringer("import", s))
		fn = func(context.Context, *HostCall) error {
			return fmt.Errorf("wasmhost: %s called: %w", s, ErrMissingCallback)
		}
	}

	params, paramRefs, err := c.engine.descriptorVec(s.params)
	if err != nil {
		return err
	}
	defer dropAll(paramRefs)
	defer params.Close()
	results, resultRefs, err := c.engine.descriptorVec(s.results)
	if err != nil {
		return err
	}
	defer dropAll(resultRefs)
	defer results.Close()

	if err := c.linker.Get().DefineFunc(ctx, s.module, s.name, params.Get(), results.Get(), s.trampoline(c, fn)); err != nil {
		return fmt.Errorf("wasmhost: link %s: %w", s, err)
	}
	return nil
}

func dropAll(refs []*handle.Shared[runtime.ValType]) {
	for _, r := range refs {
		r.Drop()
	}
}

// trampoline adapts fn to the runtime's host function form.
func (s *Signature) trampoline(c *Context, fn HostFunc) runtime.HostFunction {
	return func(ctx context.Context, caller runtime.Caller, args, results []runtime.Value) error {
		call := &HostCall{c: c, sig: s, caller: caller, args: args, results: results}
		defer call.expire()
		if err := fn(ctx, call); err != nil {
			return reportError("host_call", err, zap.Stringer("import", s))
		}
		return nil
	}
}

// CallIndex calls the function at position funcIndex of inst's exports.
//
// The argument count must match the signature; a wrong count, an index out
// of range and a non-function export each fail with their own error before
// anything runs. Results are pre-filled with null references and then
// overwritten by the call.
//
// CallIndex does not count toward the call depth of a Context; only Call
// enforces Config.MaxCallDepth.
func (s *Signature) CallIndex(ctx context.Context, funcIndex int, inst runtime.ModuleInstance, args []runtime.Value) ([]runtime.Value, error) {
	if len(args) != len(s.params) {
		Logger().Error("argument count mismatch",
			zap.String("function", s.name),
			zap.Int("expected", len(s.params)),
			zap.Int("actual", len(args)))
		return nil, &CallError{Op: "call", Name: s.name, Err: fmt.Errorf("want %d, have %d: %w", len(s.params), len(args), ErrArgumentCount)}
	}
	for i, a := range args {
		if a.Kind() != s.params[i] {
			return nil, &CallError{Op: "call", Name: s.name, Err: fmt.Errorf("argument %d: want %s, have %s: %w", i, s.params[i], a.Kind(), ErrKindMismatch)}
		}
	}
	if inst == nil {
		return nil, &CallError{Op: "call", Name: s.name, Err: ErrInvalidContext}
	}

	exports := handle.BorrowVec(inst.Exports())
	defer exports.Close()
	ext, ok := exports.At(funcIndex)
	if !ok {
		Logger().Error("export index out of range",
			zap.String("function", s.name),
			zap.Int("index", funcIndex),
			zap.Int("exports", exports.Len()))
		return nil, &CallError{Op: "call", Name: s.name, Err: fmt.Errorf("index %d of %d: %w", funcIndex, exports.Len(), ErrIndexOutOfRange)}
	}
	var fn runtime.FunctionInstance
	if ext != nil && ext.Kind() == runtime.ExternFunc {
		fn = ext.Func()
	}
	if fn == nil {
		Logger().Error("export is not a function",
			zap.String("function", s.name),
			zap.Int("index", funcIndex))
		return nil, &CallError{Op: "call", Name: s.name, Err: fmt.Errorf("index %d: %w", funcIndex, ErrNotAFunction)}
	}

	results := make([]runtime.Value, len(s.results))
	for i := range results {
		results[i] = runtime.NullRef()
	}
	if err := fn.Call(ctx, args, results); err != nil {
		reportError("call", err, zap.String("function", s.name))
		return nil, &CallError{Op: "call", Name: s.name, Err: fmt.Errorf("%w: %w", ErrCallFailed, err)}
	}
	return results, nil
}

// Call calls the guest export named like s in c. Host callbacks may call
// back into the guest up to the configured call depth.
func (s *Signature) Call(ctx context.Context, c *Context, args ...runtime.Value) ([]runtime.Value, error) {
	if !c.Valid() {
		return nil, &CallError{Op: "call", Name: s.name, Err: ErrInvalidContext}
	}
	idx, err := s.resolve(c.module)
	if err != nil {
		return nil, &CallError{Op: "call", Name: s.name, Err: err}
	}
	if c.depth >= c.engine.cfg.MaxCallDepth {
		return nil, &CallError{Op: "call", Name: s.name, Err: fmt.Errorf("depth %d: %w", c.depth, ErrCallDepthExceeded)}
	}
	c.depth++
	defer func() { c.depth-- }()
	return s.CallIndex(ctx, idx, c.instance.Get(), args)
}

// resolve returns the export position of s in m, caching it per module.
func (s *Signature) resolve(m *Module) (int, error) {
	if r := s.resolved.Load(); r != nil && r.module == m {
		return r.index, nil
	}
	i, ok := m.index.Lookup(s.name)
	if !ok {
		return 0, fmt.Errorf("%s: %w", s.name, ErrExportNotFound)
	}
	s.resolved.Store(&resolvedExport{module: m, index: i})
	return i, nil
}

// HostCall is the state of one host import invocation. It is only usable
// until the callback returns.
type HostCall struct {
	c       *Context
	sig     *Signature
	caller  runtime.Caller
	args    []runtime.Value
	results []runtime.Value
	expired bool
}

func (h *HostCall) expire() {
	h.expired = true
	h.args = nil
	h.results = nil
	h.caller = nil
}

// Context returns the execution context that linked the import.
func (h *HostCall) Context() (*Context, error) {
	if h.expired {
		return nil, ErrHostCallExpired
	}
	return h.c, nil
}

// Env returns the value attached to the context with WithEnv.
func (h *HostCall) Env() any {
	if h.expired {
		return nil
	}
	return h.c.env
}

// Signature returns the import being called.
func (h *HostCall) Signature() *Signature { return h.sig }

// Args returns the guest's arguments.
func (h *HostCall) Args() []runtime.Value { return h.args }

// Arg returns argument i, or a zero value when out of range.
func (h *HostCall) Arg(i int) runtime.Value {
	if i < 0 || i >= len(h.args) {
		return runtime.Value{}
	}
	return h.args[i]
}

// Results returns the result slots, pre-filled with zero values.
func (h *HostCall) Results() []runtime.Value { return h.results }

// SetResult stores v as result i. v must have the declared kind.
func (h *HostCall) SetResult(i int, v runtime.Value) error {
	if h.expired {
		return ErrHostCallExpired
	}
	if i < 0 || i >= len(h.results) {
		return fmt.Errorf("wasmhost: result %d of %d: %w", i, len(h.results), ErrIndexOutOfRange)
	}
	if want := h.sig.results[i]; v.Kind() != want {
		return fmt.Errorf("wasmhost: result %d: want %s, have %s: %w", i, want, v.Kind(), ErrKindMismatch)
	}
	h.results[i] = v
	return nil
}

// Memory returns the calling guest's exported memory, or nil.
func (h *HostCall) Memory() runtime.Memory {
	if h.expired || h.caller == nil {
		return nil
	}
	ext := h.caller.Export(guestExportMemory)
	if ext == nil || ext.Kind() != runtime.ExternMemory {
		return nil
	}
	return ext.Memory()
}

// ReadString reads a NUL-terminated string of at most maxLen bytes from the
// calling guest's memory.
func (h *HostCall) ReadString(ptr, maxLen uint32) string {
	return readString(h.Memory(), ptr, maxLen)
}
