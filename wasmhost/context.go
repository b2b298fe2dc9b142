package wasmhost

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/otelwasm/wasmhost/handle"
	"github.com/otelwasm/wasmhost/runtime"
)

// Context is one instantiation of a module: a store with its WASI instance,
// a linker holding the host imports, and the module instance. It is not safe
// for concurrent use; create one Context per goroutine.
//
// A Context is valid only if every construction stage succeeded and it has
// not been closed. Validity never comes back.
type Context struct {
	engine *Engine
	module *Module
	env    any
	logger *zap.Logger

	workspace      string
	guestWorkspace string
	args           []string
	environ        []string
	overrides      map[*Signature]HostFunc

	store    *handle.Handle[runtime.Store]
	wasi     *handle.Handle[runtime.WasiInstance]
	linker   *handle.Handle[runtime.Linker]
	instance *handle.Handle[runtime.ModuleInstance]

	err         error
	closed      bool
	depth       int
	initialized bool

	closeCtx context.Context
	closeErr error
}

// Option configures a Context.
type Option func(*Context)

// WithEnv attaches an opaque value that host callbacks reach through
// HostCall.Env.
func WithEnv(env any) Option {
	return func(c *Context) { c.env = env }
}

// WithGuestWorkspace sets the path under which the guest sees the workspace.
func WithGuestWorkspace(path string) Option {
	return func(c *Context) { c.guestWorkspace = path }
}

// WithArgs sets the guest's command line arguments.
func WithArgs(args ...string) Option {
	return func(c *Context) { c.args = append([]string(nil), args...) }
}

// WithEnviron sets the guest's environment as KEY=value pairs.
func WithEnviron(environ ...string) Option {
	return func(c *Context) { c.environ = append([]string(nil), environ...) }
}

// WithOverride links sig with fn instead of its default callback.
func WithOverride(sig *Signature, fn HostFunc) Option {
	return func(c *Context) { c.overrides[sig] = fn }
}

// WithLogger sets the logger used for guest log messages.
func WithLogger(l *zap.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewContext instantiates module in a fresh store, pre-opening workspace for
// the guest and linking imports as host functions.
//
// Construction runs in stages (WASI configuration, store, WASI instance,
// linker, imports, instantiation); each runs only if the previous one
// succeeded. On failure everything built so far is released and the
// returned error is a *StageError. The returned Context is never nil, and
// err is non-nil exactly when the Context is not valid.
func NewContext(ctx context.Context, engine *Engine, module *Module, workspace string, imports []*Signature, opts ...Option) (*Context, error) {
	c := &Context{
		engine:    engine,
		module:    module,
		workspace: workspace,
		logger:    Logger(),
		overrides: make(map[*Signature]HostFunc),
	}
	if engine == nil || module == nil {
		c.err = fmt.Errorf("wasmhost: new context without engine or module: %w", ErrInvalidContext)
		c.closed = true
		return c, c.err
	}
	if module.engine != engine {
		c.err = fmt.Errorf("wasmhost: new context: %w: %w", errEngineMismatch, ErrInvalidContext)
		c.closed = true
		return c, c.err
	}

	cfg := engine.cfg
	c.guestWorkspace = cfg.GuestWorkspace
	c.args = cfg.Wasi.Args
	c.environ = cfg.Wasi.Environ()
	for _, opt := range opts {
		opt(c)
	}
	rt := engine.rt

	// WASI configuration. It is handed over to the store on success.
	wasiConfig, err := rt.NewWasiConfig()
	if err != nil {
		return c.fail(ctx, StageWasiConfig, fmt.Errorf("%w: %w", ErrAllocation, err))
	}
	configHandle := handle.Acquire(wasiConfig, func(cfg runtime.WasiConfig) { cfg.Delete() })
	defer configHandle.Close()

	if len(c.args) > 0 {
		wasiConfig.SetArgs(c.args...)
	}
	if len(c.environ) > 0 {
		wasiConfig.SetEnv(c.environ...)
	}
	if err := wasiConfig.PreopenDir(workspace, c.GuestWorkspace()); err != nil {
		return c.fail(ctx, StageWasiConfig, err)
	}

	store, err := rt.NewStore(ctx)
	if err != nil {
		return c.fail(ctx, StageStore, err)
	}
	c.store = handle.Acquire(store, closeFunc[runtime.Store](c, "store"))

	wasi, err := store.NewWasiInstance(ctx, wasiConfig)
	if err != nil {
		return c.fail(ctx, StageWasiInstance, err)
	}
	configHandle.Release()
	c.wasi = handle.Acquire(wasi, closeFunc[runtime.WasiInstance](c, "wasi_instance"))

	linker, err := store.NewLinker(ctx)
	if err != nil {
		return c.fail(ctx, StageLinker, err)
	}
	c.linker = handle.Acquire(linker, closeFunc[runtime.Linker](c, "linker"))
	if err := linker.DefineWasi(ctx, wasi); err != nil {
		return c.fail(ctx, StageLinker, err)
	}

	for _, sig := range imports {
		if err := sig.LinkAsHostImport(ctx, c, c.overrides[sig]); err != nil {
			return c.fail(ctx, StageImports, err)
		}
	}

	instance, err := linker.Instantiate(ctx, module.compiled)
	if err != nil {
		return c.fail(ctx, StageInstantiate, err)
	}
	c.instance = handle.Acquire(instance, closeFunc[runtime.ModuleInstance](c, "instance"))

	Logger().Debug("execution context ready",
		zap.String("workspace", workspace),
		zap.Int("imports", len(imports)),
		zap.Int("exports", module.index.Len()))
	return c, nil
}

// fail records the failing stage, logs it and releases what was built.
func (c *Context) fail(ctx context.Context, stage Stage, err error) (*Context, error) {
	c.err = &StageError{Stage: stage, Err: err}
	Logger().Warn("execution context setup failed",
		zap.String("stage", string(stage)),
		zap.String("workspace", c.workspace),
		zap.Error(err))
	_ = c.release(ctx)
	return c, c.err
}

type closer interface {
	Close(context.Context) error
}

// closeFunc returns a release function closing v with the context passed to
// Close, recording any error.
func closeFunc[T closer](c *Context, op string) func(T) {
	return func(v T) {
		ctx := c.closeCtx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := v.Close(ctx); err != nil {
			c.closeErr = multierr.Append(c.closeErr, reportError("close_"+op, err))
		}
	}
}

// release closes the runtime objects in reverse dependency order.
func (c *Context) release(ctx context.Context) error {
	c.closed = true
	c.closeCtx = ctx
	c.closeErr = nil
	c.instance.Close()
	c.linker.Close()
	c.wasi.Close()
	c.store.Close()
	c.closeCtx = nil
	return c.closeErr
}

// Close releases the module instance, linker, WASI instance and store, in
// that order. It is safe to call more than once.
func (c *Context) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.release(ctx)
}

// Valid reports whether every construction stage succeeded and the context
// is still open.
func (c *Context) Valid() bool {
	return c != nil && c.err == nil && !c.closed && c.instance.Valid()
}

// Err returns the construction failure, or nil.
func (c *Context) Err() error {
	if c == nil {
		return ErrInvalidContext
	}
	return c.err
}

// Engine returns the engine the context was created from.
func (c *Context) Engine() *Engine { return c.engine }

// Module returns the module the context instantiates.
func (c *Context) Module() *Module { return c.module }

// Env returns the value attached with WithEnv.
func (c *Context) Env() any { return c.env }

// Logger returns the logger used for guest log messages.
func (c *Context) Logger() *zap.Logger { return c.logger }

// Workspace returns the host path of the pre-opened workspace.
func (c *Context) Workspace() string { return c.workspace }

// GuestWorkspace returns the path under which the guest sees the workspace.
func (c *Context) GuestWorkspace() string {
	if c.guestWorkspace == "" {
		return c.workspace
	}
	return c.guestWorkspace
}

// Instance returns the module instance, or nil when the context is not valid.
func (c *Context) Instance() runtime.ModuleInstance {
	if !c.Valid() {
		return nil
	}
	return c.instance.Get()
}

// Exports returns the instance's exports in declaration order. The slice is
// owned by the instance.
func (c *Context) Exports() []runtime.Extern {
	inst := c.Instance()
	if inst == nil {
		return nil
	}
	return inst.Exports()
}

// Export returns the export named name, located through the module's export
// index.
func (c *Context) Export(name string) (runtime.Extern, bool) {
	i, ok := c.module.index.Lookup(name)
	if !ok {
		return nil, false
	}
	ext, ok := handle.BorrowVec(c.Exports()).At(i)
	return ext, ok
}

// Memory returns the guest's exported "memory", or nil.
func (c *Context) Memory() runtime.Memory {
	ext, ok := c.Export(guestExportMemory)
	if !ok || ext.Kind() != runtime.ExternMemory {
		return nil
	}
	return ext.Memory()
}

// Initialize runs _initialize once for reactor modules. It does nothing for
// other modules.
func (c *Context) Initialize(ctx context.Context) error {
	if !c.Valid() {
		return ErrInvalidContext
	}
	if c.initialized || c.module.kind != ModuleReactor {
		return nil
	}
	if _, err := NewSignature("", reactorInitExport, nil, nil, nil).Call(ctx, c); err != nil {
		return fmt.Errorf("wasmhost: initialize reactor: %w", err)
	}
	c.initialized = true
	return nil
}

// Call calls the exported function name with param and result kinds taken
// from the module.
func (c *Context) Call(ctx context.Context, name string, args ...runtime.Value) ([]runtime.Value, error) {
	if !c.Valid() {
		return nil, ErrInvalidContext
	}
	sig, err := c.module.ExportSignature(name)
	if err != nil {
		return nil, err
	}
	return sig.Call(ctx, c, args...)
}
