package wasmhost

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelwasm/wasmhost/runtime"
	"github.com/otelwasm/wasmhost/runtime/runtimetest"
)

var (
	i32  = runtime.ValueKindI32
	i64  = runtime.ValueKindI64
	ref  = runtime.ValueKindRef
	none []runtime.ValueKind
)

var testBinary = []byte("test module")

// newTestModule compiles a stub module exporting memory, run and alloc, in
// that order.
func newTestModule(t *testing.T, cfg Config, extra ...runtimetest.Export) (*runtimetest.Runtime, *Engine, *Module) {
	t.Helper()
	rt := runtimetest.New()
	exports := []runtimetest.Export{
		runtimetest.MemoryExport("memory", []byte("hi\x00world")),
		runtimetest.FuncExport("run", []runtime.ValueKind{i32}, []runtime.ValueKind{i32},
			func(_ context.Context, _ *runtimetest.Instance, args, results []runtime.Value) error {
				results[0] = runtime.ValueI32(args[0].I32() + 1)
				return nil
			}),
		runtimetest.FuncExport("alloc", []runtime.ValueKind{i32}, []runtime.ValueKind{i32}, nil),
	}
	rt.Define(testBinary, append(exports, extra...)...)

	engine := NewEngineWithRuntime(rt, cfg)
	m, err := engine.Compile(context.Background(), testBinary)
	require.NoError(t, err)
	return rt, engine, m
}

func newTestContext(t *testing.T, engine *Engine, m *Module, imports []*Signature, opts ...Option) *Context {
	t.Helper()
	c, err := NewContext(context.Background(), engine, m, t.TempDir(), imports, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestExportIndex(t *testing.T) {
	_, _, m := newTestModule(t, Config{}, runtimetest.GlobalExport("run"))

	idx := m.ExportIndex()
	for name, want := range map[string]int{"memory": 0, "run": 1, "alloc": 2} {
		got, ok := idx.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := idx.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, []string{"memory", "run", "alloc", "run"}, idx.Names())
	assert.Equal(t, ModuleUnknown, m.Kind())
}

func TestNewContext(t *testing.T) {
	rt, engine, m := newTestModule(t, Config{}, runtimetest.GlobalExport("counter"))
	c := newTestContext(t, engine, m, nil, WithArgs("guest", "-v"), WithEnviron("A=1"))

	require.True(t, c.Valid())
	require.NoError(t, c.Err())
	assert.Len(t, c.Exports(), 4)
	assert.NotNil(t, c.Memory())
	assert.Equal(t, 0, rt.Calls(runtimetest.OpDeleteWasiConfig))

	wasi := c.wasi.Get().(*runtimetest.WasiInstance)
	assert.Equal(t, []string{"guest", "-v"}, wasi.Config.Args)
	assert.Equal(t, []string{"A=1"}, wasi.Config.Env)
	assert.Equal(t, map[string]string{c.Workspace(): c.Workspace()}, wasi.Config.Preopens)
}

func TestNewContextGuestWorkspace(t *testing.T) {
	_, engine, m := newTestModule(t, Config{GuestWorkspace: "/work"})
	c := newTestContext(t, engine, m, nil)
	assert.Equal(t, "/work", c.GuestWorkspace())

	wasi := c.wasi.Get().(*runtimetest.WasiInstance)
	assert.Equal(t, c.Workspace(), wasi.Config.Preopens["/work"])

	c = newTestContext(t, engine, m, nil, WithGuestWorkspace("/other"))
	assert.Equal(t, "/other", c.GuestWorkspace())
}

func TestNewContextStageFailure(t *testing.T) {
	errInjected := errors.New("injected")
	tests := []struct {
		name      string
		failOn    string
		wantStage Stage
		// released maps a release operation to its expected call count.
		released map[string]int
		// notCalled lists operations that must not run after the failure.
		notCalled []string
	}{
		{
			name:      "wasi config",
			failOn:    runtimetest.OpNewWasiConfig,
			wantStage: StageWasiConfig,
			notCalled: []string{runtimetest.OpNewStore, runtimetest.OpNewLinker, runtimetest.OpInstantiate},
		},
		{
			name:      "preopen",
			failOn:    runtimetest.OpPreopenDir,
			wantStage: StageWasiConfig,
			released:  map[string]int{runtimetest.OpDeleteWasiConfig: 1},
			notCalled: []string{runtimetest.OpNewStore, runtimetest.OpNewLinker, runtimetest.OpInstantiate},
		},
		{
			name:      "store",
			failOn:    runtimetest.OpNewStore,
			wantStage: StageStore,
			released:  map[string]int{runtimetest.OpDeleteWasiConfig: 1},
			notCalled: []string{runtimetest.OpNewWasiInstance, runtimetest.OpNewLinker},
		},
		{
			name:      "wasi instance",
			failOn:    runtimetest.OpNewWasiInstance,
			wantStage: StageWasiInstance,
			released:  map[string]int{runtimetest.OpDeleteWasiConfig: 1, runtimetest.OpCloseStore: 1},
			notCalled: []string{runtimetest.OpNewLinker},
		},
		{
			name:      "linker",
			failOn:    runtimetest.OpNewLinker,
			wantStage: StageLinker,
			released:  map[string]int{runtimetest.OpCloseWasiInstance: 1, runtimetest.OpCloseStore: 1},
			notCalled: []string{runtimetest.OpDefineWasi, runtimetest.OpInstantiate},
		},
		{
			name:      "define wasi",
			failOn:    runtimetest.OpDefineWasi,
			wantStage: StageLinker,
			released:  map[string]int{runtimetest.OpCloseLinker: 1, runtimetest.OpCloseWasiInstance: 1, runtimetest.OpCloseStore: 1},
			notCalled: []string{runtimetest.OpDefineFunc, runtimetest.OpInstantiate},
		},
		{
			name:      "imports",
			failOn:    runtimetest.OpDefineFunc,
			wantStage: StageImports,
			released:  map[string]int{runtimetest.OpCloseLinker: 1, runtimetest.OpCloseWasiInstance: 1, runtimetest.OpCloseStore: 1},
			notCalled: []string{runtimetest.OpInstantiate},
		},
		{
			name:      "instantiate",
			failOn:    runtimetest.OpInstantiate,
			wantStage: StageInstantiate,
			released:  map[string]int{runtimetest.OpCloseLinker: 1, runtimetest.OpCloseWasiInstance: 1, runtimetest.OpCloseStore: 1},
			notCalled: []string{runtimetest.OpCloseInstance},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, engine, m := newTestModule(t, Config{})
			rt.FailOn(tt.failOn, errInjected)
			rt.Reset()

			c, err := NewContext(context.Background(), engine, m, t.TempDir(), BuiltinImports())
			require.Error(t, err)
			require.NotNil(t, c)
			assert.False(t, c.Valid())
			assert.Equal(t, err, c.Err())
			assert.ErrorIs(t, err, errInjected)
			if tt.failOn == runtimetest.OpNewWasiConfig {
				assert.ErrorIs(t, err, ErrAllocation)
			}

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tt.wantStage, stageErr.Stage)

			for op, n := range tt.released {
				assert.Equal(t, n, rt.Calls(op), op)
			}
			for _, op := range tt.notCalled {
				assert.Zero(t, rt.Calls(op), op)
			}

			// Closing a failed context releases nothing twice.
			require.NoError(t, c.Close(context.Background()))
			for op, n := range tt.released {
				assert.Equal(t, n, rt.Calls(op), op)
			}
		})
	}
}

func TestNewContextMissingWorkspace(t *testing.T) {
	rt, engine, m := newTestModule(t, Config{})
	rt.Reset()

	missing := filepath.Join(t.TempDir(), "missing")
	c, err := NewContext(context.Background(), engine, m, missing, nil)
	require.Error(t, err)
	assert.False(t, c.Valid())

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageWasiConfig, stageErr.Stage)
	assert.Zero(t, rt.Calls(runtimetest.OpNewStore))
	assert.Zero(t, rt.Calls(runtimetest.OpNewLinker))
	assert.Zero(t, rt.Calls(runtimetest.OpInstantiate))
}

func TestNewContextInvalidArguments(t *testing.T) {
	_, engine, m := newTestModule(t, Config{})
	_, other, _ := newTestModule(t, Config{})

	c, err := NewContext(context.Background(), nil, m, t.TempDir(), nil)
	require.ErrorIs(t, err, ErrInvalidContext)
	require.NotNil(t, c)
	assert.False(t, c.Valid())

	c, err = NewContext(context.Background(), engine, nil, t.TempDir(), nil)
	require.ErrorIs(t, err, ErrInvalidContext)
	assert.False(t, c.Valid())

	c, err = NewContext(context.Background(), other, m, t.TempDir(), nil)
	require.ErrorIs(t, err, ErrInvalidContext)
	assert.False(t, c.Valid())
}

func TestContextClose(t *testing.T) {
	rt, engine, m := newTestModule(t, Config{})
	c, err := NewContext(context.Background(), engine, m, t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	assert.False(t, c.Valid())
	for _, op := range []string{runtimetest.OpCloseInstance, runtimetest.OpCloseLinker, runtimetest.OpCloseWasiInstance, runtimetest.OpCloseStore} {
		assert.Equal(t, 1, rt.Calls(op), op)
	}

	require.NoError(t, c.Close(context.Background()))
	for _, op := range []string{runtimetest.OpCloseInstance, runtimetest.OpCloseLinker, runtimetest.OpCloseWasiInstance, runtimetest.OpCloseStore} {
		assert.Equal(t, 1, rt.Calls(op), op)
	}

	_, err = c.Call(context.Background(), "run", runtime.ValueI32(1))
	assert.ErrorIs(t, err, ErrInvalidContext)
	assert.Nil(t, c.Exports())
	assert.Nil(t, c.Memory())
}

func TestContextCloseReportsErrors(t *testing.T) {
	errInjected := errors.New("injected")
	rt, engine, m := newTestModule(t, Config{})
	c, err := NewContext(context.Background(), engine, m, t.TempDir(), nil)
	require.NoError(t, err)

	rt.FailOn(runtimetest.OpCloseLinker, errInjected)
	err = c.Close(context.Background())
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 1, rt.Calls(runtimetest.OpCloseStore))
}

func TestContextsAreIndependent(t *testing.T) {
	_, engine, m := newTestModule(t, Config{})
	c1 := newTestContext(t, engine, m, nil)
	c2 := newTestContext(t, engine, m, nil)

	require.True(t, c1.Memory().Write(0, []byte("c1")))
	assert.Equal(t, "c1", ReadGuestString(c1, 0, 8))
	assert.Equal(t, "hi", ReadGuestString(c2, 0, 8))

	require.NoError(t, c1.Close(context.Background()))
	assert.False(t, c1.Valid())
	assert.True(t, c2.Valid())

	res, err := c2.Call(context.Background(), "run", runtime.ValueI32(41))
	require.NoError(t, err)
	assert.Equal(t, int32(42), res[0].I32())
}

func TestReadGuestString(t *testing.T) {
	_, engine, m := newTestModule(t, Config{})
	c := newTestContext(t, engine, m, nil)

	tests := []struct {
		name   string
		ptr    uint32
		maxLen uint32
		want   string
	}{
		{name: "stops at nul", ptr: 0, maxLen: 9, want: "hi"},
		{name: "bounded by max length", ptr: 0, maxLen: 1, want: "h"},
		{name: "after nul", ptr: 3, maxLen: 5, want: "world"},
		{name: "zero length", ptr: 0, maxLen: 0, want: ""},
		{name: "past the end", ptr: 65530, maxLen: 10, want: ""},
		{name: "wraps around", ptr: 0xffffffff, maxLen: 2, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReadGuestString(c, tt.ptr, tt.maxLen))
		})
	}
}

func TestReadGuestStringWithoutMemory(t *testing.T) {
	rt := runtimetest.New()
	rt.Define(testBinary, runtimetest.FuncExport("run", nil, nil, nil))
	engine := NewEngineWithRuntime(rt, Config{})
	m, err := engine.Compile(context.Background(), testBinary)
	require.NoError(t, err)

	c := newTestContext(t, engine, m, nil)
	assert.Nil(t, c.Memory())
	assert.Equal(t, "", ReadGuestString(c, 0, 4))
}

func TestInitializeReactor(t *testing.T) {
	calls := 0
	rt, engine, m := newTestModule(t, Config{}, runtimetest.FuncExport("_initialize", nil, nil,
		func(context.Context, *runtimetest.Instance, []runtime.Value, []runtime.Value) error {
			calls++
			return nil
		}))
	assert.Equal(t, ModuleReactor, m.Kind())

	c := newTestContext(t, engine, m, nil)
	rt.Reset()
	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, rt.Calls(runtimetest.OpCall))
}

func TestInitializeCommandIsNoop(t *testing.T) {
	rt, engine, m := newTestModule(t, Config{}, runtimetest.FuncExport("_start", nil, nil, nil))
	assert.Equal(t, ModuleCommand, m.Kind())

	c := newTestContext(t, engine, m, nil)
	rt.Reset()
	require.NoError(t, c.Initialize(context.Background()))
	assert.Zero(t, rt.Calls(runtimetest.OpCall))
}

func TestEngineReleasesDescriptors(t *testing.T) {
	rt, engine, m := newTestModule(t, Config{})
	c, err := NewContext(context.Background(), engine, m, t.TempDir(), BuiltinImports())
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	created := rt.Calls(runtimetest.OpNewValType)
	assert.Equal(t, 1, created, "one shared descriptor per kind")
	assert.Zero(t, rt.Calls(runtimetest.OpDeleteValType))

	require.NoError(t, engine.Close(context.Background()))
	assert.Equal(t, created, rt.Calls(runtimetest.OpDeleteValType))
	assert.Equal(t, 1, rt.Calls(runtimetest.OpCloseRuntime))

	_, err = engine.TypeDescriptor(i32)
	assert.ErrorIs(t, err, runtime.ErrClosed)
	require.NoError(t, engine.Close(context.Background()))
	assert.Equal(t, 1, rt.Calls(runtimetest.OpCloseRuntime))
}

func TestTypeDescriptorFor(t *testing.T) {
	rt, engine, _ := newTestModule(t, Config{})

	d, err := TypeDescriptorFor[int64](engine)
	require.NoError(t, err)
	assert.Equal(t, i64, d.Get().Kind())
	assert.Equal(t, 2, d.Refs())

	again, err := TypeDescriptorFor[int64](engine)
	require.NoError(t, err)
	assert.Same(t, d, again)
	assert.Equal(t, 1, rt.Calls(runtimetest.OpNewValType))
	d.Drop()
	again.Drop()

	errOOM := errors.New("out of memory")
	rt.FailOn(runtimetest.OpNewValType, errOOM)
	_, err = TypeDescriptorFor[float32](engine)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.ErrorIs(t, err, errOOM)
}
