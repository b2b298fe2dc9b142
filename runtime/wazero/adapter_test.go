package wazero

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelwasm/wasmhost/internal/wasmtest"
	"github.com/otelwasm/wasmhost/runtime"
)

func newTestRuntime(t *testing.T) runtime.Runtime {
	t.Helper()
	rt, err := runtime.NewRuntime(runtime.TypeWazero, runtime.Config{Mode: runtime.ModeInterpreter})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

// testModule exports memory, add(i32,i32)->i32 and twice(i32)->i32, which
// calls the host import env.double.
func testModule() []byte {
	m := wasmtest.New()
	double := m.ImportFunc("env", "double", wasmtest.Types(wasmtest.I32), wasmtest.Types(wasmtest.I32))
	m.Memory(1).ExportMemory("memory")
	add := m.Func(wasmtest.Types(wasmtest.I32, wasmtest.I32), wasmtest.Types(wasmtest.I32),
		wasmtest.Code(wasmtest.LocalGet(0), wasmtest.LocalGet(1), []byte{wasmtest.OpI32Add})...)
	twice := m.Func(wasmtest.Types(wasmtest.I32), wasmtest.Types(wasmtest.I32),
		wasmtest.Code(wasmtest.LocalGet(0), wasmtest.Call(double))...)
	m.ExportFunc("add", add).ExportFunc("twice", twice)
	m.Data(16, []byte("hi\x00world"))
	return m.Bytes()
}

type testInstance struct {
	store    runtime.Store
	wasi     runtime.WasiInstance
	linker   runtime.Linker
	instance runtime.ModuleInstance
}

func instantiate(t *testing.T, rt runtime.Runtime, binary []byte, double runtime.HostFunction) (*testInstance, error) {
	t.Helper()
	ctx := context.Background()

	compiled, err := rt.Compile(ctx, binary)
	require.NoError(t, err)
	t.Cleanup(func() { _ = compiled.Close(ctx) })

	ti := &testInstance{}
	ti.store, err = rt.NewStore(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ti.store.Close(ctx) })

	cfg, err := rt.NewWasiConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.PreopenDir(t.TempDir(), ""))
	ti.wasi, err = ti.store.NewWasiInstance(ctx, cfg)
	require.NoError(t, err)

	ti.linker, err = ti.store.NewLinker(ctx)
	require.NoError(t, err)
	require.NoError(t, ti.linker.DefineWasi(ctx, ti.wasi))

	i32, err := rt.NewValType(runtime.ValueKindI32)
	require.NoError(t, err)
	require.NoError(t, ti.linker.DefineFunc(ctx, "env", "double", []runtime.ValType{i32}, []runtime.ValType{i32}, double))

	ti.instance, err = ti.linker.Instantiate(ctx, compiled)
	return ti, err
}

func doubleFn(_ context.Context, _ runtime.Caller, args, results []runtime.Value) error {
	results[0] = runtime.ValueI32(args[0].I32() * 2)
	return nil
}

func TestCompileExportsInDeclarationOrder(t *testing.T) {
	rt := newTestRuntime(t)

	compiled, err := rt.Compile(context.Background(), testModule())
	require.NoError(t, err)

	assert.Equal(t, []runtime.ExportType{
		{Name: "memory", Kind: runtime.ExternMemory},
		{Name: "add", Kind: runtime.ExternFunc,
			Params:  []runtime.ValueKind{runtime.ValueKindI32, runtime.ValueKindI32},
			Results: []runtime.ValueKind{runtime.ValueKindI32}},
		{Name: "twice", Kind: runtime.ExternFunc,
			Params:  []runtime.ValueKind{runtime.ValueKindI32},
			Results: []runtime.ValueKind{runtime.ValueKindI32}},
	}, compiled.Exports())
}

func TestCompileInvalidBinary(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Compile(context.Background(), []byte("not wasm"))
	assert.ErrorIs(t, err, runtime.ErrModuleCompileFailed)
}

func TestInstantiateAndCall(t *testing.T) {
	rt := newTestRuntime(t)
	ti, err := instantiate(t, rt, testModule(), doubleFn)
	require.NoError(t, err)
	ctx := context.Background()

	exports := ti.instance.Exports()
	require.Len(t, exports, 3)
	assert.Equal(t, runtime.ExternMemory, exports[0].Kind())
	assert.Nil(t, exports[0].Func())
	require.NotNil(t, exports[0].Memory())

	data, ok := exports[0].Memory().Read(16, 8)
	require.True(t, ok)
	assert.Equal(t, []byte("hi\x00world"), data)
	assert.Equal(t, uint32(65536), exports[0].Memory().Size())

	results := make([]runtime.Value, 1)
	require.NoError(t, exports[1].Func().Call(ctx, []runtime.Value{runtime.ValueI32(40), runtime.ValueI32(2)}, results))
	assert.Equal(t, runtime.ValueI32(42), results[0])

	require.NoError(t, exports[2].Func().Call(ctx, []runtime.Value{runtime.ValueI32(-21)}, results))
	assert.Equal(t, runtime.ValueI32(-42), results[0])

	assert.ErrorIs(t, exports[1].Func().Call(ctx, []runtime.Value{runtime.ValueI32(1), runtime.ValueI32(2)}, nil), runtime.ErrResultCount)

	require.NoError(t, ti.instance.Close(ctx))
	require.NoError(t, ti.linker.Close(ctx))
	require.NoError(t, ti.wasi.Close(ctx))
}

func TestHostErrorTrapsGuest(t *testing.T) {
	rt := newTestRuntime(t)
	boom := errors.New("boom")
	ti, err := instantiate(t, rt, testModule(), func(context.Context, runtime.Caller, []runtime.Value, []runtime.Value) error {
		return boom
	})
	require.NoError(t, err)

	err = ti.instance.Exports()[2].Func().Call(context.Background(), []runtime.Value{runtime.ValueI32(1)}, make([]runtime.Value, 1))
	var trap *runtime.Trap
	require.ErrorAs(t, err, &trap)
	assert.Contains(t, trap.Error(), "boom")
}

func TestHostFunctionSeesCallerMemory(t *testing.T) {
	rt := newTestRuntime(t)
	var seen string
	ti, err := instantiate(t, rt, testModule(), func(_ context.Context, caller runtime.Caller, args, results []runtime.Value) error {
		ext := caller.Export("memory")
		require.NotNil(t, ext)
		data, ok := ext.Memory().Read(16, 2)
		require.True(t, ok)
		seen = string(data)
		assert.Nil(t, caller.Export("missing"))
		results[0] = args[0]
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, ti.instance.Exports()[2].Func().Call(context.Background(), []runtime.Value{runtime.ValueI32(7)}, make([]runtime.Value, 1)))
	assert.Equal(t, "hi", seen)
}

func TestInstantiateMissingImport(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	compiled, err := rt.Compile(ctx, testModule())
	require.NoError(t, err)
	store, err := rt.NewStore(ctx)
	require.NoError(t, err)
	defer store.Close(ctx)
	linker, err := store.NewLinker(ctx)
	require.NoError(t, err)

	_, err = linker.Instantiate(ctx, compiled)
	assert.ErrorIs(t, err, runtime.ErrModuleInstantiateFailed)
}

func TestDefineFuncDuplicate(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	store, err := rt.NewStore(ctx)
	require.NoError(t, err)
	defer store.Close(ctx)
	linker, err := store.NewLinker(ctx)
	require.NoError(t, err)

	require.NoError(t, linker.DefineFunc(ctx, "env", "f", nil, nil, doubleFn))
	assert.ErrorIs(t, linker.DefineFunc(ctx, "env", "f", nil, nil, doubleFn), runtime.ErrLinkFailed)
	assert.ErrorIs(t, linker.DefineFunc(ctx, "env", "g", nil, nil, nil), runtime.ErrLinkFailed)
}

func TestPreopenDir(t *testing.T) {
	rt := newTestRuntime(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	tests := []struct {
		name      string
		hostPath  string
		guestPath string
		errIs     error
	}{
		{name: "directory", hostPath: dir},
		{name: "same guest path", hostPath: dir, guestPath: dir + "/"},
		{name: "missing", hostPath: filepath.Join(dir, "missing"), errIs: os.ErrNotExist},
		{name: "file", hostPath: file, errIs: runtime.ErrWasiFailed},
		{name: "remapped guest path", hostPath: dir, guestPath: "/workspace", errIs: runtime.ErrInvalidConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := rt.NewWasiConfig()
			require.NoError(t, err)
			defer cfg.Delete()

			err = cfg.PreopenDir(tt.hostPath, tt.guestPath)
			if tt.errIs == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.errIs)
			}
		})
	}
}

func TestTwoStoresAreIndependent(t *testing.T) {
	rt := newTestRuntime(t)
	a, err := instantiate(t, rt, testModule(), doubleFn)
	require.NoError(t, err)
	b, err := instantiate(t, rt, testModule(), doubleFn)
	require.NoError(t, err)

	memA := a.instance.Exports()[0].Memory()
	memB := b.instance.Exports()[0].Memory()
	require.True(t, memA.Write(16, []byte("yo")))

	got, ok := memB.Read(16, 2)
	require.True(t, ok)
	assert.Equal(t, "hi", string(got))
}

func TestNewRuntimeModes(t *testing.T) {
	for _, mode := range []runtime.Mode{"", runtime.ModeInterpreter, runtime.ModeCompiled} {
		rt, err := runtime.NewRuntime(runtime.TypeWazero, runtime.Config{Mode: mode})
		require.NoError(t, err, "mode %q", mode)
		require.NoError(t, rt.Close(context.Background()))
	}

	_, err := runtime.NewRuntime(runtime.TypeWazero, runtime.Config{Mode: "jit"})
	assert.ErrorIs(t, err, runtime.ErrInvalidConfiguration)
}

func TestNewRuntimeWithCacheDir(t *testing.T) {
	rt, err := runtime.NewRuntime(runtime.TypeWazero, runtime.Config{Mode: runtime.ModeCompiled, CacheDir: t.TempDir()})
	require.NoError(t, err)
	defer rt.Close(context.Background())

	_, err = rt.Compile(context.Background(), testModule())
	require.NoError(t, err)
}

func TestValueRoundTrip(t *testing.T) {
	values := []runtime.Value{
		runtime.ValueI32(-1),
		runtime.ValueI64(-1 << 40),
		runtime.ValueF32(1.5),
		runtime.ValueF64(-2.25),
		runtime.ValueRef(0xdead),
		runtime.NullRef(),
	}
	for _, v := range values {
		assert.Equal(t, v, decodeValue(v.Kind(), encodeValue(v)), v.String())
	}
}
