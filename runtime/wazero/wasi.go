package wazero

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stealthrocket/wasi-go"
	wasigo "github.com/stealthrocket/wasi-go/imports"
	"github.com/stealthrocket/wasi-go/imports/wasi_snapshot_preview1"
	"github.com/stealthrocket/wazergo"

	"github.com/otelwasm/wasmhost/runtime"
)

// wazeroWasiConfig implements runtime.WasiConfig for Wazero
type wazeroWasiConfig struct {
	args []string
	env  []string
	dirs []string
}

func (c *wazeroWasiConfig) SetArgs(args ...string) { c.args = append([]string(nil), args...) }

func (c *wazeroWasiConfig) SetEnv(env ...string) { c.env = append([]string(nil), env...) }

// PreopenDir preopens hostPath. wasi-go exposes a preopened directory under
// its host path, so guestPath must be empty or name the same directory.
func (c *wazeroWasiConfig) PreopenDir(hostPath, guestPath string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return fmt.Errorf("wazero: preopen %q: %w", hostPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("wazero: preopen %q: not a directory: %w", hostPath, runtime.ErrWasiFailed)
	}
	if guestPath != "" && filepath.Clean(guestPath) != filepath.Clean(hostPath) {
		return fmt.Errorf("wazero: preopen %q as %q: guest path must match host path: %w", hostPath, guestPath, runtime.ErrInvalidConfiguration)
	}
	c.dirs = append(c.dirs, hostPath)
	return nil
}

func (c *wazeroWasiConfig) Delete() {
	c.args, c.env, c.dirs = nil, nil, nil
}

// wazeroWasiInstance implements runtime.WasiInstance for Wazero
type wazeroWasiInstance struct {
	store            *wazeroStore
	sys              wasi.System
	wasiP1HostModule *wasi_snapshot_preview1.Module
}

// NewWasiInstance instantiates the WASI host module in the store's runtime.
func (s *wazeroStore) NewWasiInstance(ctx context.Context, cfg runtime.WasiConfig) (runtime.WasiInstance, error) {
	c, ok := cfg.(*wazeroWasiConfig)
	if !ok {
		return nil, fmt.Errorf("invalid wasi config type for wazero runtime: %w", runtime.ErrInvalidConfiguration)
	}
	if s.wasi != nil {
		return nil, fmt.Errorf("wazero: store already has a wasi instance: %w", runtime.ErrWasiFailed)
	}

	ctx, sys, err := wasigo.NewBuilder().
		WithArgs(c.args...).
		WithEnv(c.env...).
		WithDirs(c.dirs...).
		Instantiate(ctx, s.runtime)
	if err != nil {
		return nil, fmt.Errorf("wasi instantiation failed: %v: %w", err, runtime.ErrWasiFailed)
	}

	// Extract the wasi host module instance from the context as a workaround
	// to avoid panic when calling wasi functions with different context than the one used to instantiate the host module.
	wasiP1HostModule, ok := moduleInstanceFor[*wasi_snapshot_preview1.Module](ctx)
	if !ok {
		sys.Close(ctx)
		return nil, fmt.Errorf("failed to retrieve wasi host module instance: %w", runtime.ErrWasiFailed)
	}

	s.wasi = &wazeroWasiInstance{
		store:            s,
		sys:              sys,
		wasiP1HostModule: wasiP1HostModule,
	}
	return s.wasi, nil
}

// Close releases the WASI system
func (w *wazeroWasiInstance) Close(ctx context.Context) error {
	if w.store.wasi == w {
		w.store.wasi = nil
	}
	return w.sys.Close(ctx)
}

// withRuntimeContext returns a context configured for calling into a guest
// that imports WASI.
func (w *wazeroWasiInstance) withRuntimeContext(ctx context.Context) context.Context {
	if w == nil {
		return ctx
	}
	return withModuleInstance(ctx, w.wasiP1HostModule)
}

// moduleInstanceFor returns the module instance from the context that contains the internal
// state required for WASI host functions.
// NOTE: wasi-go returns context containing internal state when initializing the host module,
// and the same context is required when calling wasi functions exposed by wasi-go.
func moduleInstanceFor[T wazergo.Module](ctx context.Context) (res T, ok bool) {
	res, ok = ctx.Value((*wazergo.ModuleInstance[T])(nil)).(T)
	return
}

// withModuleInstance returns a Go context inheriting from ctx and containing the
// state needed for module instantiated from wazero host module to properly bind
// their methods to their receiver (e.g. the module instance).
func withModuleInstance[T wazergo.Module](ctx context.Context, instance T) context.Context {
	return context.WithValue(ctx, (*wazergo.ModuleInstance[T])(nil), instance)
}
