package wazero

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"

	"github.com/otelwasm/wasmhost/runtime"
)

// newWazeroRuntime creates a new Wazero runtime instance
func newWazeroRuntime(config runtime.Config) (runtime.Runtime, error) {
	// Create wazero runtime config based on mode
	var wrc wazero.RuntimeConfig
	switch config.Mode {
	case runtime.ModeInterpreter, "":
		wrc = wazero.NewRuntimeConfigInterpreter()
	case runtime.ModeCompiled:
		wrc = wazero.NewRuntimeConfigCompiler()
	default:
		return nil, fmt.Errorf("wazero: unknown mode %q: %w", config.Mode, runtime.ErrInvalidConfiguration)
	}

	// Every store gets its own wazero.Runtime; the shared cache keeps
	// recompiling a module per store cheap.
	var cache wazero.CompilationCache
	if config.CacheDir != "" {
		var err error
		if cache, err = wazero.NewCompilationCacheWithDir(config.CacheDir); err != nil {
			return nil, fmt.Errorf("wazero: compilation cache %q: %w", config.CacheDir, err)
		}
	} else {
		cache = wazero.NewCompilationCache()
	}
	wrc = wrc.WithCompilationCache(cache).WithCloseOnContextDone(true)

	return &wazeroRuntime{
		config:   wrc,
		cache:    cache,
		compiler: wazero.NewRuntimeWithConfig(context.Background(), wrc),
	}, nil
}
