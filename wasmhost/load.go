package wasmhost

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
)

// Host bundles an engine, the module it compiled and one execution context
// over that module.
type Host struct {
	Engine  *Engine
	Module  *Module
	Context *Context
}

// Load reads the module at cfg.Path and instantiates it with the built-in
// imports followed by imports. Reactor modules are initialized.
func Load(ctx context.Context, cfg Config, imports []*Signature, opts ...Option) (*Host, error) {
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, errors.New("wasmhost: module path is required")
	}

	binary, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: error reading module: %w", err)
	}

	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	h := &Host{Engine: engine}

	h.Module, err = engine.Compile(ctx, binary)
	if err != nil {
		return nil, multierr.Append(err, h.Close(ctx))
	}

	all := append(BuiltinImports(), imports...)
	h.Context, err = NewContext(ctx, engine, h.Module, cfg.Workspace, all, opts...)
	if err != nil {
		return nil, multierr.Append(err, h.Close(ctx))
	}
	if err := h.Context.Initialize(ctx); err != nil {
		return nil, multierr.Append(err, h.Close(ctx))
	}
	return h, nil
}

// Close closes the context, the module and the engine.
func (h *Host) Close(ctx context.Context) error {
	var err error
	if h.Context != nil {
		err = multierr.Append(err, h.Context.Close(ctx))
	}
	if h.Module != nil {
		err = multierr.Append(err, h.Module.Close(ctx))
	}
	if h.Engine != nil {
		err = multierr.Append(err, h.Engine.Close(ctx))
	}
	return err
}

// Run calls the module's entry point: _start for commands. Reactors have
// no entry point and Run returns nil.
func (h *Host) Run(ctx context.Context) error {
	if h.Module.Kind() != ModuleCommand {
		return nil
	}
	_, err := h.Context.Call(ctx, commandStartExport)
	return err
}
