package wasmhost

import (
	"context"
	"fmt"

	"github.com/otelwasm/wasmhost/runtime"
)

// Module is a compiled module together with its export index. Instances
// created from it share the index.
type Module struct {
	engine   *Engine
	compiled runtime.CompiledModule
	types    []runtime.ExportType
	index    ExportIndex
	kind     ModuleKind
}

// Engine returns the engine that compiled m.
func (m *Module) Engine() *Engine { return m.engine }

// Compiled returns the runtime's compiled module.
func (m *Module) Compiled() runtime.CompiledModule { return m.compiled }

// ExportIndex returns the module's export index.
func (m *Module) ExportIndex() ExportIndex { return m.index }

// Kind reports whether m is a command or a reactor.
func (m *Module) Kind() ModuleKind { return m.kind }

// Exports returns the module's exports in declaration order.
func (m *Module) Exports() []runtime.ExportType { return m.types }

// ExportType returns the export named name.
func (m *Module) ExportType(name string) (runtime.ExportType, bool) {
	i, ok := m.index.Lookup(name)
	if !ok {
		return runtime.ExportType{}, false
	}
	return m.types[i], true
}

// ExportSignature returns a signature for calling the exported function
// name, with param and result kinds taken from the module.
func (m *Module) ExportSignature(name string) (*Signature, error) {
	et, ok := m.ExportType(name)
	if !ok {
		return nil, fmt.Errorf("wasmhost: %s: %w", name, ErrExportNotFound)
	}
	if et.Kind != runtime.ExternFunc {
		return nil, fmt.Errorf("wasmhost: %s is a %s: %w", name, et.Kind, ErrNotAFunction)
	}
	return NewSignature("", name, et.Params, et.Results, nil), nil
}

// Close releases the compiled module.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// ExportIndex maps export names to their zero-based position in the
// module's export list. It is built once per module and read-only after.
type ExportIndex struct {
	names   []string
	indices map[string]int
}

// BuildExportIndex indexes the exports of compiled in declaration order.
// A repeated name keeps its first position.
func BuildExportIndex(compiled runtime.CompiledModule) ExportIndex {
	exports := compiled.Exports()
	idx := ExportIndex{
		names:   make([]string, len(exports)),
		indices: make(map[string]int, len(exports)),
	}
	for i, e := range exports {
		idx.names[i] = e.Name
		if _, ok := idx.indices[e.Name]; !ok {
			idx.indices[e.Name] = i
		}
	}
	return idx
}

// Lookup returns the position of name.
func (x ExportIndex) Lookup(name string) (int, bool) {
	i, ok := x.indices[name]
	return i, ok
}

// Names returns the export names in declaration order.
func (x ExportIndex) Names() []string {
	return append([]string(nil), x.names...)
}

// Len returns the number of exports.
func (x ExportIndex) Len() int {
	return len(x.names)
}
