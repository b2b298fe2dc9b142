package runtimetest

import (
	"context"
	"fmt"

	"github.com/otelwasm/wasmhost/runtime"
)

const pageSize = 65536

// Func implements a function export of a stub module. inst gives access to
// the instance's imports and memory.
type Func func(ctx context.Context, inst *Instance, args, results []runtime.Value) error

// Export declares one export of a stub module.
type Export struct {
	runtime.ExportType
	// Func implements a function export. Nil functions return zero results.
	Func Func
	// Data is copied to the start of a memory export, which is one page
	// unless Data is larger.
	Data []byte
}

// FuncExport declares a function export.
func FuncExport(name string, params, results []runtime.ValueKind, fn Func) Export {
	return Export{
		ExportType: runtime.ExportType{Name: name, Kind: runtime.ExternFunc, Params: params, Results: results},
		Func:       fn,
	}
}

// MemoryExport declares a memory export whose initial content is data.
func MemoryExport(name string, data []byte) Export {
	return Export{ExportType: runtime.ExportType{Name: name, Kind: runtime.ExternMemory}, Data: data}
}

// GlobalExport declares a global export.
func GlobalExport(name string) Export {
	return Export{ExportType: runtime.ExportType{Name: name, Kind: runtime.ExternGlobal}}
}

// Import names a function the module imports.
type Import struct {
	Module, Name string
}

// Module is a stub compiled module.
type Module struct {
	rt      *Runtime
	exports []Export
	imports []Import
}

var _ runtime.CompiledModule = (*Module)(nil)

// Import declares that instantiation requires module.name to be defined.
func (m *Module) Import(module, name string) *Module {
	m.imports = append(m.imports, Import{Module: module, Name: name})
	return m
}

func (m *Module) Exports() []runtime.ExportType {
	types := make([]runtime.ExportType, len(m.exports))
	for i, e := range m.exports {
		types[i] = e.ExportType
	}
	return types
}

func (m *Module) Close(context.Context) error {
	return m.rt.record(OpCloseModule)
}

// Instance is a stub module instance.
type Instance struct {
	rt      *Runtime
	externs []runtime.Extern
	byName  map[string]runtime.Extern
	funcs   map[string]hostFunc
	closed  bool
}

var _ runtime.ModuleInstance = (*Instance)(nil)

func newInstance(rt *Runtime, m *Module, funcs map[string]hostFunc) *Instance {
	inst := &Instance{
		rt:     rt,
		byName: make(map[string]runtime.Extern, len(m.exports)),
		funcs:  funcs,
	}
	for _, e := range m.exports {
		var ext runtime.Extern
		switch e.Kind {
		case runtime.ExternFunc:
			ext = &funcExtern{inst: inst, def: e}
		case runtime.ExternMemory:
			size := pageSize
			for size < len(e.Data) {
				size += pageSize
			}
			mem := &Memory{data: make([]byte, size)}
			copy(mem.data, e.Data)
			ext = &memoryExtern{mem: mem}
		default:
			ext = otherExtern{kind: e.Kind}
		}
		inst.externs = append(inst.externs, ext)
		inst.byName[e.Name] = ext
	}
	return inst
}

func (i *Instance) Exports() []runtime.Extern {
	return i.externs
}

// Export implements runtime.Caller.
func (i *Instance) Export(name string) runtime.Extern {
	return i.byName[name]
}

// Memory returns the memory exported as name, or nil.
func (i *Instance) Memory(name string) *Memory {
	if m, ok := i.byName[name].(*memoryExtern); ok {
		return m.mem
	}
	return nil
}

// CallImport calls the host function defined as module.name, the way a
// guest call instruction would.
func (i *Instance) CallImport(ctx context.Context, module, name string, args ...runtime.Value) ([]runtime.Value, error) {
	hf, ok := i.funcs[importKey(module, name)]
	if !ok {
		return nil, fmt.Errorf("runtimetest: import %s.%s not defined", module, name)
	}
	if len(args) != len(hf.params) {
		return nil, fmt.Errorf("runtimetest: %s.%s expects %d params, got %d", module, name, len(hf.params), len(args))
	}
	results := runtime.ZeroValues(hf.results)
	if err := hf.fn(ctx, i, args, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (i *Instance) Close(context.Context) error {
	i.closed = true
	return i.rt.record(OpCloseInstance)
}

type funcExtern struct {
	inst *Instance
	def  Export
}

func (f *funcExtern) Kind() runtime.ExternKind       { return runtime.ExternFunc }
func (f *funcExtern) Func() runtime.FunctionInstance { return f }
func (f *funcExtern) Memory() runtime.Memory         { return nil }

func (f *funcExtern) Call(ctx context.Context, args, results []runtime.Value) error {
	if err := f.inst.rt.record(OpCall); err != nil {
		return err
	}
	if f.inst.closed {
		return fmt.Errorf("runtimetest: call %s: %w", f.def.Name, runtime.ErrClosed)
	}
	if len(args) != len(f.def.Params) {
		return fmt.Errorf("runtimetest: %s expects %d params, got %d", f.def.Name, len(f.def.Params), len(args))
	}
	if len(results) != len(f.def.Results) {
		return fmt.Errorf("runtimetest: %s returns %d results, buffer holds %d: %w", f.def.Name, len(f.def.Results), len(results), runtime.ErrResultCount)
	}
	out := runtime.ZeroValues(f.def.Results)
	if f.def.Func != nil {
		if err := f.def.Func(ctx, f.inst, args, out); err != nil {
			return runtime.NewTrap(err)
		}
	}
	copy(results, out)
	return nil
}

type memoryExtern struct {
	mem *Memory
}

func (m *memoryExtern) Kind() runtime.ExternKind       { return runtime.ExternMemory }
func (m *memoryExtern) Func() runtime.FunctionInstance { return nil }
func (m *memoryExtern) Memory() runtime.Memory         { return m.mem }

type otherExtern struct {
	kind runtime.ExternKind
}

func (o otherExtern) Kind() runtime.ExternKind       { return o.kind }
func (o otherExtern) Func() runtime.FunctionInstance { return nil }
func (o otherExtern) Memory() runtime.Memory         { return nil }

// Memory is a byte-slice linear memory.
type Memory struct {
	data []byte
}

func (m *Memory) Size() uint32 { return uint32(len(m.data)) }

func (m *Memory) Read(offset, size uint32) ([]byte, bool) {
	if uint64(offset)+uint64(size) > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset : offset+size : offset+size], true
}

func (m *Memory) Write(offset uint32, data []byte) bool {
	if uint64(offset)+uint64(len(data)) > uint64(len(m.data)) {
		return false
	}
	copy(m.data[offset:], data)
	return true
}
