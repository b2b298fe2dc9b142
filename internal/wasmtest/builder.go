// Package wasmtest hand-encodes small WebAssembly modules for tests.
package wasmtest

import "fmt"

// Value types.
const (
	I32       byte = 0x7f
	I64       byte = 0x7e
	F32       byte = 0x7d
	F64       byte = 0x7c
	ExternRef byte = 0x6f
)

// Instructions used by test bodies.
const (
	OpUnreachable byte = 0x00
	OpEnd         byte = 0x0b
	OpCall        byte = 0x10
	OpDrop        byte = 0x1a
	OpLocalGet    byte = 0x20
	OpI32Const    byte = 0x41
	OpI32Add      byte = 0x6a
	OpI64Add      byte = 0x7c
	OpF32Add      byte = 0x92
	OpF64Add      byte = 0xa0
)

const (
	sectionType     byte = 0x01
	sectionImport   byte = 0x02
	sectionFunction byte = 0x03
	sectionMemory   byte = 0x05
	sectionExport   byte = 0x07
	sectionCode     byte = 0x0a
	sectionData     byte = 0x0b

	exportKindFunc   byte = 0x00
	exportKindMemory byte = 0x02
)

type funcType struct {
	params, results []byte
}

type importFunc struct {
	module, name string
	typeIndex    uint32
}

type function struct {
	typeIndex uint32
	body      []byte
}

type export struct {
	name  string
	kind  byte
	index uint32
}

type dataSegment struct {
	offset int32
	data   []byte
}

// Module accumulates the sections of a module. Imports must be declared
// before functions since they share the function index space.
type Module struct {
	types     []funcType
	imports   []importFunc
	funcs     []function
	memPages  uint32
	hasMemory bool
	exports   []export
	data      []dataSegment
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []byte) uint32 {
	for i, t := range m.types {
		if string(t.params) == string(params) && string(t.results) == string(results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// ImportFunc declares an imported function and returns its function index.
func (m *Module) ImportFunc(module, name string, params, results []byte) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must be declared before functions")
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typeIndex: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function whose body is code (without locals or the final
// end) and returns its function index.
func (m *Module) Func(params, results []byte, code ...byte) uint32 {
	body := append([]byte{0x00}, code...) // no locals
	body = append(body, OpEnd)
	m.funcs = append(m.funcs, function{typeIndex: m.typeIndex(params, results), body: body})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Memory defines the module's memory with the given minimum page count.
func (m *Module) Memory(minPages uint32) *Module {
	m.hasMemory = true
	m.memPages = minPages
	return m
}

// ExportFunc exports function index fn as name.
func (m *Module) ExportFunc(name string, fn uint32) *Module {
	m.exports = append(m.exports, export{name: name, kind: exportKindFunc, index: fn})
	return m
}

// ExportMemory exports memory 0 as name.
func (m *Module) ExportMemory(name string) *Module {
	m.exports = append(m.exports, export{name: name, kind: exportKindMemory})
	return m
}

// Data places data at offset in memory 0.
func (m *Module) Data(offset int32, data []byte) *Module {
	m.data = append(m.data, dataSegment{offset: offset, data: data})
	return m
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	module := []byte{
		0x00, 0x61, 0x73, 0x6d, // magic
		0x01, 0x00, 0x00, 0x00, // version
	}

	appendSection := func(sectionID byte, payload []byte) {
		module = append(module, sectionID)
		module = append(module, ULEB128(uint32(len(payload)))...)
		module = append(module, payload...)
	}

	if len(m.types) > 0 {
		payload := ULEB128(uint32(len(m.types)))
		for _, t := range m.types {
			payload = append(payload, 0x60)
			payload = append(payload, vec(t.params)...)
			payload = append(payload, vec(t.results)...)
		}
		appendSection(sectionType, payload)
	}

	if len(m.imports) > 0 {
		payload := ULEB128(uint32(len(m.imports)))
		for _, imp := range m.imports {
			payload = append(payload, name(imp.module)...)
			payload = append(payload, name(imp.name)...)
			payload = append(payload, 0x00) // func
			payload = append(payload, ULEB128(imp.typeIndex)...)
		}
		appendSection(sectionImport, payload)
	}

	if len(m.funcs) > 0 {
		payload := ULEB128(uint32(len(m.funcs)))
		for _, fn := range m.funcs {
			payload = append(payload, ULEB128(fn.typeIndex)...)
		}
		appendSection(sectionFunction, payload)
	}

	if m.hasMemory {
		payload := []byte{0x01, 0x00} // one memory, min only
		payload = append(payload, ULEB128(m.memPages)...)
		appendSection(sectionMemory, payload)
	}

	if len(m.exports) > 0 {
		payload := ULEB128(uint32(len(m.exports)))
		for _, e := range m.exports {
			payload = append(payload, name(e.name)...)
			payload = append(payload, e.kind)
			payload = append(payload, ULEB128(e.index)...)
		}
		appendSection(sectionExport, payload)
	}

	if len(m.funcs) > 0 {
		payload := ULEB128(uint32(len(m.funcs)))
		for _, fn := range m.funcs {
			payload = append(payload, ULEB128(uint32(len(fn.body)))...)
			payload = append(payload, fn.body...)
		}
		appendSection(sectionCode, payload)
	}

	if len(m.data) > 0 {
		if !m.hasMemory {
			panic(fmt.Sprintf("wasmtest: %d data segments without memory", len(m.data)))
		}
		payload := ULEB128(uint32(len(m.data)))
		for _, d := range m.data {
			payload = append(payload, 0x00) // active, memory 0
			payload = append(payload, OpI32Const)
			payload = append(payload, SLEB128(d.offset)...)
			payload = append(payload, OpEnd)
			payload = append(payload, ULEB128(uint32(len(d.data)))...)
			payload = append(payload, d.data...)
		}
		appendSection(sectionData, payload)
	}

	return module
}

// LocalGet returns local.get i.
func LocalGet(i uint32) []byte {
	return append([]byte{OpLocalGet}, ULEB128(i)...)
}

// I32Const returns i32.const v.
func I32Const(v int32) []byte {
	return append([]byte{OpI32Const}, SLEB128(v)...)
}

// Call returns call fn.
func Call(fn uint32) []byte {
	return append([]byte{OpCall}, ULEB128(fn)...)
}

// Code concatenates instruction sequences.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Types is shorthand for a value type list.
func Types(types ...byte) []byte {
	return types
}

func vec(b []byte) []byte {
	return append(ULEB128(uint32(len(b))), b...)
}

func name(s string) []byte {
	return append(ULEB128(uint32(len(s))), s...)
}

// ULEB128 encodes v as unsigned LEB128.
func ULEB128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// SLEB128 encodes v as signed LEB128.
func SLEB128(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
