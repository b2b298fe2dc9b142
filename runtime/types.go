package runtime

import (
	"fmt"
	"math"
)

// ValueKind represents WASM value types
type ValueKind uint8

const (
	ValueKindI32 ValueKind = iota
	ValueKindI64
	ValueKindF32
	ValueKindF64
	ValueKindRef
)

func (k ValueKind) String() string {
	switch k {
	case ValueKindI32:
		return "i32"
	case ValueKindI64:
		return "i64"
	case ValueKindF32:
		return "f32"
	case ValueKindF64:
		return "f64"
	case ValueKindRef:
		return "externref"
	default:
		return fmt.Sprintf("ValueKind(%d)", uint8(k))
	}
}

// ParseValueKind parses the text form returned by ValueKind.String.
func ParseValueKind(s string) (ValueKind, error) {
	switch s {
	case "i32":
		return ValueKindI32, nil
	case "i64":
		return ValueKindI64, nil
	case "f32":
		return ValueKindF32, nil
	case "f64":
		return ValueKindF64, nil
	case "externref", "ref":
		return ValueKindRef, nil
	default:
		return 0, fmt.Errorf("unknown value kind %q: %w", s, ErrInvalidConfiguration)
	}
}

// ExternKind is the kind of an export.
type ExternKind uint8

const (
	ExternFunc ExternKind = iota
	ExternTable
	ExternMemory
	ExternGlobal
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	default:
		return fmt.Sprintf("ExternKind(%d)", uint8(k))
	}
}

// ExportType describes one export of a compiled module. Params and Results
// are only set for functions.
type ExportType struct {
	Name    string
	Kind    ExternKind
	Params  []ValueKind
	Results []ValueKind
}

// Ref is an opaque host reference passed through the guest. Zero is null.
type Ref uintptr

// Value is a tagged WASM value.
type Value struct {
	kind ValueKind
	bits uint64
}

func ValueI32(v int32) Value   { return Value{kind: ValueKindI32, bits: uint64(uint32(v))} }
func ValueI64(v int64) Value   { return Value{kind: ValueKindI64, bits: uint64(v)} }
func ValueF32(v float32) Value { return Value{kind: ValueKindF32, bits: uint64(math.Float32bits(v))} }
func ValueF64(v float64) Value { return Value{kind: ValueKindF64, bits: math.Float64bits(v)} }
func ValueRef(v Ref) Value     { return Value{kind: ValueKindRef, bits: uint64(v)} }

// NullRef returns the null reference value.
func NullRef() Value { return ValueRef(0) }

// Kind returns the value's tag.
func (v Value) Kind() ValueKind { return v.kind }

// Bits returns the raw 64-bit payload.
func (v Value) Bits() uint64 { return v.bits }

func (v Value) I32() int32   { return int32(uint32(v.bits)) }
func (v Value) I64() int64   { return int64(v.bits) }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.bits) }
func (v Value) Ref() Ref     { return Ref(v.bits) }

// ValueFromBits builds a value of kind from a raw payload.
func ValueFromBits(kind ValueKind, bits uint64) Value {
	if kind == ValueKindI32 || kind == ValueKindF32 {
		bits = uint64(uint32(bits))
	}
	return Value{kind: kind, bits: bits}
}

func (v Value) String() string {
	switch v.kind {
	case ValueKindI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case ValueKindI64:
		return fmt.Sprintf("i64:%d", v.I64())
	case ValueKindF32:
		return fmt.Sprintf("f32:%g", v.F32())
	case ValueKindF64:
		return fmt.Sprintf("f64:%g", v.F64())
	case ValueKindRef:
		if v.bits == 0 {
			return "externref:null"
		}
		return fmt.Sprintf("externref:%#x", v.bits)
	default:
		return fmt.Sprintf("%s:%#x", v.kind, v.bits)
	}
}
