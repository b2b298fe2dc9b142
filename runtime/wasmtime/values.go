//go:build cgo

package wasmtime

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v13"

	"github.com/otelwasm/wasmhost/runtime"
)

func convertValueKind(k runtime.ValueKind) (wasmtime.ValKind, error) {
	switch k {
	case runtime.ValueKindI32:
		return wasmtime.KindI32, nil
	case runtime.ValueKindI64:
		return wasmtime.KindI64, nil
	case runtime.ValueKindF32:
		return wasmtime.KindF32, nil
	case runtime.ValueKindF64:
		return wasmtime.KindF64, nil
	case runtime.ValueKindRef:
		return wasmtime.KindExternref, nil
	default:
		return 0, fmt.Errorf("wasmtime: %s: %w", k, runtime.ErrUnsupportedValueKind)
	}
}

func convertValType(vt *wasmtime.ValType) (runtime.ValueKind, error) {
	switch vt.Kind() {
	case wasmtime.KindI32:
		return runtime.ValueKindI32, nil
	case wasmtime.KindI64:
		return runtime.ValueKindI64, nil
	case wasmtime.KindF32:
		return runtime.ValueKindF32, nil
	case wasmtime.KindF64:
		return runtime.ValueKindF64, nil
	case wasmtime.KindExternref:
		return runtime.ValueKindRef, nil
	default:
		return 0, fmt.Errorf("wasmtime: value type %s: %w", vt.Kind(), runtime.ErrUnsupportedValueKind)
	}
}

func convertValTypes(types []*wasmtime.ValType) ([]runtime.ValueKind, error) {
	kinds := make([]runtime.ValueKind, len(types))
	for i, vt := range types {
		k, err := convertValType(vt)
		if err != nil {
			return nil, err
		}
		kinds[i] = k
	}
	return kinds, nil
}

// valTypes unwraps descriptors created by this backend.
func valTypes(types []runtime.ValType) ([]*wasmtime.ValType, error) {
	out := make([]*wasmtime.ValType, len(types))
	for i, t := range types {
		vt, ok := t.(*wasmtimeValType)
		if !ok || vt.vt == nil {
			return nil, fmt.Errorf("wasmtime: foreign or deleted value type %T: %w", t, runtime.ErrInvalidConfiguration)
		}
		out[i] = vt.vt
	}
	return out, nil
}

// Externrefs carry the runtime.Ref itself; the null reference is nil.
func refToExternref(r runtime.Ref) interface{} {
	if r == 0 {
		return nil
	}
	return r
}

func externrefToRef(x interface{}) runtime.Ref {
	if r, ok := x.(runtime.Ref); ok {
		return r
	}
	return 0
}

func toVal(v runtime.Value) wasmtime.Val {
	switch v.Kind() {
	case runtime.ValueKindI64:
		return wasmtime.ValI64(v.I64())
	case runtime.ValueKindF32:
		return wasmtime.ValF32(v.F32())
	case runtime.ValueKindF64:
		return wasmtime.ValF64(v.F64())
	case runtime.ValueKindRef:
		return wasmtime.ValExternref(refToExternref(v.Ref()))
	default:
		return wasmtime.ValI32(v.I32())
	}
}

func fromVal(k runtime.ValueKind, v wasmtime.Val) runtime.Value {
	switch k {
	case runtime.ValueKindI64:
		return runtime.ValueI64(v.I64())
	case runtime.ValueKindF32:
		return runtime.ValueF32(v.F32())
	case runtime.ValueKindF64:
		return runtime.ValueF64(v.F64())
	case runtime.ValueKindRef:
		return runtime.ValueRef(externrefToRef(v.Externref()))
	default:
		return runtime.ValueI32(v.I32())
	}
}

// toCallArg converts v to the Go value Func.Call expects for its kind.
func toCallArg(v runtime.Value) interface{} {
	switch v.Kind() {
	case runtime.ValueKindI64:
		return v.I64()
	case runtime.ValueKindF32:
		return v.F32()
	case runtime.ValueKindF64:
		return v.F64()
	case runtime.ValueKindRef:
		return toVal(v)
	default:
		return v.I32()
	}
}

// fromCallResult converts the single result of Func.Call.
func fromCallResult(k runtime.ValueKind, out interface{}) runtime.Value {
	switch x := out.(type) {
	case int32:
		return runtime.ValueI32(x)
	case int64:
		return runtime.ValueI64(x)
	case float32:
		return runtime.ValueF32(x)
	case float64:
		return runtime.ValueF64(x)
	case wasmtime.Val:
		return fromVal(k, x)
	default:
		if k == runtime.ValueKindRef {
			return runtime.ValueRef(externrefToRef(x))
		}
		return runtime.ValueFromBits(k, 0)
	}
}
