package wazero

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/otelwasm/wasmhost/runtime"
)

// convertValueKind converts runtime.ValueKind to api.ValueType
func convertValueKind(k runtime.ValueKind) (api.ValueType, error) {
	switch k {
	case runtime.ValueKindI32:
		return api.ValueTypeI32, nil
	case runtime.ValueKindI64:
		return api.ValueTypeI64, nil
	case runtime.ValueKindF32:
		return api.ValueTypeF32, nil
	case runtime.ValueKindF64:
		return api.ValueTypeF64, nil
	case runtime.ValueKindRef:
		return api.ValueTypeExternref, nil
	default:
		return 0, fmt.Errorf("wazero: %s: %w", k, runtime.ErrUnsupportedValueKind)
	}
}

// convertValueType converts api.ValueType to runtime.ValueKind
func convertValueType(vt api.ValueType) (runtime.ValueKind, error) {
	switch vt {
	case api.ValueTypeI32:
		return runtime.ValueKindI32, nil
	case api.ValueTypeI64:
		return runtime.ValueKindI64, nil
	case api.ValueTypeF32:
		return runtime.ValueKindF32, nil
	case api.ValueTypeF64:
		return runtime.ValueKindF64, nil
	case api.ValueTypeExternref:
		return runtime.ValueKindRef, nil
	default:
		return 0, fmt.Errorf("wazero: value type %s: %w", api.ValueTypeName(vt), runtime.ErrUnsupportedValueKind)
	}
}

func convertValueKinds(kinds []runtime.ValueKind) ([]api.ValueType, error) {
	types := make([]api.ValueType, len(kinds))
	for i, k := range kinds {
		vt, err := convertValueKind(k)
		if err != nil {
			return nil, err
		}
		types[i] = vt
	}
	return types, nil
}

func convertValueTypes(types []api.ValueType) ([]runtime.ValueKind, error) {
	kinds := make([]runtime.ValueKind, len(types))
	for i, vt := range types {
		k, err := convertValueType(vt)
		if err != nil {
			return nil, err
		}
		kinds[i] = k
	}
	return kinds, nil
}

func encodeValue(v runtime.Value) uint64 {
	switch v.Kind() {
	case runtime.ValueKindI32:
		return api.EncodeI32(v.I32())
	case runtime.ValueKindI64:
		return api.EncodeI64(v.I64())
	case runtime.ValueKindF32:
		return api.EncodeF32(v.F32())
	case runtime.ValueKindF64:
		return api.EncodeF64(v.F64())
	case runtime.ValueKindRef:
		return api.EncodeExternref(uintptr(v.Ref()))
	default:
		return v.Bits()
	}
}

func decodeValue(k runtime.ValueKind, raw uint64) runtime.Value {
	switch k {
	case runtime.ValueKindI32:
		return runtime.ValueI32(api.DecodeI32(raw))
	case runtime.ValueKindI64:
		return runtime.ValueI64(int64(raw))
	case runtime.ValueKindF32:
		return runtime.ValueF32(api.DecodeF32(raw))
	case runtime.ValueKindF64:
		return runtime.ValueF64(api.DecodeF64(raw))
	case runtime.ValueKindRef:
		return runtime.ValueRef(runtime.Ref(api.DecodeExternref(raw)))
	default:
		return runtime.ValueFromBits(k, raw)
	}
}
