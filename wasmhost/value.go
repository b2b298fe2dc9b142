package wasmhost

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/otelwasm/wasmhost/handle"
	"github.com/otelwasm/wasmhost/runtime"
)

// Scalar is the set of Go types that cross the guest boundary.
type Scalar interface {
	int32 | int64 | float32 | float64 | runtime.Ref
}

// KindOf returns the value kind T maps to.
func KindOf[T Scalar]() runtime.ValueKind {
	var zero T
	switch any(zero).(type) {
	case int32:
		return runtime.ValueKindI32
	case int64:
		return runtime.ValueKindI64
	case float32:
		return runtime.ValueKindF32
	case float64:
		return runtime.ValueKindF64
	default:
		return runtime.ValueKindRef
	}
}

// ToValue wraps v in a tagged value of its kind.
func ToValue[T Scalar](v T) runtime.Value {
	switch x := any(v).(type) {
	case int32:
		return runtime.ValueI32(x)
	case int64:
		return runtime.ValueI64(x)
	case float32:
		return runtime.ValueF32(x)
	case float64:
		return runtime.ValueF64(x)
	case runtime.Ref:
		return runtime.ValueRef(x)
	}
	panic("unreachable")
}

// FromValue extracts a T from v. It fails with ErrKindMismatch when v holds
// another kind.
func FromValue[T Scalar](v runtime.Value) (T, error) {
	var out T
	if want := KindOf[T](); v.Kind() != want {
		return out, fmt.Errorf("wasmhost: want %s, have %s: %w", want, v.Kind(), ErrKindMismatch)
	}
	switch p := any(&out).(type) {
	case *int32:
		*p = v.I32()
	case *int64:
		*p = v.I64()
	case *float32:
		*p = v.F32()
	case *float64:
		*p = v.F64()
	case *runtime.Ref:
		*p = v.Ref()
	}
	return out, nil
}

// TypeDescriptorFor returns the engine's shared descriptor for T. The
// caller owns one reference and must Drop it.
func TypeDescriptorFor[T Scalar](e *Engine) (*handle.Shared[runtime.ValType], error) {
	return e.TypeDescriptor(KindOf[T]())
}

// ParseValue parses text as a value of kind. References are parsed as
// unsigned integers; "null" is the null reference.
func ParseValue(kind runtime.ValueKind, text string) (runtime.Value, error) {
	text = strings.TrimSpace(text)
	var (
		v   runtime.Value
		err error
	)
	switch kind {
	case runtime.ValueKindI32:
		var n int64
		if n, err = strconv.ParseInt(text, 0, 32); err == nil {
			v = runtime.ValueI32(int32(n))
		}
	case runtime.ValueKindI64:
		var n int64
		if n, err = strconv.ParseInt(text, 0, 64); err == nil {
			v = runtime.ValueI64(n)
		}
	case runtime.ValueKindF32:
		var f float64
		if f, err = strconv.ParseFloat(text, 32); err == nil {
			v = runtime.ValueF32(float32(f))
		}
	case runtime.ValueKindF64:
		var f float64
		if f, err = strconv.ParseFloat(text, 64); err == nil {
			v = runtime.ValueF64(f)
		}
	case runtime.ValueKindRef:
		if text == "null" {
			return runtime.NullRef(), nil
		}
		var n uint64
		if n, err = strconv.ParseUint(text, 0, 64); err == nil {
			v = runtime.ValueRef(runtime.Ref(n))
		}
	default:
		return v, fmt.Errorf("wasmhost: parse %q: %w", text, runtime.ErrUnsupportedValueKind)
	}
	if err != nil {
		return v, fmt.Errorf("wasmhost: parse %q as %s: %w", text, kind, err)
	}
	return v, nil
}

// ParseValues parses one text per kind.
func ParseValues(kinds []runtime.ValueKind, texts []string) ([]runtime.Value, error) {
	if len(kinds) != len(texts) {
		return nil, fmt.Errorf("wasmhost: want %d values, have %d: %w", len(kinds), len(texts), ErrArgumentCount)
	}
	values := make([]runtime.Value, len(kinds))
	for i, k := range kinds {
		v, err := ParseValue(k, texts[i])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// FormatValue formats v without its kind prefix.
func FormatValue(v runtime.Value) string {
	switch v.Kind() {
	case runtime.ValueKindI32:
		return strconv.FormatInt(int64(v.I32()), 10)
	case runtime.ValueKindI64:
		return strconv.FormatInt(v.I64(), 10)
	case runtime.ValueKindF32:
		return strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case runtime.ValueKindF64:
		return strconv.FormatFloat(v.F64(), 'g', -1, 64)
	case runtime.ValueKindRef:
		if v.Ref() == 0 {
			return "null"
		}
		return fmt.Sprintf("%#x", uint64(v.Ref()))
	default:
		return v.String()
	}
}
