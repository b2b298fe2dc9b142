package runtime

import "context"

// HostFunction is the runtime-neutral form of a host import. args holds the
// guest's arguments; results is pre-sized to the declared result count and
// must be filled in. A returned error traps the guest.
type HostFunction func(ctx context.Context, caller Caller, args []Value, results []Value) error

// ZeroValues returns a slice of zero values of the given kinds.
func ZeroValues(kinds []ValueKind) []Value {
	values := make([]Value, len(kinds))
	for i, k := range kinds {
		values[i] = ValueFromBits(k, 0)
	}
	return values
}

// Kinds returns the kinds of types.
func Kinds(types []ValType) []ValueKind {
	kinds := make([]ValueKind, len(types))
	for i, t := range types {
		kinds[i] = t.Kind()
	}
	return kinds
}
