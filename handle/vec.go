package handle

// VecOps is the allocate/delete pair a runtime provides for one vector type.
type VecOps[T any] struct {
	// Alloc returns runtime-owned storage for n elements.
	Alloc func(n int) []T
	// Free releases storage returned by Alloc.
	Free func(data []T)
}

// HeapOps returns VecOps backed by the Go heap.
func HeapOps[T any]() VecOps[T] {
	return VecOps[T]{
		Alloc: func(n int) []T { return make([]T, n) },
		Free:  func([]T) {},
	}
}

// Vec wraps a runtime-allocated array. An owning Vec frees its storage with
// the paired Free function on Close; a borrowed Vec views storage owned
// elsewhere, for example the export list of an instance, and never frees it.
type Vec[T any] struct {
	_ noCopy

	data     []T
	free     func([]T)
	borrowed bool
	closed   bool
}

// AllocateConst builds a vector from an array of pointers, copying each
// pointee into runtime storage. Nil entries become zero values.
//
// When data is empty no allocation is made and the vector is empty.
func AllocateConst[T any](ops VecOps[T], data []*T, borrowed bool) *Vec[T] {
	v := &Vec[T]{borrowed: borrowed}
	if len(data) == 0 {
		return v
	}
	v.data = ops.Alloc(len(data))
	v.free = ops.Free
	for i, p := range data {
		if p != nil {
			v.data[i] = *p
		}
	}
	return v
}

// AllocateOwned builds a vector from a flat array, copying it into runtime
// storage. When data is empty no allocation is made and the vector is empty.
func AllocateOwned[T any](ops VecOps[T], data []T, borrowed bool) *Vec[T] {
	v := &Vec[T]{borrowed: borrowed}
	if len(data) == 0 {
		return v
	}
	v.data = ops.Alloc(len(data))
	v.free = ops.Free
	copy(v.data, data)
	return v
}

// BorrowVec returns a read-only view of data that is never freed.
func BorrowVec[T any](data []T) *Vec[T] {
	return &Vec[T]{data: data, borrowed: true}
}

// Get returns the elements. The slice aliases runtime storage.
func (v *Vec[T]) Get() []T {
	if v == nil || v.closed {
		return nil
	}
	return v.data
}

// Len returns the number of elements.
func (v *Vec[T]) Len() int {
	return len(v.Get())
}

// At returns the element at i and whether i is in range.
func (v *Vec[T]) At(i int) (T, bool) {
	data := v.Get()
	if i < 0 || i >= len(data) {
		var zero T
		return zero, false
	}
	return data[i], true
}

// Valid reports whether the vector is usable. Empty vectors are valid.
func (v *Vec[T]) Valid() bool {
	return v != nil && !v.closed
}

// Borrowed reports whether the vector views storage it does not own.
func (v *Vec[T]) Borrowed() bool {
	return v != nil && v.borrowed
}

// Close frees owned storage. It is a no-op for borrowed or empty vectors and
// on repeated calls.
func (v *Vec[T]) Close() {
	if v == nil || v.closed {
		return
	}
	v.closed = true
	data := v.data
	v.data = nil
	if v.borrowed || data == nil || v.free == nil {
		return
	}
	v.free(data)
}
