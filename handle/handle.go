// Package handle provides ownership wrappers for objects allocated by a
// WebAssembly runtime: exclusively owned handles, reference counted handles
// and runtime-allocated vectors.
//
// None of the types in this package are safe to copy after first use.
package handle

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle owns exactly one runtime object of type T.
//
// The release function runs at most once, and only when the handle holds a
// non-zero value and was not created as borrowed.
type Handle[T comparable] struct {
	_ noCopy

	ptr      T
	release  func(T)
	borrowed bool
}

// New returns a handle over ptr. A borrowed handle never calls release.
func New[T comparable](ptr T, release func(T), borrowed bool) *Handle[T] {
	return &Handle[T]{ptr: ptr, release: release, borrowed: borrowed}
}

// Acquire returns a handle owning ptr.
func Acquire[T comparable](ptr T, release func(T)) *Handle[T] {
	return New(ptr, release, false)
}

// Borrow returns a handle viewing ptr without owning it.
func Borrow[T comparable](ptr T) *Handle[T] {
	return New(ptr, nil, true)
}

// Get returns the held object, or the zero value once released.
func (h *Handle[T]) Get() T {
	if h == nil {
		var zero T
		return zero
	}
	return h.ptr
}

// Valid reports whether the handle holds a non-zero object.
func (h *Handle[T]) Valid() bool {
	if h == nil {
		return false
	}
	var zero T
	return h.ptr != zero
}

// Borrowed reports whether the handle was created as a non-owning view.
func (h *Handle[T]) Borrowed() bool {
	return h != nil && h.borrowed
}

// Release detaches the object from the handle and returns it. The release
// function will not be called for it.
func (h *Handle[T]) Release() T {
	var zero T
	if h == nil {
		return zero
	}
	ptr := h.ptr
	h.ptr = zero
	return ptr
}

// Close releases the held object unless it is borrowed or already released.
// Calling Close more than once is a no-op.
func (h *Handle[T]) Close() {
	if h == nil {
		return
	}
	var zero T
	ptr := h.ptr
	h.ptr = zero
	if ptr == zero || h.borrowed || h.release == nil {
		return
	}
	h.release(ptr)
}

// Move transfers ownership to a new handle and leaves h empty.
func (h *Handle[T]) Move() *Handle[T] {
	if h == nil {
		return nil
	}
	moved := New(h.ptr, h.release, h.borrowed)
	var zero T
	h.ptr = zero
	return moved
}

// Replace closes the current object and takes ownership of ptr.
func (h *Handle[T]) Replace(ptr T) {
	h.Close()
	h.ptr = ptr
}
