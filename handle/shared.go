package handle

import "sync/atomic"

// Shared is a reference counted handle. The release function runs when the
// last reference is dropped.
//
// Runtime descriptors such as value types are shared by every function
// signature that mentions them, so they cannot be held by a single Handle.
type Shared[T any] struct {
	_ noCopy

	ptr     T
	release func(T)
	refs    atomic.Int32
}

// NewShared returns a shared handle holding one reference to ptr.
func NewShared[T any](ptr T, release func(T)) *Shared[T] {
	s := &Shared[T]{ptr: ptr, release: release}
	s.refs.Store(1)
	return s
}

// Get returns the shared object. It must not be used after the last Drop.
func (s *Shared[T]) Get() T {
	return s.ptr
}

// Ref adds a reference and returns s.
func (s *Shared[T]) Ref() *Shared[T] {
	if s.refs.Add(1) <= 1 {
		panic("handle: Ref on released shared handle")
	}
	return s
}

// Drop removes a reference, releasing the object when none remain.
func (s *Shared[T]) Drop() {
	switch n := s.refs.Add(-1); {
	case n == 0:
		if s.release != nil {
			s.release(s.ptr)
		}
		var zero T
		s.ptr = zero
	case n < 0:
		panic("handle: Drop on released shared handle")
	}
}

// Refs returns the current reference count.
func (s *Shared[T]) Refs() int {
	return int(s.refs.Load())
}
