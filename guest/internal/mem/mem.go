// Package mem passes Go buffers across the guest boundary.
package mem

import "unsafe"

// BufLimit is the capacity of a guest buffer handed to the host.
type BufLimit = uint32

// initialBufSize is the first buffer size GetBytes offers the host.
const initialBufSize = 256

// BytesToPtr returns the linear memory address and length of b. The caller
// keeps b alive until the host is done with it.
func BytesToPtr(b []byte) (uint32, uint32) {
	if len(b) == 0 {
		return 0, 0
	}
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(b)))), uint32(len(b))
}

// StringToPtr is BytesToPtr for a string.
func StringToPtr(s string) (uint32, uint32) {
	if s == "" {
		return 0, 0
	}
	return uint32(uintptr(unsafe.Pointer(unsafe.StringData(s)))), uint32(len(s))
}

// GetBytes reads a host value with read, which writes into buf when the
// value fits and returns the value's length either way. A value that does
// not fit is read again into a buffer of the reported size.
func GetBytes(read func(buf []byte) uint32) []byte {
	buf := make([]byte, initialBufSize)
	n := read(buf)
	if n > uint32(len(buf)) {
		buf = make([]byte, n)
		n = read(buf)
		if n > uint32(len(buf)) {
			// The value grew between the two reads.
			return nil
		}
	}
	return buf[:n]
}
