package wasmhost

import (
	"bytes"

	"github.com/otelwasm/wasmhost/runtime"
)

// ReadGuestString reads a NUL-terminated string at ptr from the guest memory
// of c, looking at no more than maxLen bytes. Without a terminator the whole
// range is returned. It returns "" when the guest exports no memory or the
// range does not fit in it.
func ReadGuestString(c *Context, ptr, maxLen uint32) string {
	if !c.Valid() {
		return ""
	}
	return readString(c.Memory(), ptr, maxLen)
}

func readString(mem runtime.Memory, ptr, maxLen uint32) string {
	data, ok := ReadGuestBytes(mem, ptr, maxLen)
	if !ok {
		return ""
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data)
}

// ReadGuestBytes copies size bytes at ptr out of mem.
func ReadGuestBytes(mem runtime.Memory, ptr, size uint32) ([]byte, bool) {
	if mem == nil {
		return nil, false
	}
	// Compare in 64 bits so ptr+size cannot wrap.
	if uint64(ptr)+uint64(size) > uint64(mem.Size()) {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	view, ok := mem.Read(ptr, size)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), view...), true
}

// WriteGuestBytes writes data to buf in mem when it fits in bufLimit bytes.
// It returns the number of bytes written, which is zero when data did not
// fit.
func WriteGuestBytes(mem runtime.Memory, data []byte, buf, bufLimit uint32) uint32 {
	if mem == nil {
		return 0
	}
	n := uint64(len(data))
	if n == 0 || n > uint64(bufLimit) || uint64(buf)+n > uint64(mem.Size()) {
		return 0
	}
	if !mem.Write(buf, data) {
		return 0
	}
	return uint32(n)
}
