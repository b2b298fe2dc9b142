//go:build wasm

package imports

import (
	"runtime"

	"github.com/otelwasm/wasmhost/guest/internal/mem"
)

//go:wasmimport wasmhost log_message
func hostLogMessage(ptr, size uint32)

//go:wasmimport wasmhost workspace_path
func hostWorkspacePath(buf uint32, limit mem.BufLimit) (len uint32)

func logMessage(msg []byte) {
	ptr, size := mem.BytesToPtr(msg)
	hostLogMessage(ptr, size)
	runtime.KeepAlive(msg) // until ptr is no longer needed.
}

func workspacePath(buf []byte) uint32 {
	ptr, size := mem.BytesToPtr(buf)
	n := hostWorkspacePath(ptr, size)
	runtime.KeepAlive(buf)
	return n
}
