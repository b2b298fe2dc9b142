//go:build !wasm

package imports

// This file is used to stub out the imports for running tests.

// Stub serves the host imports outside WebAssembly.
var Stub struct {
	LogMessage    func(msg []byte)
	WorkspacePath string
}

func logMessage(msg []byte) {
	if Stub.LogMessage != nil {
		Stub.LogMessage(msg)
	}
}

func workspacePath(buf []byte) uint32 {
	if len(Stub.WorkspacePath) <= len(buf) {
		copy(buf, Stub.WorkspacePath)
	}
	return uint32(len(Stub.WorkspacePath))
}
