// Package imports wraps the wasmhost host imports.
package imports

import "github.com/otelwasm/wasmhost/guest/internal/mem"

// LogMessage sends an encoded log message to the host.
func LogMessage(msg []byte) {
	logMessage(msg)
}

// WorkspacePath returns the workspace directory as the guest sees it.
func WorkspacePath() string {
	return string(mem.GetBytes(workspacePath))
}
