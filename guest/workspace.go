// Package guest is the guest side of the wasmhost imports, for modules
// built with GOOS=wasip1 or TinyGo.
package guest

import "github.com/otelwasm/wasmhost/guest/internal/imports"

// Workspace returns the workspace directory preopened for the guest.
func Workspace() string {
	return imports.WorkspacePath()
}
