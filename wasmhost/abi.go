package wasmhost

import "github.com/otelwasm/wasmhost/runtime"

const (
	commandStartExport   = "_start"
	reactorInitExport    = "_initialize"
	guestExportMemory    = "memory"
	builtinImportsModule = "wasmhost"
)

// ModuleKind is the WASI application ABI a module follows.
type ModuleKind uint8

const (
	// ModuleUnknown exports neither _start nor _initialize.
	ModuleUnknown ModuleKind = iota
	// ModuleCommand exports _start.
	ModuleCommand
	// ModuleReactor exports _initialize.
	ModuleReactor
)

func (k ModuleKind) String() string {
	switch k {
	case ModuleCommand:
		return "command"
	case ModuleReactor:
		return "reactor"
	case ModuleUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// DetectModuleKind classifies m by its exported entry points. A module that
// exports both is treated as a command.
func DetectModuleKind(m *Module) ModuleKind {
	if m == nil {
		return ModuleUnknown
	}
	if isFuncExport(m, commandStartExport) {
		return ModuleCommand
	}
	if isFuncExport(m, reactorInitExport) {
		return ModuleReactor
	}
	return ModuleUnknown
}

func isFuncExport(m *Module, name string) bool {
	i, ok := m.index.Lookup(name)
	return ok && m.types[i].Kind == runtime.ExternFunc
}
