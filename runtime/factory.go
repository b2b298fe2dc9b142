package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// Runtime type names.
const (
	TypeWazero   = "wazero"
	TypeWasmtime = "wasmtime"
)

// Mode selects how a runtime executes code.
type Mode string

const (
	ModeInterpreter Mode = "interpreter"
	ModeCompiled    Mode = "compiled"
)

// Config is passed to a runtime Factory.
type Config struct {
	Mode Mode
	// CacheDir enables an on-disk compilation cache when the backend has one
	CacheDir string
}

// Factory is a function that creates a new Runtime
type Factory func(config Config) (Runtime, error)

var (
	factoriesMu      sync.RWMutex
	runtimeFactories = make(map[string]Factory)
)

// Register registers a runtime factory
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, exists := runtimeFactories[name]; exists {
		panic(fmt.Sprintf("runtime %s already registered", name))
	}
	runtimeFactories[name] = factory
}

// NewRuntime creates a new Runtime by name and config
func NewRuntime(runtimeType string, config Config) (Runtime, error) {
	// Default to wazero if not specified
	if runtimeType == "" {
		runtimeType = TypeWazero
	}

	factoriesMu.RLock()
	factory, ok := runtimeFactories[runtimeType]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown runtime type: %s: %w", runtimeType, ErrRuntimeNotFound)
	}

	return factory(config)
}

// List returns all registered runtime types
func List() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]string, 0, len(runtimeFactories))
	for t := range runtimeFactories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
