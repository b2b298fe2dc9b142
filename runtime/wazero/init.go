package wazero

import (
	"github.com/otelwasm/wasmhost/runtime"
)

func init() {
	runtime.Register(runtime.TypeWazero, newWazeroRuntime)
}
