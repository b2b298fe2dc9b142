//go:build cgo

package main

import _ "github.com/otelwasm/wasmhost/runtime/wasmtime" // Register Wasmtime runtime
