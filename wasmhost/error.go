package wasmhost

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/otelwasm/wasmhost/runtime"
)

var (
	ErrAllocation          = errors.New("runtime allocation failed")
	ErrInvalidContext      = errors.New("execution context is not valid")
	ErrAlreadyInstantiated = errors.New("module already instantiated")
	ErrMissingCallback     = errors.New("host import has no callback")
	ErrArgumentCount       = errors.New("argument count does not match signature")
	ErrIndexOutOfRange     = errors.New("export index out of range")
	ErrNotAFunction        = errors.New("export is not a function")
	ErrCallFailed          = errors.New("call failed")
	ErrCallDepthExceeded   = errors.New("call depth exceeded")
	ErrHostCallExpired     = errors.New("host call used after its callback returned")
	ErrExportNotFound      = errors.New("export not found")
	ErrKindMismatch        = errors.New("value kind mismatch")
	ErrMemoryNotExported   = errors.New("guest does not export memory")
)

// Stage names an execution context construction step.
type Stage string

const (
	StageWasiConfig   Stage = "wasi_config"
	StageStore        Stage = "store"
	StageWasiInstance Stage = "wasi_instance"
	StageLinker       Stage = "linker"
	StageImports      Stage = "imports"
	StageInstantiate  Stage = "instantiate"
)

// StageError reports the construction step at which an execution context
// failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("wasmhost: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// CallError reports a failed call of a guest export.
type CallError struct {
	Op   string
	Name string
	Err  error
}

func (e *CallError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("wasmhost: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("wasmhost: %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// IsTrap reports whether err was raised by guest code.
func IsTrap(err error) bool {
	var trap *runtime.Trap
	return errors.As(err, &trap)
}

// reportError logs a runtime failure once, tagged with op, and returns it.
// Traps are logged with their message; other errors with the error itself.
func reportError(op string, err error, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	var trap *runtime.Trap
	if errors.As(err, &trap) {
		Logger().Warn("wasm trap", append(fields, zap.String("op", op), zap.String("trap", trap.Message))...)
	} else {
		Logger().Warn("wasm runtime error", append(fields, zap.String("op", op), zap.Error(err))...)
	}
	return err
}
