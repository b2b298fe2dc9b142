package runtime

import (
	"errors"
	"fmt"
)

// Common errors used across runtime implementations
var (
	ErrRuntimeNotFound         = errors.New("runtime not found")
	ErrModuleCompileFailed     = errors.New("module compilation failed")
	ErrModuleInstantiateFailed = errors.New("module instantiation failed")
	ErrInvalidConfiguration    = errors.New("invalid configuration")
	ErrUnsupportedValueKind    = errors.New("unsupported value kind")
	ErrWasiFailed              = errors.New("wasi setup failed")
	ErrLinkFailed              = errors.New("import definition failed")
	ErrResultCount             = errors.New("result count mismatch")
	ErrClosed                  = errors.New("runtime object closed")
)

// Trap is an abnormal termination of guest code raised by the runtime, as
// opposed to a host-side error.
type Trap struct {
	Message string
	Err     error
}

// NewTrap wraps err as a trap. A nil err yields nil.
func NewTrap(err error) *Trap {
	if err == nil {
		return nil
	}
	var trap *Trap
	if errors.As(err, &trap) {
		return trap
	}
	return &Trap{Message: err.Error(), Err: err}
}

func (t *Trap) Error() string {
	return fmt.Sprintf("wasm trap: %s", t.Message)
}

func (t *Trap) Unwrap() error {
	return t.Err
}
