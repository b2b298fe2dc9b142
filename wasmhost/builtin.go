package wasmhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/otelwasm/wasmhost/runtime"
)

// LogMessage is the JSON document a guest passes to wasmhost.log_message.
// Level uses slog's numbering.
type LogMessage struct {
	Level   int32             `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

var (
	logMessageImport = NewSignature(builtinImportsModule, "log_message",
		[]runtime.ValueKind{runtime.ValueKindI32, runtime.ValueKindI32}, nil, logMessageFn)
	workspacePathImport = NewSignature(builtinImportsModule, "workspace_path",
		[]runtime.ValueKind{runtime.ValueKindI32, runtime.ValueKindI32},
		[]runtime.ValueKind{runtime.ValueKindI32}, workspacePathFn)
)

// BuiltinImports returns the host imports every guest may use:
//
//	wasmhost.log_message(ptr, len i32)
//	wasmhost.workspace_path(buf, buf_limit i32) i32
func BuiltinImports() []*Signature {
	return []*Signature{logMessageImport, workspacePathImport}
}

// logMessageFn logs the LogMessage at ptr/len with the context's logger.
func logMessageFn(_ context.Context, call *HostCall) error {
	mem := call.Memory()
	if mem == nil {
		return fmt.Errorf("wasmhost: log_message: %w", ErrMemoryNotExported)
	}
	ptr, size := uint32(call.Arg(0).I32()), uint32(call.Arg(1).I32())
	data, ok := ReadGuestBytes(mem, ptr, size)
	if !ok {
		return fmt.Errorf("wasmhost: log_message: %d bytes at %d outside guest memory", size, ptr)
	}

	c, err := call.Context()
	if err != nil {
		return err
	}
	logger := c.Logger()

	var msg LogMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Error("failed to unmarshal log message from guest", zap.Error(err))
		return nil
	}

	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.String(k, msg.Fields[k]))
	}
	logger.Log(zapLevelFromSlogLevel(slog.Level(msg.Level)), msg.Message, fields...)
	return nil
}

// workspacePathFn writes the guest workspace path to buf if it fits in
// buf_limit and returns its length either way.
func workspacePathFn(_ context.Context, call *HostCall) error {
	c, err := call.Context()
	if err != nil {
		return err
	}
	path := c.GuestWorkspace()
	buf, limit := uint32(call.Arg(0).I32()), uint32(call.Arg(1).I32())
	WriteGuestBytes(call.Memory(), []byte(path), buf, limit)
	return call.SetResult(0, runtime.ValueI32(int32(len(path))))
}

func zapLevelFromSlogLevel(level slog.Level) zapcore.Level {
	switch {
	case level < slog.LevelInfo:
		return zapcore.DebugLevel
	case level < slog.LevelWarn:
		return zapcore.InfoLevel
	case level < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
