package logging

import (
	"fmt"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewHostBridgeLogger returns a zap.Logger that writes to the host logger.
// Level filtering is left to the host.
func NewHostBridgeLogger() *zap.Logger {
	return zap.New(&hostBridgeCore{})
}

type hostBridgeCore struct {
	fields []zapcore.Field
}

func (c *hostBridgeCore) Enabled(zapcore.Level) bool { return true }

func (c *hostBridgeCore) With(fields []zapcore.Field) zapcore.Core {
	return &hostBridgeCore{fields: append(append([]zapcore.Field(nil), c.fields...), fields...)}
}

func (c *hostBridgeCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(entry, c)
}

func (c *hostBridgeCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	out := make(map[string]string, len(enc.Fields)+2)
	for k, v := range enc.Fields {
		out[k] = fmt.Sprint(v)
	}
	if entry.LoggerName != "" {
		out["logger"] = entry.LoggerName
	}
	if entry.Caller.Defined {
		out["caller"] = entry.Caller.String()
	}

	send(slogLevel(entry.Level), entry.Message, out)
	return nil
}

func (c *hostBridgeCore) Sync() error { return nil }

func slogLevel(l zapcore.Level) slog.Level {
	switch l {
	case zapcore.DebugLevel:
		return slog.LevelDebug
	case zapcore.InfoLevel:
		return slog.LevelInfo
	case zapcore.WarnLevel:
		return slog.LevelWarn
	case zapcore.ErrorLevel:
		return slog.LevelError
	case zapcore.DPanicLevel:
		return LevelDPanic
	case zapcore.PanicLevel:
		return LevelPanic
	case zapcore.FatalLevel:
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

var _ zapcore.Core = (*hostBridgeCore)(nil)
