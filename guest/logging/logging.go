// Package logging sends a guest's log records to the host logger through
// the wasmhost.log_message import.
package logging

import (
	"encoding/json"
	"log/slog"

	"github.com/otelwasm/wasmhost/guest/internal/imports"
)

// Levels past slog.LevelError, matching zap's.
const (
	LevelDPanic slog.Level = slog.LevelError + 1
	LevelPanic  slog.Level = slog.LevelError + 2
	LevelFatal  slog.Level = slog.LevelError + 3
)

// LogMessage is the JSON document passed to the host.
type LogMessage struct {
	Level   int32             `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func send(level slog.Level, message string, fields map[string]string) {
	data, err := json.Marshal(LogMessage{Level: int32(level), Message: message, Fields: fields})
	if err != nil {
		return
	}
	imports.LogMessage(data)
}

func firstFields(fields []map[string]string) map[string]string {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

func Debug(message string, fields ...map[string]string) {
	send(slog.LevelDebug, message, firstFields(fields))
}

func Info(message string, fields ...map[string]string) {
	send(slog.LevelInfo, message, firstFields(fields))
}

func Warn(message string, fields ...map[string]string) {
	send(slog.LevelWarn, message, firstFields(fields))
}

func Error(message string, fields ...map[string]string) {
	send(slog.LevelError, message, firstFields(fields))
}

// Logger logs slog attributes.
type Logger struct {
	attrs []slog.Attr
}

func NewLogger() *Logger {
	return &Logger{}
}

// With returns a logger that adds attrs to every record.
func (l *Logger) With(attrs ...slog.Attr) *Logger {
	return &Logger{attrs: append(append([]slog.Attr(nil), l.attrs...), attrs...)}
}

// LogAttrs logs msg at level. Attribute values are sent as strings.
func (l *Logger) LogAttrs(level slog.Level, msg string, attrs ...slog.Attr) {
	fields := make(map[string]string, len(l.attrs)+len(attrs))
	for _, a := range l.attrs {
		fields[a.Key] = a.Value.String()
	}
	for _, a := range attrs {
		fields[a.Key] = a.Value.String()
	}
	send(level, msg, fields)
}

func (l *Logger) DebugAttrs(msg string, attrs ...slog.Attr) {
	l.LogAttrs(slog.LevelDebug, msg, attrs...)
}

func (l *Logger) InfoAttrs(msg string, attrs ...slog.Attr) {
	l.LogAttrs(slog.LevelInfo, msg, attrs...)
}

func (l *Logger) WarnAttrs(msg string, attrs ...slog.Attr) {
	l.LogAttrs(slog.LevelWarn, msg, attrs...)
}

func (l *Logger) ErrorAttrs(msg string, attrs ...slog.Attr) {
	l.LogAttrs(slog.LevelError, msg, attrs...)
}
