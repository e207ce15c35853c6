// Package logx is Bosun's structured logger. Call sites pass a component name
// and a field map through the InfoCF/ErrorCF convention, backed by zap.
package logx

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

func init() {
	log = mustBuild(false)
}

// Configure replaces the global logger. Call once at startup with the
// resolved config; safe to call again in tests.
func Configure(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	log = mustBuild(debug)
}

func mustBuild(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stdout), level)
	return zap.New(core)
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func fieldsOf(component string, fields map[string]any) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("component", component))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// DebugCF logs at debug level with a component tag and field map.
func DebugCF(component, msg string, fields map[string]any) {
	current().Debug(msg, fieldsOf(component, fields)...)
}

// InfoCF logs at info level with a component tag and field map.
func InfoCF(component, msg string, fields map[string]any) {
	current().Info(msg, fieldsOf(component, fields)...)
}

// WarnCF logs at warn level with a component tag and field map.
func WarnCF(component, msg string, fields map[string]any) {
	current().Warn(msg, fieldsOf(component, fields)...)
}

// ErrorCF logs at error level with a component tag and field map.
func ErrorCF(component, msg string, fields map[string]any) {
	current().Error(msg, fieldsOf(component, fields)...)
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() error {
	return current().Sync()
}
