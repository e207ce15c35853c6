package logx

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func withObserver(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, observed := observer.New(zapcore.DebugLevel)
	prior := current()
	mu.Lock()
	log = zap.New(core)
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		log = prior
		mu.Unlock()
	})
	return observed
}

func TestInfoCFIncludesComponentAndFields(t *testing.T) {
	observed := withObserver(t)

	InfoCF("scheduler", "task claimed", map[string]any{"task_id": "42"})

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel || entry.Message != "task claimed" {
		t.Errorf("entry = %+v, want info/\"task claimed\"", entry)
	}
	ctx := entry.ContextMap()
	if ctx["component"] != "scheduler" {
		t.Errorf("component field = %v, want scheduler", ctx["component"])
	}
	if ctx["task_id"] != "42" {
		t.Errorf("task_id field = %v, want 42", ctx["task_id"])
	}
}

func TestErrorCFLogsAtErrorLevel(t *testing.T) {
	observed := withObserver(t)

	ErrorCF("worktree", "push failed", map[string]any{"error": "non-fast-forward"})

	entries := observed.All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("entries = %+v, want one error-level entry", entries)
	}
}

func TestConfigureSwitchesMinimumLevel(t *testing.T) {
	Configure(false)
	t.Cleanup(func() { Configure(false) })

	if current().Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be disabled when Configure(false)")
	}

	Configure(true)
	if !current().Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be enabled when Configure(true)")
	}
}
