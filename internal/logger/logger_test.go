package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSecretsAreRedacted(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("api_key", "abc").Info("login", "user_id", "u1", "password", "hunter2", "Authorization", "Bearer x")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"api_key", "password", "Authorization"} {
		if fields[key] != "[REDACTED]" {
			t.Fatalf("%s not redacted: %v", key, fields[key])
		}
	}
	if fields["user_id"] != "u1" {
		t.Fatalf("user_id altered: %v", fields["user_id"])
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"development", "production", "prod", ""} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.Debug("ok")
	}
	Nop().Error("discarded")
}

func TestProductionModeSkipsDebug(t *testing.T) {
	for mode, wantDebug := range map[string]bool{"production": false, "prod": false, "development": true} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		if got := l.SugaredLogger.Desugar().Core().Enabled(zap.DebugLevel); got != wantDebug {
			t.Fatalf("New(%q): debug enabled=%v, want %v", mode, got, wantDebug)
		}
		if !l.SugaredLogger.Desugar().Core().Enabled(zap.InfoLevel) {
			t.Fatalf("New(%q): info must be enabled", mode)
		}
	}
}
