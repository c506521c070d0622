package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Debug("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("production logger should not emit debug entries")
	}
}

func TestComponentNamesLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	Component(zap.New(core), "fetch").Info("hello")

	entries := logs.All()
	if len(entries) != 1 || entries[0].LoggerName != "fetch" {
		t.Fatalf("expected one entry from fetch logger, got %+v", entries)
	}
	Component(nil, "noop").Info("dropped")
}
