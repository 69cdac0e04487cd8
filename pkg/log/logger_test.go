package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewDefaultLogger(t *testing.T) {
	logger := NewDefaultLogger()

	if logger == nil {
		t.Fatal("NewDefaultLogger() should not return nil")
	}

	// Logger methods must not panic
	logger.Error("test error")
	logger.Errorf("test error: %s", "message")
	logger.Warn("test warning")
	logger.Warnf("test warning: %s", "message")
	logger.Info("test info")
	logger.Infof("test info: %s", "message")
	logger.Debug("test debug")
	logger.Debugf("test debug: %s", "message")
}

func TestWithFields_AttachesContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := FromZap(zap.New(core)).WithFields(map[string]interface{}{
		"session": "abc",
		"role":    "durabilizer",
	})

	logger.Infof("published durable offset %d", 42)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["session"] != "abc" || ctx["role"] != "durabilizer" {
		t.Fatalf("unexpected context: %v", ctx)
	}
	if entries[0].Message != "published durable offset 42" {
		t.Fatalf("unexpected message: %q", entries[0].Message)
	}
}

func TestNewLevelLogger_FallsBackToInfo(t *testing.T) {
	if NewLevelLogger("nonsense") == nil {
		t.Fatal("expected logger")
	}
	if NewLevelLogger("debug") == nil {
		t.Fatal("expected logger")
	}
}

func TestNewDevelopmentLogger(t *testing.T) {
	logger := NewDevelopmentLogger()
	if logger == nil {
		t.Fatal("NewDevelopmentLogger() should not return nil")
	}
	logger.WithFields(map[string]interface{}{"role": "observer"}).Debugf("mapped %d bytes", 10)
}
