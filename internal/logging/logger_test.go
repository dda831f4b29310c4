package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"driftpursuit/client/internal/config"
)

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New(config.LoggingConfig{Path: "", Level: "info", MaxSizeMB: 1})
	if err == nil {
		t.Fatal("expected error for empty log path")
	}
}

func TestNewRejectsInvalidRotationSettings(t *testing.T) {
	dir := t.TempDir()
	_, err := New(config.LoggingConfig{
		Path:      filepath.Join(dir, "client.log"),
		Level:     "info",
		MaxSizeMB: 0,
	})
	if err == nil {
		t.Fatal("expected error for non-positive max size")
	}
}

func TestLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.log")
	logger, err := New(config.LoggingConfig{Path: path, Level: "debug", MaxSizeMB: 10, MaxBackups: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello", String("entity", "e-1"), Int("count", 3))
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := bytes.TrimSpace(data)
	if len(line) == 0 {
		t.Fatal("expected at least one log line")
	}
	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["service"] != "client" {
		t.Fatalf("expected service=client, got %v", decoded["service"])
	}
	if decoded["message"] != "hello" {
		t.Fatalf("expected message=hello, got %v", decoded["message"])
	}
	if decoded["entity"] != "e-1" {
		t.Fatalf("expected entity=e-1, got %v", decoded["entity"])
	}
}

func TestLoggerRespectsLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.log")
	logger, err := New(config.LoggingConfig{Path: path, Level: "warn", MaxSizeMB: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("should be dropped")
	logger.Info("should also be dropped")
	logger.Warn("kept")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected exactly one surviving log line, got %d", len(lines))
	}
}

func TestWithAddsFieldsWithoutMutatingParent(t *testing.T) {
	base := NewTestLogger()
	derived := base.With(String("session", "s-1"))
	if derived == base {
		t.Fatal("expected With to return a distinct logger")
	}
	if _, ok := base.fields["session"]; ok {
		t.Fatal("expected With to leave the parent logger's fields unchanged")
	}
}

func TestContextRoundTripsLoggerAndTraceID(t *testing.T) {
	ctx := context.Background()
	base := NewTestLogger()
	ctx, logger, traceID := WithTrace(ctx, base, "")
	if traceID == "" {
		t.Fatal("expected a generated trace ID")
	}
	if got := TraceIDFromContext(ctx); got != traceID {
		t.Fatalf("expected trace ID %q in context, got %q", traceID, got)
	}
	if got := LoggerFromContext(ctx); got != logger {
		t.Fatal("expected context to carry the derived logger")
	}
}

func TestGenerateTraceIDIsUnique(t *testing.T) {
	a := GenerateTraceID()
	b := GenerateTraceID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty trace IDs")
	}
	if a == b {
		t.Fatal("expected distinct trace IDs across calls")
	}
}
