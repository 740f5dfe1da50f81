package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies that parseLogLevel correctly parses log level
// strings from environment variables, handling case-insensitivity and whitespace.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env    string
		expect zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"INFO", zap.InfoLevel},
		{"DEBUG", zap.DebugLevel},
		{"WARN", zap.WarnLevel},
		{"ERROR", zap.ErrorLevel},
		{"debug", zap.DebugLevel},
		{"  warn  ", zap.WarnLevel},
		{"invalid", zap.InfoLevel},
	}
	for _, tt := range tests {
		level := parseLogLevel(tt.env)
		if got := level.Level(); got != tt.expect {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.env, got, tt.expect)
		}
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}

	logger.Info("test message")
	_ = logger.Sync() // best-effort; can fail on /dev/stderr in test env
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationIDFromContext(ctx); got != "" {
		t.Errorf("CorrelationIDFromContext(empty) = %q", got)
	}
	if got := LoggerFromContext(ctx, nil); got == nil {
		t.Error("LoggerFromContext(empty, nil) returned nil")
	}

	fallback := zap.NewNop()
	if got := LoggerFromContext(ctx, fallback); got != fallback {
		t.Error("LoggerFromContext should return fallback")
	}

	scoped := zap.NewExample()
	ctx = WithLogger(WithCorrelationID(ctx, "abc"), scoped)
	if got := CorrelationIDFromContext(ctx); got != "abc" {
		t.Errorf("CorrelationIDFromContext() = %q, want abc", got)
	}
	if got := LoggerFromContext(ctx, fallback); got != scoped {
		t.Error("LoggerFromContext should return request logger")
	}
}
