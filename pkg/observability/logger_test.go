package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message should not be logged at Info level")
	}

	logger.Info("info message")
	entry := decodeEntry(t, &buf)
	if entry["level"] != "info" {
		t.Errorf("Expected level info, got %v", entry["level"])
	}
	if entry["msg"] != "info message" {
		t.Errorf("Expected message 'info message', got %v", entry["msg"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected timestamp field")
	}

	buf.Reset()
	NewLogger(ErrorLevel, &buf).Warn("suppressed")
	if buf.Len() > 0 {
		t.Error("Warn message should not be logged at Error level")
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("table", "users").
		WithFields(map[string]interface{}{"moved": 42}).
		WithError(errors.New("disk full")).
		Debugf("archived %d", 42)

	entry := decodeEntry(t, &buf)
	if entry["table"] != "users" {
		t.Errorf("Expected table field, got %v", entry["table"])
	}
	if entry["moved"] != float64(42) {
		t.Errorf("Expected moved 42, got %v", entry["moved"])
	}
	if entry["error"] != "disk full" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
	if entry["msg"] != "archived 42" {
		t.Errorf("Expected formatted message, got %v", entry["msg"])
	}

	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{" error ", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetUserID(ctx) != "" {
		t.Error("Expected empty ids on a bare context")
	}
	if GetLogger(ctx) == nil {
		t.Error("Expected default logger")
	}

	var buf bytes.Buffer
	ctx = WithLogger(ctx, NewLogger(InfoLevel, &buf))
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithUserID(ctx, "user-456")

	FromContext(ctx).Info("test message")

	entry := decodeEntry(t, &buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("Expected request_id 'req-123', got %v", entry["request_id"])
	}
	if entry["user_id"] != "user-456" {
		t.Errorf("Expected user_id 'user-456', got %v", entry["user_id"])
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(9), "LogLevel(9)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
