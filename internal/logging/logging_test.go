package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestSetFormat_JSON(t *testing.T) {
	// Capture output
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	SetFormat("json")
	defer func() {
		SetFormat("text")
		SetOutput(nil)
	}()

	// Log a message
	Info("test message")

	// Parse the output
	output := buf.String()
	if output == "" {
		t.Fatal("expected output")
	}

	// Should be valid JSON
	var logEntry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &logEntry); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, output)
	}

	// Check required fields
	if _, ok := logEntry["ts"]; !ok {
		t.Error("missing 'ts' field in JSON log")
	}
	if level, ok := logEntry["level"]; !ok || level != "info" {
		t.Errorf("expected level='info', got %v", level)
	}
	if msg, ok := logEntry["msg"]; !ok || msg != "test message" {
		t.Errorf("expected msg='test message', got %v", msg)
	}
}

func TestSetFormat_Text(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	SetFormat("text")
	defer SetOutput(nil)

	Info("test message")

	output := buf.String()
	if !strings.Contains(output, "[INFO]") {
		t.Errorf("expected [INFO] in text output: %s", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("expected 'test message' in output: %s", output)
	}
}

func TestJSONLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(string, ...interface{})
		level   string
	}{
		{"debug", Debug, "debug"},
		{"info", Info, "info"},
		{"warn", Warn, "warn"},
		{"error", Error, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetOutput(&buf)
			SetLevel(LevelDebug) // Enable all levels
			SetFormat("json")
			defer func() {
				SetFormat("text")
				SetOutput(nil)
			}()

			tt.logFunc("test")

			var logEntry map[string]interface{}
			if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &logEntry); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}

			if logEntry["level"] != tt.level {
				t.Errorf("expected level=%s, got %v", tt.level, logEntry["level"])
			}
		})
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	SetFormat("text")
	defer SetOutput(nil)

	For("loader").Info("swapped %s", "ORDERS")

	out := buf.String()
	if !strings.Contains(out, "[INFO] [loader] swapped ORDERS") {
		t.Errorf("unexpected text output: %q", out)
	}

	buf.Reset()
	SetFormat("json")
	defer SetFormat("text")
	For("loader").Warn("retrying")

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["component"] != "loader" {
		t.Errorf("expected component=loader, got %v", entry["component"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormat("text")
	SetLevel(LevelWarn)
	defer func() {
		SetLevel(LevelInfo)
		SetOutput(nil)
	}()

	Info("hidden")
	Debug("hidden")
	Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info/debug should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("expected warn message: %q", out)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		n    int
		want string
	}{
		{"nil", nil, 10, ""},
		{"short", errors.New("boom"), 10, "boom"},
		{"cut", errors.New("connection reset by peer"), 10, "connect..."},
		{"newlines flattened", errors.New("a\nb"), 10, "a b"},
		{"no limit", errors.New("abcdef"), 0, "abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.err, tt.n); got != tt.want {
				t.Errorf("Truncate() = %q, want %q", got, tt.want)
			}
		})
	}
}
