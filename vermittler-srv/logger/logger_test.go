package logger

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"
)

// captureOutput captures log output produced by f
func captureOutput(f func()) string {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	f()
	return buf.String()
}

func TestSetLevel(t *testing.T) {
	originalLevel := GetLevel()
	defer SetLevel(originalLevel)

	for _, level := range []LogLevel{TRACE, DEBUG, INFO, WARN, ERROR, FATAL} {
		t.Run(level.String(), func(t *testing.T) {
			SetLevel(level)
			if GetLevel() != level {
				t.Errorf("SetLevel() = %v, want %v", GetLevel(), level)
			}
		})
	}
}

func TestGetLevelFromString(t *testing.T) {
	tests := []struct {
		name          string
		levelStr      string
		expectedLevel LogLevel
	}{
		{"trace level", "TRACE", TRACE},
		{"debug level", "DEBUG", DEBUG},
		{"info level", "INFO", INFO},
		{"warn level", "WARN", WARN},
		{"warning alias", "warning", WARN},
		{"error level", "ERROR", ERROR},
		{"fatal level", "FATAL", FATAL},
		{"lowercase debug", "debug", DEBUG},
		{"padded", "  error ", ERROR},
		{"unknown level", "UNKNOWN", INFO},
		{"empty string", "", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetLevelFromString(tt.levelStr); got != tt.expectedLevel {
				t.Errorf("GetLevelFromString(%q) = %v, want %v", tt.levelStr, got, tt.expectedLevel)
			}
		})
	}
}

func TestLogLevelFiltering(t *testing.T) {
	tests := []struct {
		name            string
		currentLevel    LogLevel
		logFunc         func(string, ...any)
		shouldBePrinted bool
	}{
		{"trace with trace level", TRACE, Trace, true},
		{"trace with debug level", DEBUG, Trace, false},
		{"debug with debug level", DEBUG, Debug, true},
		{"debug with info level", INFO, Debug, false},
		{"info with info level", INFO, Info, true},
		{"info with warn level", WARN, Info, false},
		{"warn with warn level", WARN, Warn, true},
		{"warn with error level", ERROR, Warn, false},
		{"error with error level", ERROR, Error, true},
	}

	originalLevel := GetLevel()
	defer SetLevel(originalLevel)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLevel(tt.currentLevel)
			output := captureOutput(func() {
				tt.logFunc("test message")
			})

			if tt.shouldBePrinted && output == "" {
				t.Errorf("Expected log output but got none with current level %s", tt.currentLevel)
			}
			if !tt.shouldBePrinted && output != "" {
				t.Errorf("Expected no log output but got %q with current level %s", output, tt.currentLevel)
			}
		})
	}
}

func TestLogFormatting(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(string, ...any)
		level   string
		format  string
		args    []any
	}{
		{"debug with no args", Debug, "DEBUG", "simple message", nil},
		{"info with string arg", Info, "INFO", "message with %s", []any{"argument"}},
		{"warn with multiple args", Warn, "WARN", "message with %s and %d", []any{"string", 42}},
		{"error with error arg", Error, "ERROR", "error: %v, code: %d", []any{fmt.Errorf("test error"), 502}},
	}

	originalLevel := GetLevel()
	defer SetLevel(originalLevel)
	SetLevel(DEBUG)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := captureOutput(func() {
				tt.logFunc(tt.format, tt.args...)
			})

			if !strings.Contains(output, "["+tt.level+"]") {
				t.Errorf("Output does not contain level %s. Got: %s", tt.level, output)
			}
			expectedContent := fmt.Sprintf(tt.format, tt.args...)
			if !strings.Contains(output, expectedContent) {
				t.Errorf("Output does not contain %q. Got: %s", expectedContent, output)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	if LogLevel(42).String() != "UNKNOWN" {
		t.Errorf("expected UNKNOWN for out-of-range level, got %s", LogLevel(42))
	}
	if FATAL.String() != "FATAL" {
		t.Errorf("expected FATAL, got %s", FATAL)
	}
}

func TestWithRequestID(t *testing.T) {
	tests := []struct {
		name           string
		requestID      string
		format         string
		args           []any
		expectedOutput string
	}{
		{"with request ID", "12345", "Test message %s", []any{"arg"}, "[12345] Test message arg"},
		{"empty request ID", "", "Test message %s", []any{"arg"}, "[] Test message arg"},
		{"multiple format args", "12345", "Test %s %d %s", []any{"message", 42, "args"}, "[12345] Test message 42 args"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := WithRequestID(tt.requestID, tt.format, tt.args...)
			if output != tt.expectedOutput {
				t.Errorf("WithRequestID() = %q, want %q", output, tt.expectedOutput)
			}
		})
	}
}

func TestStdLogger(t *testing.T) {
	originalLevel := GetLevel()
	defer SetLevel(originalLevel)
	SetLevel(INFO)

	output := captureOutput(func() {
		StdLogger(WARN).Printf("http: TLS handshake error from %s", "127.0.0.1:1234")
		StdLogger(DEBUG).Print("suppressed")
	})

	if !strings.Contains(output, "[WARN] http: TLS handshake error from 127.0.0.1:1234\n") {
		t.Errorf("expected warn line without doubled newline, got %q", output)
	}
	if strings.Contains(output, "suppressed") {
		t.Errorf("debug line should be filtered at info level, got %q", output)
	}
}
