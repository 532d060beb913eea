package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	// TRACE level for byte-level relay diagnostics
	TRACE LogLevel = iota
	// DEBUG level for per-request troubleshooting information
	DEBUG
	// INFO level for listener lifecycle and reloads
	INFO
	// WARN level for failed requests that do not affect the listener
	WARN
	// ERROR level for failed listeners and backends
	ERROR
	// FATAL level for errors that stop the process
	FATAL
)

// EnvLevel names the environment variable that sets the initial level.
const EnvLevel = "VERMITTLER_LOG_LEVEL"

var levelNames = [...]string{
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var (
	currentLevel atomic.Int32
	stdLogger    = log.New(os.Stdout, "", log.LstdFlags)
)

func init() {
	level := INFO
	if env := os.Getenv(EnvLevel); env != "" {
		level = GetLevelFromString(env)
	}
	currentLevel.Store(int32(level))
}

// SetLevel sets the current logging level
func SetLevel(level LogLevel) {
	currentLevel.Store(int32(level))
}

// GetLevel returns the current logging level
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	stdLogger.SetOutput(w)
}

func IsLevelEnabled(level LogLevel) bool {
	return level >= GetLevel()
}

// GetLevelFromString converts a level name to a LogLevel. Unknown names
// yield INFO.
func GetLevelFromString(level string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(level))
	if name == "WARNING" {
		return WARN
	}
	for l, n := range levelNames {
		if n == name {
			return LogLevel(l)
		}
	}
	return INFO
}

func (l LogLevel) String() string {
	if l < TRACE || l > FATAL {
		return "UNKNOWN"
	}
	return levelNames[l]
}

func logMessage(level LogLevel, format string, v ...any) {
	if !IsLevelEnabled(level) {
		return
	}
	stdLogger.Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

// Trace logs a trace message
// Arguments are handled in the manner of [fmt.Printf].
func Trace(format string, v ...any) {
	logMessage(TRACE, format, v...)
}

// Debug logs a debug message
func Debug(format string, v ...any) {
	logMessage(DEBUG, format, v...)
}

// Info logs an informational message
func Info(format string, v ...any) {
	logMessage(INFO, format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...any) {
	logMessage(WARN, format, v...)
}

// Error logs an error message
func Error(format string, v ...any) {
	logMessage(ERROR, format, v...)
}

// Fatal logs a fatal message and exits
func Fatal(format string, v ...any) {
	logMessage(FATAL, format, v...)
	os.Exit(1)
}

// WithRequestID prefixes a formatted message with a request ID.
// Arguments are handled in the manner of [fmt.Printf].
func WithRequestID(requestID, format string, v ...any) string {
	return fmt.Sprintf("[%s] %s", requestID, fmt.Sprintf(format, v...))
}

// StdLogger returns a *log.Logger whose lines are logged at level. It is
// meant for the ErrorLog fields of net/http.
func StdLogger(level LogLevel) *log.Logger {
	return log.New(levelWriter{level: level}, "", 0)
}

type levelWriter struct {
	level LogLevel
}

func (w levelWriter) Write(p []byte) (int, error) {
	logMessage(w.level, "%s", strings.TrimRight(string(p), "\r\n"))
	return len(p), nil
}
