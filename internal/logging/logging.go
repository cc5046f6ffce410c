package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents logging verbosity level
type Level int

const (
	// LevelError only logs errors
	LevelError Level = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs info, warnings, and errors (default)
	LevelInfo
	// LevelDebug logs everything including debug messages
	LevelDebug
)

// DefaultTruncate is the maximum length of error text written to the log.
const DefaultTruncate = 512

// sink holds the shared output state. Component loggers write through it so
// level, format and destination changes apply to all of them.
type sink struct {
	mu     sync.Mutex
	level  Level
	format string
	output io.Writer
}

// Logger writes leveled messages tagged with an optional component name.
type Logger struct {
	component string
	sink      *sink
}

var (
	shared = &sink{
		level:  LevelInfo,
		format: "text",
		output: os.Stdout,
	}
	defaultLogger = &Logger{sink: shared}
)

// ParseLevel converts a string to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("unknown verbosity level: %s (valid: debug, info, warn, error)", s)
	}
}

// String returns the string representation of a level
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	shared.level = level
}

// SetOutput sets the output destination for logging. A nil writer restores stdout.
func SetOutput(w io.Writer) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	shared.output = w
}

// SetFormat selects "text" (default) or "json" output.
func SetFormat(format string) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if strings.EqualFold(format, "json") {
		shared.format = "json"
		return
	}
	shared.format = "text"
}

// GetLevel returns the current log level
func GetLevel() Level {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	return shared.level
}

// For returns a logger whose lines are tagged with component.
func For(component string) *Logger {
	return &Logger{component: component, sink: shared}
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	defaultLogger.log(LevelDebug, format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	defaultLogger.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	defaultLogger.log(LevelWarn, format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	defaultLogger.log(LevelError, format, args...)
}

// Print always prints regardless of level (for progress bars, summaries)
func Print(format string, args ...interface{}) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	fmt.Fprintf(shared.output, format, args...)
}

// Println always prints with newline regardless of level
func Println(args ...interface{}) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	fmt.Fprintln(shared.output, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }

func (l *Logger) log(level Level, format string, args ...interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level > s.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	now := time.Now()

	if s.format == "json" {
		entry := map[string]string{
			"ts":    now.Format(time.RFC3339Nano),
			"level": strings.ToLower(level.String()),
			"msg":   strings.TrimSpace(msg),
		}
		if l.component != "" {
			entry["component"] = l.component
		}
		b, err := json.Marshal(entry)
		if err != nil {
			return
		}
		s.output.Write(append(b, '\n'))
		return
	}

	if strings.HasPrefix(msg, "\n") {
		// Handle leading newlines (preserve blank line formatting)
		msg = strings.TrimPrefix(msg, "\n")
		fmt.Fprint(s.output, "\n")
	}
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	timestamp := now.Format("2006-01-02 15:04:05")
	if l.component != "" {
		fmt.Fprintf(s.output, "%s [%s] [%s] %s", timestamp, level.String(), l.component, msg)
		return
	}
	fmt.Fprintf(s.output, "%s [%s] %s", timestamp, level.String(), msg)
}

// Truncate shortens err's text to at most n runes, marking the cut with "...".
func Truncate(err error, n int) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	r := []rune(msg)
	if n <= 0 || len(r) <= n {
		return msg
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// IsDebug returns true if debug level is enabled
func IsDebug() bool {
	return GetLevel() >= LevelDebug
}

// IsInfo returns true if info level is enabled
func IsInfo() bool {
	return GetLevel() >= LevelInfo
}
