package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var (
	globalLevel = slog.LevelInfo
	levelMutex  sync.RWMutex
)

// SetLevel sets the global log level
func SetLevel(levelStr string) {
	level := ParseLevel(levelStr)
	levelMutex.Lock()
	defer levelMutex.Unlock()
	globalLevel = level
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	levelMutex.RLock()
	defer levelMutex.RUnlock()

	switch globalLevel {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a string to an slog level
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// customHandler supports multiple outputs with level filtering
type customHandler struct {
	outs []io.Writer // Can write to multiple outputs (stdout, file, etc.)
	mu   sync.Mutex
}

// Handle implements slog.Handler
func (h *customHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Check if we should log this level
	levelMutex.RLock()
	if record.Level < globalLevel {
		levelMutex.RUnlock()
		return nil
	}
	levelMutex.RUnlock()

	// Format the log message
	timestamp := record.Time.Format("15:04:05.000")
	levelStr := record.Level.String()
	message := record.Message

	// Add attributes to message if any
	var attrs []string
	record.Attrs(func(a slog.Attr) bool {
		if a.Key != "time" && a.Key != "level" && a.Key != "msg" {
			attrs = append(attrs, a.Key+"="+a.Value.String())
		}
		return true
	})

	if len(attrs) > 0 {
		message = message + " " + strings.Join(attrs, " ")
	}

	formattedLog := "[" + timestamp + "] [" + strings.ToUpper(levelStr) + "] " + message + "\n"
	for _, out := range h.outs {
		if out != nil {
			_, _ = out.Write([]byte(formattedLog))
		}
	}

	return nil
}

// WithAttrs implements slog.Handler
func (h *customHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler
func (h *customHandler) WithGroup(name string) slog.Handler {
	return h
}

// Enabled implements slog.Handler
func (h *customHandler) Enabled(ctx context.Context, level slog.Level) bool {
	levelMutex.RLock()
	defer levelMutex.RUnlock()
	return level >= globalLevel
}

// InitLogger initializes the global logger with one or more output writers
func InitLogger(outputs ...io.Writer) {
	handler := &customHandler{
		outs: outputs,
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// Convenience functions that use the default logger
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}
