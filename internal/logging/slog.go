package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config configures the slog-backed logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

// SlogLogger adapts slog to the printf-style Logger contract. Messages are
// formatted before they are emitted; scoping attributes ride on the handler.
type SlogLogger struct {
	logger *slog.Logger
}

// New creates a structured logger from config.
func New(config Config) *SlogLogger {
	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(config.Level)}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return &SlogLogger{logger: slog.New(handler)}
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With adds structured fields to every line emitted by the returned logger.
func (l *SlogLogger) With(args ...any) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

// WithComponent scopes the logger to a named component.
func (l *SlogLogger) WithComponent(component string) *SlogLogger {
	if component == "" {
		return l
	}
	return l.With("component", component)
}

// WithTaskID tags log lines with a task id.
func (l *SlogLogger) WithTaskID(taskID string) *SlogLogger {
	if taskID == "" {
		return l
	}
	return l.With("task_id", taskID)
}

// Slog exposes the underlying slog logger for libraries that want one.
func (l *SlogLogger) Slog() *slog.Logger {
	return l.logger
}

func (l *SlogLogger) Debug(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Info(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Warn(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Error(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
