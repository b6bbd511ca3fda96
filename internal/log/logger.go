package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
)

// Logger provides structured logging with slog
type Logger struct {
	slog    *slog.Logger
	config  Config
	logFile *os.File
}

// New creates a new Logger with the given configuration
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		slog:   slog.New(handler),
		config: config,
	}
}

// Default creates a logger with default configuration
func Default() *Logger {
	return New(DefaultConfig())
}

// NewWithFile creates a logger that writes both to the configured output and
// to a dated log file under logDir. The file always receives JSON records at
// debug level so the on-disk log is complete regardless of console verbosity.
func NewWithFile(config Config, logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //#nosec G304 -- path is project-scoped
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	if config.Output == nil {
		config.Output = os.Stderr
	}

	console := New(config)
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	combined := slog.New(newTeeHandler(console.slog.Handler(), fileHandler))
	return &Logger{slog: combined, config: config, logFile: f}, nil
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// With returns a new Logger with the given attributes added to all log entries
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), config: l.config, logFile: l.logFile}
}

// WithError adds error details to the logger.
// If the error carries a conductor error code, the code and suggestions are included.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	if cerr, ok := err.(*errors.ConductorError); ok {
		args := []any{"error", cerr.Message, "error_code", string(cerr.Code)}
		if cerr.Cause != nil {
			args = append(args, "cause", cerr.Cause.Error())
		}
		if len(cerr.Suggestions) > 0 {
			args = append(args, "suggestions", cerr.Suggestions)
		}
		return l.With(args...)
	}
	return l.With("error", err.Error())
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Writer returns the console output writer
func (l *Logger) Writer() io.Writer { return l.config.Output }
