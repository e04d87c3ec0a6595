package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger wraps zerolog.Logger with a fixed component field and
// slog-style key/value arguments
type Logger struct {
	zl        zerolog.Logger
	component string
}

// NewConsole creates a human-readable logger on w, used by the CLI
func NewConsole(w io.Writer, component string, level LogLevel) *Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: true}
	return New(cw, component, level)
}

// New creates a JSON logger writing to w
func New(w io.Writer, component string, level LogLevel) *Logger {
	zl := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()

	return &Logger{zl: zl, component: component}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// ParseLevel maps a LogLevel to its zerolog level, defaulting to info
func ParseLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns the component name attached to every entry
func (l *Logger) Component() string {
	return l.component
}

// WithComponent creates a logger with a different component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		zl:        l.zl.With().Str("component", component).Logger(),
		component: component,
	}
}

// WithTask creates a logger carrying a task identifier
func (l *Logger) WithTask(taskID string) *Logger {
	return &Logger{
		zl:        l.zl.With().Str("task_id", taskID).Logger(),
		component: l.component,
	}
}

// Debug logs a debug message with key/value pairs
func (l *Logger) Debug(msg string, args ...any) {
	l.emit(l.zl.Debug(), msg, args)
}

// Info logs an info message with key/value pairs
func (l *Logger) Info(msg string, args ...any) {
	l.emit(l.zl.Info(), msg, args)
}

// Warn logs a warning message with key/value pairs
func (l *Logger) Warn(msg string, args ...any) {
	l.emit(l.zl.Warn(), msg, args)
}

// Error logs an error message with key/value pairs
func (l *Logger) Error(msg string, args ...any) {
	l.emit(l.zl.Error(), msg, args)
}

// LogError logs a failed operation with context
func (l *Logger) LogError(operation string, err error, context ...any) {
	args := append([]any{"operation", operation, "error", err.Error()}, context...)
	l.Error("operation failed", args...)
}

func (l *Logger) emit(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	if len(args)%2 != 0 {
		args = append(args, "(MISSING)")
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "!BADKEY"
		}
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case time.Duration:
			e = e.Str(key, v.String())
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
