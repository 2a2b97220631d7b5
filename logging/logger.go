package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled
// from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the minimal logging interface for TaskMesh.
// This allows users to provide their own logger implementation or use the
// built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// OrNop returns the logger unchanged, or the NoOpLogger when nil. Use it at
// construction boundaries so downstream code never nil-checks.
func OrNop(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

// TaskMeshLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It should be cheap to copy via With* methods.
type TaskMeshLogger struct {
	logger        *slog.Logger
	level         LogLevel
	context       map[string]any
	component     string
	agentID       string
	correlationID string
}

// LoggerConfig configures construction of a TaskMeshLogger.
type LoggerConfig struct {
	Level         LogLevel
	Format        string // json or text
	Output        io.Writer
	AddSource     bool
	Component     string
	AgentID       string
	CorrelationID string
	CustomAttrs   map[string]any
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout, AddSource: true, CustomAttrs: map[string]any{}}
}

// NewLogger builds a TaskMeshLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *TaskMeshLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &TaskMeshLogger{logger: slog.New(handler), level: cfg.Level, context: map[string]any{}, component: cfg.Component, agentID: cfg.AgentID, correlationID: cfg.CorrelationID}
}

// NewSlogLogger creates a new TaskMeshLogger with the specified level, format
// ("json" or "text") and source annotation flag.
func NewSlogLogger(level LogLevel, format string, addSource bool) *TaskMeshLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *TaskMeshLogger) clone() *TaskMeshLogger {
	nl := *l
	nl.context = map[string]any{}
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithContext adds a key/value attribute attached to every log entry.
func (l *TaskMeshLogger) WithContext(key string, value any) *TaskMeshLogger {
	nl := l.clone()
	nl.context[key] = value
	return nl
}

// WithComponent sets the logical component (bus, runtime, collector, etc.).
func (l *TaskMeshLogger) WithComponent(c string) *TaskMeshLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithAgent attaches the agent identifier.
func (l *TaskMeshLogger) WithAgent(agentID string) *TaskMeshLogger {
	nl := l.clone()
	nl.agentID = agentID
	return nl
}

// WithCorrelation attaches the correlation id of the current task chain.
func (l *TaskMeshLogger) WithCorrelation(correlationID string) *TaskMeshLogger {
	nl := l.clone()
	nl.correlationID = correlationID
	return nl
}

func (l *TaskMeshLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.context)+4)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.agentID != "" {
		attrs = append(attrs, slog.String("agent_id", l.agentID))
	}
	if l.correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", l.correlationID))
	}
	attrs = append(attrs, slog.Time("timestamp", time.Now()))
	for k, v := range l.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (l *TaskMeshLogger) log(level slog.Level, allowed bool, msg string, args ...any) {
	if !allowed {
		return
	}
	attrs := l.buildAttrs()
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Debug logs at debug level.
func (l *TaskMeshLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *TaskMeshLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *TaskMeshLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *TaskMeshLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

// ErrorWithStack logs an error plus a runtime stack snapshot.
func (l *TaskMeshLogger) ErrorWithStack(err error, msg string, args ...any) {
	if l.level > LogLevelError {
		return
	}
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("error", err.Error()), slog.String("error_type", fmt.Sprintf("%T", err)))
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	attrs = append(attrs, slog.String("stack_trace", string(stack[:n])))
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// LogHandlerCall records execution details for one handler attempt.
func (l *TaskMeshLogger) LogHandlerCall(taskType string, taskID string, dur time.Duration, success bool, err error) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("task_type", taskType), slog.String("task_id", taskID), slog.Duration("duration", dur), slog.Bool("success", success))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	level := slog.LevelInfo
	msg := "Handler execution completed"
	if !success {
		level = slog.LevelError
		msg = "Handler execution failed"
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogTaskTransition records a task status change as it is persisted.
func (l *TaskMeshLogger) LogTaskTransition(taskID string, from, to string, retries int) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("task_id", taskID), slog.String("from", from), slog.String("to", to), slog.Int("retries", retries))
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "Task transition", attrs...)
}

// LogBusDispatch records one fan-out: subscriber count and total delivery
// time for a topic.
func (l *TaskMeshLogger) LogBusDispatch(topic string, subscribers int, dur time.Duration) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("topic", topic), slog.Int("subscribers", subscribers), slog.Duration("duration", dur))
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "Bus dispatch", attrs...)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *TaskMeshLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Info("operation completed op=%s took=%s", op, time.Since(start)) }
}

// NoOpLogger discards all log messages. Useful for testing or when logging is
// disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
