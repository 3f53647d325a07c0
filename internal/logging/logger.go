package logging

import (
	"context"
	"time"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps the config log level names onto a LogLevel.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return DEBUG
	case "verbose":
		return DEBUG
	case "quiet", "error":
		return ERROR
	case "warn":
		return WARN
	default:
		return INFO
	}
}

// Logger is implemented by every sink in this package.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithTraceID(traceID string) Logger
	WithContext(ctx context.Context) Logger
	SetLevel(level LogLevel)
	Close() error
}

// Field is a structured key/value attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// LogEntry is the JSON shape written by FileLogger.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"traceId,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

type traceIDKey struct{}

// ContextWithTraceID stores a trace ID on ctx.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the trace ID stored by ContextWithTraceID, or "".
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}
