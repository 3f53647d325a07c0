package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

// ConsoleLogger writes human-readable lines, usually to stderr.
type ConsoleLogger struct {
	mu               *sync.Mutex
	writer           io.Writer
	level            LogLevel
	traceID          string
	colorEnabled     bool
	timestampEnabled bool
	redactSensitive  bool
}

type ConsoleLoggerConfig struct {
	Writer           io.Writer
	Level            LogLevel
	ColorEnabled     bool
	TimestampEnabled bool
	RedactSensitive  bool
}

func NewConsoleLogger(config ConsoleLoggerConfig) *ConsoleLogger {
	if config.Writer == nil {
		config.Writer = os.Stderr
	}
	return &ConsoleLogger{
		mu:               &sync.Mutex{},
		writer:           config.Writer,
		level:            config.Level,
		colorEnabled:     config.ColorEnabled,
		timestampEnabled: config.TimestampEnabled,
		redactSensitive:  config.RedactSensitive,
	}
}

var (
	bearerTokenPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	tokenFieldPattern  = regexp.MustCompile(`(access_token|refresh_token|id_token|session_token|client_secret)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`)
	authHeaderPattern  = regexp.MustCompile(`(?i)authorization["']?\s*[:=]\s*["']?[^\s"']+`)
)

func redactSensitiveData(s string) string {
	s = bearerTokenPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	s = tokenFieldPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = authHeaderPattern.ReplaceAllString(s, "Authorization: [REDACTED]")
	return s
}

func levelColor(level LogLevel) string {
	switch level {
	case DEBUG:
		return colorBlue
	case WARN:
		return colorYellow
	case ERROR:
		return colorRed
	default:
		return colorReset
	}
}

func (l *ConsoleLogger) paint(sb *strings.Builder, color, text string) {
	if l.colorEnabled {
		sb.WriteString(color)
		sb.WriteString(text)
		sb.WriteString(colorReset)
		return
	}
	sb.WriteString(text)
}

func (l *ConsoleLogger) formatMessage(level LogLevel, msg string, fields ...Field) string {
	var sb strings.Builder

	if l.timestampEnabled {
		l.paint(&sb, colorGray, time.Now().Format("2006-01-02 15:04:05"))
		sb.WriteString(" ")
	}

	l.paint(&sb, levelColor(level), fmt.Sprintf("%-5s", level.String()))
	sb.WriteString(" ")

	if l.traceID != "" {
		short := l.traceID
		if len(short) > 8 {
			short = short[:8]
		}
		l.paint(&sb, colorGray, "["+short+"]")
		sb.WriteString(" ")
	}

	if l.redactSensitive {
		msg = redactSensitiveData(msg)
	}
	sb.WriteString(msg)

	for i, field := range fields {
		if i == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		value := fmt.Sprintf("%v", field.Value)
		if l.redactSensitive {
			value = redactSensitiveData(value)
		}
		sb.WriteString(field.Key)
		sb.WriteString("=")
		sb.WriteString(value)
	}

	return sb.String()
}

func (l *ConsoleLogger) log(level LogLevel, msg string, fields ...Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	_, _ = fmt.Fprintln(l.writer, l.formatMessage(level, msg, fields...))
}

func (l *ConsoleLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields...) }
func (l *ConsoleLogger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields...) }
func (l *ConsoleLogger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields...) }
func (l *ConsoleLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields...) }

// WithTraceID returns a logger sharing this one's writer and lock.
func (l *ConsoleLogger) WithTraceID(traceID string) Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	clone := *l
	clone.traceID = traceID
	return &clone
}

func (l *ConsoleLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return l
	}
	return l.WithTraceID(traceID)
}

func (l *ConsoleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *ConsoleLogger) Close() error {
	return nil
}
