package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileSink is shared between a FileLogger and the loggers derived from it,
// so rotation state stays consistent across trace-scoped copies.
type fileSink struct {
	mu            sync.Mutex
	file          *os.File
	filePath      string
	maxFileSize   int64
	currentSize   int64
	rotateEnabled bool
}

// FileLogger writes one JSON LogEntry per line.
type FileLogger struct {
	sink    *fileSink
	levelMu *sync.RWMutex
	level   *LogLevel
	traceID string
}

type FileLoggerConfig struct {
	FilePath      string
	Level         LogLevel
	MaxFileSize   int64 // bytes; 0 disables rotation
	RotateEnabled bool
}

func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		if closeErr := file.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close log file after stat error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	level := config.Level
	return &FileLogger{
		sink: &fileSink{
			file:          file,
			filePath:      config.FilePath,
			maxFileSize:   config.MaxFileSize,
			currentSize:   info.Size(),
			rotateEnabled: config.RotateEnabled && config.MaxFileSize > 0,
		},
		levelMu: &sync.RWMutex{},
		level:   &level,
	}, nil
}

func (l *FileLogger) enabled(level LogLevel) bool {
	l.levelMu.RLock()
	defer l.levelMu.RUnlock()
	return level >= *l.level
}

func (l *FileLogger) log(level LogLevel, msg string, fields ...Field) {
	if !l.enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   msg,
		TraceID:   l.traceID,
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields))
		for _, field := range fields {
			if err, ok := field.Value.(error); ok {
				entry.Fields[field.Key] = err.Error()
				continue
			}
			entry.Fields[field.Key] = field.Value
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}
	l.sink.write(append(data, '\n'))
}

func (s *fileSink) write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return
	}
	if s.rotateEnabled && s.currentSize >= s.maxFileSize {
		if err := s.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to rotate log file: %v\n", err)
		}
	}

	n, err := s.file.Write(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
		return
	}
	s.currentSize += int64(n)
}

// rotate renames the current file with a UTC timestamp suffix and reopens.
func (s *fileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	rotatedPath := fmt.Sprintf("%s.%s", s.filePath, time.Now().UTC().Format("20060102-150405.000"))
	renameErr := os.Rename(s.filePath, rotatedPath)

	file, err := os.OpenFile(s.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		s.file = nil
		return fmt.Errorf("failed to reopen log file: %w", err)
	}
	s.file = file
	if renameErr != nil {
		return fmt.Errorf("failed to rename log file: %w", renameErr)
	}
	s.currentSize = 0
	return nil
}

func (l *FileLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields...) }
func (l *FileLogger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields...) }
func (l *FileLogger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields...) }
func (l *FileLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields...) }

func (l *FileLogger) WithTraceID(traceID string) Logger {
	return &FileLogger{
		sink:    l.sink,
		levelMu: l.levelMu,
		level:   l.level,
		traceID: traceID,
	}
}

func (l *FileLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return l
	}
	return l.WithTraceID(traceID)
}

func (l *FileLogger) SetLevel(level LogLevel) {
	l.levelMu.Lock()
	defer l.levelMu.Unlock()
	*l.level = level
}

// Close closes the underlying file. Loggers derived via WithTraceID share it.
func (l *FileLogger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}
