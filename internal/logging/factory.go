package logging

import "os"

// LogConfig selects and configures the sinks built by NewLogger.
type LogConfig struct {
	Level           LogLevel
	OutputFile      string
	EnableConsole   bool
	RedactSensitive bool
	EnableColor     bool
	EnableTimestamp bool
	MaxFileSize     int64
}

// DefaultLogConfig returns console logging at INFO with redaction on.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:           INFO,
		EnableConsole:   true,
		RedactSensitive: true,
		EnableColor:     true,
		EnableTimestamp: true,
		MaxFileSize:     100 * 1024 * 1024,
	}
}

// NewLogger returns a ConsoleLogger, FileLogger, MultiLogger or NoOpLogger
// depending on which sinks cfg enables.
func NewLogger(cfg LogConfig) (Logger, error) {
	var loggers []Logger

	if cfg.OutputFile != "" {
		fileLogger, err := NewFileLogger(FileLoggerConfig{
			FilePath:      cfg.OutputFile,
			Level:         cfg.Level,
			MaxFileSize:   cfg.MaxFileSize,
			RotateEnabled: cfg.MaxFileSize > 0,
		})
		if err != nil {
			return nil, err
		}
		loggers = append(loggers, fileLogger)
	}

	if cfg.EnableConsole {
		loggers = append(loggers, NewConsoleLogger(ConsoleLoggerConfig{
			Writer:           os.Stderr,
			Level:            cfg.Level,
			ColorEnabled:     cfg.EnableColor,
			TimestampEnabled: cfg.EnableTimestamp,
			RedactSensitive:  cfg.RedactSensitive,
		}))
	}

	switch len(loggers) {
	case 0:
		return NewNoOpLogger(), nil
	case 1:
		return loggers[0], nil
	default:
		return NewMultiLogger(loggers...), nil
	}
}
