// Package logging provides a shared Zap logger with configurable log levels.
//
// Loggers write to stderr. Stdout is reserved for the pipe transport.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogLevel is the environment variable read by NewLogger.
const EnvLogLevel = "LOG_LEVEL"

// NewLogger creates a new Zap SugaredLogger with the specified component name.
// It reads the LOG_LEVEL environment variable to set the log level.
// Valid levels: debug, info, warn, error (case-insensitive).
// Defaults to info if not set or invalid.
func NewLogger(component string) *zap.SugaredLogger {
	return NewLoggerWithLevel(component, parseLogLevel(os.Getenv(EnvLogLevel)))
}

// NewLoggerWithLevel creates a logger with an explicit, fixed level.
func NewLoggerWithLevel(component string, level zapcore.Level) *zap.SugaredLogger {
	return build(component, zap.NewAtomicLevelAt(level))
}

// NewAtomicLogger creates a logger whose level can be changed at runtime
// through the returned AtomicLevel.
func NewAtomicLogger(component, level string) (*zap.SugaredLogger, zap.AtomicLevel) {
	atom := zap.NewAtomicLevelAt(parseLogLevel(level))
	return build(component, atom), atom
}

func build(component string, level zap.AtomicLevel) *zap.SugaredLogger {
	config := zap.Config{
		Level:            level,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    buildEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to a basic logger if config fails
		logger, _ = zap.NewProduction()
	}

	return logger.Named(component).Sugar()
}

// ParseLogLevel converts a string log level to zapcore.Level.
func ParseLogLevel(levelStr string) zapcore.Level {
	return parseLogLevel(levelStr)
}

func parseLogLevel(levelStr string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func buildEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
