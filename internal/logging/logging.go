// Package logging provides structured logging with zap.
package logging

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const loggerKey contextKey = "logger"

var (
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init initializes the global logger.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var config zap.Config
	if cfg.Format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	globalLevel.SetLevel(level)
	config.Level = globalLevel
	if cfg.OutputPath != "" {
		config.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	globalLogger = logger
	return nil
}

// InitDefault installs a JSON logger on stderr at the current level. It is
// the fallback when Init cannot build the configured logger.
func InitDefault() {
	config := zap.NewProductionConfig()
	config.Level = globalLevel
	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	globalLogger = logger
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

// L returns the global logger.
func L() *zap.Logger {
	if globalLogger == nil {
		InitDefault()
	}
	return globalLogger
}

// WithContext returns the logger stored in ctx, or fallback when none is set.
func WithContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return L()
}

var operationCounter atomic.Uint64

// WithOperation tags every log line written under ctx with the operation
// name and a process-unique operation number.
func WithOperation(ctx context.Context, base *zap.Logger, op string) context.Context {
	logger := WithContext(ctx, base).With(
		zap.String("op", op),
		zap.Uint64("op_id", operationCounter.Add(1)),
	)
	return context.WithValue(ctx, loggerKey, logger)
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Field helpers for common fields.
func String(key, val string) zap.Field {
	return zap.String(key, val)
}

func Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

func Int64(key string, val int64) zap.Field {
	return zap.Int64(key, val)
}

func Err(err error) zap.Field {
	return zap.Error(err)
}

func Duration(key string, val time.Duration) zap.Field {
	return zap.Duration(key, val)
}

// Path and Strategy name the fields the vault adapter logs most.
func Path(p string) zap.Field {
	return zap.String("path", p)
}

func Strategy(name string) zap.Field {
	return zap.String("strategy", name)
}
