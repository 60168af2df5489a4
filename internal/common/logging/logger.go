package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

type contextKey string

const (
	correlationKey contextKey = "correlation_id"
	destinationKey contextKey = "destination"
)

// NewDefaultLogger creates a logger with default configuration using zap
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(DefaultLogConfig())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger installs the global logger. An empty file writes to stdout.
// The returned closer releases the log file and must be called on shutdown.
func InitGlobalLogger(level, format, file string) (io.Closer, error) {
	config := LogConfig{
		Level:  ParseLevel(level),
		Format: ParseFormat(format),
	}

	var closer io.Closer = nopCloser{}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", file, err)
		}
		config.Output = f
		closer = f
	}

	logger, err := NewZapLogger(config)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		String("level", config.Level.String()),
		String("format", string(config.Format)),
	)
	return closer, nil
}

// MustSync flushes any buffered log entries for zap loggers
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

// NewCorrelationID returns a fresh request-scoped identifier
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID stores id in ctx for WithContext to pick up
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID returns the correlation ID stored in ctx, if any
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// WithDestination stores the destination name in ctx
func WithDestination(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, destinationKey, name)
}

// WithContext is a convenience function to add context to the global logger
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
