// Package logger provides structured logging with context propagation for the OHLCV pipeline.
// This module builds slog loggers from config.LoggingConfig, with component-scoped
// loggers, run identifiers and size-rotated file output.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johnayoung/ohlcv-hub/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// RunIDKey is the context key for the run identifier
	RunIDKey ContextKey = "run_id"
	// OperationKey is the context key for operation name
	OperationKey ContextKey = "operation"
	// SymbolsKey is the context key for the requested symbols
	SymbolsKey ContextKey = "symbols"
	// TimeframeKey is the context key for the requested timeframe
	TimeframeKey ContextKey = "timeframe"
)

// LoggerManager manages structured logging for the application
type LoggerManager struct {
	baseLogger *slog.Logger
	writer     io.WriteCloser

	mu             sync.Mutex
	componentCache map[string]*slog.Logger
}

// ComponentLogger represents a logger for a specific component
type ComponentLogger struct {
	*slog.Logger
}

// NewLoggerManager creates a new logger manager with the specified configuration
func NewLoggerManager(cfg config.LoggingConfig) (*LoggerManager, error) {
	writer, err := createWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}
	return newManager(cfg, writer), nil
}

// NewLoggerManagerWithWriter creates a logger manager that writes to w,
// ignoring cfg.Output.
func NewLoggerManagerWithWriter(cfg config.LoggingConfig, w io.Writer) *LoggerManager {
	return newManager(cfg, nopWriteCloser{w})
}

func newManager(cfg config.LoggingConfig, writer io.WriteCloser) *LoggerManager {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: strings.EqualFold(cfg.Level, "debug"),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	return &LoggerManager{
		baseLogger:     slog.New(handler),
		writer:         writer,
		componentCache: make(map[string]*slog.Logger),
	}
}

// createWriter creates the appropriate writer based on configuration
func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stdout":
		return nopWriteCloser{os.Stdout}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}

		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}, nil
	default:
		// stdout carries data for piping, so diagnostics default to stderr
		return nopWriteCloser{os.Stderr}, nil
	}
}

// nopWriteCloser wraps an io.Writer to provide a Close method
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// ParseLevel converts string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetComponentLogger returns a logger for the specified component
func (lm *LoggerManager) GetComponentLogger(component string) *ComponentLogger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if cached, exists := lm.componentCache[component]; exists {
		return &ComponentLogger{Logger: cached}
	}

	componentLogger := lm.baseLogger.With(slog.String("component", component))
	lm.componentCache[component] = componentLogger

	return &ComponentLogger{Logger: componentLogger}
}

// Close closes the logger and any associated resources
func (lm *LoggerManager) Close() error {
	if lm.writer != nil {
		return lm.writer.Close()
	}
	return nil
}

// extractContextAttributes extracts logging attributes from context
func extractContextAttributes(ctx context.Context) []any {
	var attrs []any

	if runID := GetRunID(ctx); runID != "" {
		attrs = append(attrs, slog.String(string(RunIDKey), runID))
	}

	if operation, ok := ctx.Value(OperationKey).(string); ok && operation != "" {
		attrs = append(attrs, slog.String(string(OperationKey), operation))
	}

	if symbols, ok := ctx.Value(SymbolsKey).([]string); ok && len(symbols) > 0 {
		attrs = append(attrs, slog.String(string(SymbolsKey), strings.Join(symbols, ",")))
	}

	if timeframe, ok := ctx.Value(TimeframeKey).(string); ok && timeframe != "" {
		attrs = append(attrs, slog.String(string(TimeframeKey), timeframe))
	}

	return attrs
}

// NewRunID returns a fresh identifier for one CLI invocation.
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithOperation adds an operation name to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

// WithSymbols adds the requested symbols to the context
func WithSymbols(ctx context.Context, symbols []string) context.Context {
	return context.WithValue(ctx, SymbolsKey, append([]string(nil), symbols...))
}

// WithTimeframe adds the requested timeframe to the context
func WithTimeframe(ctx context.Context, timeframe string) context.Context {
	return context.WithValue(ctx, TimeframeKey, timeframe)
}

// GetRunID extracts the run ID from context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// WithContext returns the component logger with the context's run
// attributes attached, for handing to components that log without a context.
func (cl *ComponentLogger) WithContext(ctx context.Context) *slog.Logger {
	attrs := extractContextAttributes(ctx)
	if len(attrs) == 0 {
		return cl.Logger
	}
	return cl.With(attrs...)
}

// InfoWithContext logs info with full context information
func (cl *ComponentLogger) InfoWithContext(ctx context.Context, msg string, args ...any) {
	attrs := extractContextAttributes(ctx)
	attrs = append(attrs, args...)
	cl.Info(msg, attrs...)
}

// ErrorWithContext logs an error with full context information
func (cl *ComponentLogger) ErrorWithContext(ctx context.Context, msg string, err error, args ...any) {
	attrs := extractContextAttributes(ctx)
	attrs = append(attrs, slog.Any("error", err))
	attrs = append(attrs, args...)
	cl.Error(msg, attrs...)
}

// TimedOperation runs fn and logs its outcome with the elapsed time.
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	attrs := extractContextAttributes(ctx)
	attrs = append(attrs, slog.String("operation", operation), slog.Duration("duration", duration))

	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
		logger.Error("operation failed", attrs...)
		return err
	}

	logger.Info("operation completed", attrs...)
	return nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
