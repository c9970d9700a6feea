package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nyxcrawl/scrapyengine/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	defaultLogger *slog.Logger
	loggerMutex   sync.RWMutex
)

// Init sets up the process-wide slog logger from Settings: JSON handler,
// stdout plus (when LogFile is set) a lumberjack-rotated file.
func Init(s *config.Settings) error {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	level := parseLogLevel(s.LogLevel)
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
					src.File = filepath.Base(src.File)
				}
			}
			return a
		},
	}

	writer, err := createWriter(s.LogFile)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	defaultLogger = slog.New(slog.NewJSONHandler(writer, opts))
	slog.SetDefault(defaultLogger)
	return nil
}

// GetLogger returns the process-wide logger, falling back to slog's
// default if Init hasn't run yet (unit tests, for instance).
func GetLogger() *slog.Logger {
	loggerMutex.RLock()
	defer loggerMutex.RUnlock()
	if defaultLogger == nil {
		return slog.Default()
	}
	return defaultLogger
}

// L returns the logger attached to ctx, or the global default.
func L(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(contextKeyLogger).(*slog.Logger); ok {
			return logger
		}
	}
	return GetLogger()
}

// WithContext returns a new context carrying logger.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKeyLogger, logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func createWriter(path string) (io.Writer, error) {
	if path == "" {
		return os.Stdout, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	fileWriter := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxAge:     14,
		MaxBackups: 5,
		LocalTime:  true,
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, fileWriter), nil
}

// Debug logs at debug level using the logger attached to ctx.
func Debug(ctx context.Context, msg string, args ...any) { L(ctx).Debug(msg, args...) }

// Info logs at info level using the logger attached to ctx.
func Info(ctx context.Context, msg string, args ...any) { L(ctx).Info(msg, args...) }

// Warn logs at warn level using the logger attached to ctx.
func Warn(ctx context.Context, msg string, args ...any) { L(ctx).Warn(msg, args...) }

// Error logs at error level using the logger attached to ctx.
func Error(ctx context.Context, msg string, args ...any) { L(ctx).Error(msg, args...) }
