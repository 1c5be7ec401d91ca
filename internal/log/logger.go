package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"dify2ollama/internal/core"
)

// AppLogger adapts a logrus logger to the printf-style core.Logger.
type AppLogger struct {
	entry      *logrus.Entry
	fileHandle *os.File
	mu         sync.Mutex
}

// NewAppLoggerWithConfig creates a logger that writes text records to output.
func NewAppLoggerWithConfig(output io.Writer, debugMode bool) *AppLogger {
	return &AppLogger{entry: logrus.NewEntry(newLogrus(output, debugMode))}
}

func newLogrus(output io.Writer, debugMode bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(output)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: core.TimeFormatDateTime,
		DisableColors:   true,
	})
	if debugMode {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// WithField returns a child logger that tags every record with key=value.
func (l *AppLogger) WithField(key string, value any) *AppLogger {
	if l == nil {
		return nil
	}
	return &AppLogger{entry: l.entry.WithField(key, value)}
}

// Debug logs a message at DEBUG level.
func (l *AppLogger) Debug(format string, args ...any) {
	if l != nil {
		l.entry.Debugf(format, args...)
	}
}

// Info logs a message at INFO level.
func (l *AppLogger) Info(format string, args ...any) {
	if l != nil {
		l.entry.Infof(format, args...)
	}
}

// Warn logs a message at WARN level.
func (l *AppLogger) Warn(format string, args ...any) {
	if l != nil {
		l.entry.Warnf(format, args...)
	}
}

// Error logs a message at ERROR level.
func (l *AppLogger) Error(format string, args ...any) {
	if l != nil {
		l.entry.Errorf(format, args...)
	}
}

// Fatal logs a message at FATAL level and terminates the process.
func (l *AppLogger) Fatal(format string, args ...any) {
	if l != nil {
		l.entry.Fatalf(format, args...)
		return
	}
	logrus.Fatalf(format, args...)
}

// Close releases the debug file handle, if any.
func (l *AppLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileHandle != nil {
		err := l.fileHandle.Close()
		l.fileHandle = nil
		return err
	}
	return nil
}

func containsPathTraversal(path string) bool {
	return strings.Contains(path, "..")
}

// openDebugFile resolves DEBUG_FILE into a writer, falling back to stdout.
// The returned warning is non-empty when the fallback was taken.
func openDebugFile(path string) (io.Writer, *os.File, string) {
	if path == "" {
		return os.Stdout, nil, ""
	}
	if len(path) > core.MaxDebugFilePathLength {
		return os.Stdout, nil, "DEBUG_FILE path too long, falling back to stdout"
	}
	if containsPathTraversal(path) {
		return os.Stdout, nil, "DEBUG_FILE contains path traversal characters, falling back to stdout"
	}

	//nolint:gosec // G304: path from env var, checked by containsPathTraversal
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, core.FilePermissionReadWrite)
	if err != nil {
		return os.Stdout, nil, fmt.Sprintf("Failed to open DEBUG_FILE '%s': %v, falling back to stdout", path, err)
	}
	return file, file, ""
}

// IsDebug returns whether the app is running in debug mode.
func IsDebug() bool {
	return os.Getenv("GIN_MODE") == "debug"
}

// CreateLogger builds the process logger from GIN_MODE and DEBUG_FILE.
func CreateLogger() *AppLogger {
	output, fileHandle, warning := openDebugFile(os.Getenv("DEBUG_FILE"))
	logger := &AppLogger{
		entry:      logrus.NewEntry(newLogrus(output, IsDebug())),
		fileHandle: fileHandle,
	}
	if warning != "" {
		logger.Warn("%s", warning)
	}
	return logger
}

var _ core.Logger = (*AppLogger)(nil)
