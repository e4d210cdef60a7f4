// Package logging provides the structured logger used across the cache
// engine: JSON entries written asynchronously, with correlation IDs carried
// in context so a single Set or flush can be traced end to end.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogLevel represents the severity of a log entry.
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

type contextKey string

// CorrelationIDKey is the context key under which a correlation ID travels.
const CorrelationIDKey contextKey = "correlation_id"

// Entry is the JSON shape of a single log line.
type Entry struct {
	Timestamp     time.Time      `json:"@timestamp"`
	Level         string         `json:"level"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CacheID       string         `json:"cache_id,omitempty"`
	Component     string         `json:"component,omitempty"`
	Action        string         `json:"action,omitempty"`
	Duration      *int64         `json:"duration_ms,omitempty"`
	Error         string         `json:"error,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Logger writes structured entries through a buffered channel so callers
// never block on log I/O.
type Logger struct {
	level   LogLevel
	cacheID string
	writers []io.Writer
	mu      sync.RWMutex
	logChan chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
}

// Config for logger construction.
type Config struct {
	Level         LogLevel
	CacheID       string
	LogFile       string
	EnableConsole bool
	EnableFile    bool
	BufferSize    int
}

// NewLogger creates a structured logger and starts its writer goroutine.
func NewLogger(config Config) *Logger {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}

	logger := &Logger{
		level:   config.Level,
		cacheID: config.CacheID,
		writers: make([]io.Writer, 0),
		logChan: make(chan Entry, config.BufferSize),
		done:    make(chan struct{}),
	}

	if config.EnableConsole {
		logger.writers = append(logger.writers, os.Stdout)
	}

	if config.EnableFile && config.LogFile != "" {
		if file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			logger.writers = append(logger.writers, file)
		} else {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", config.LogFile, err)
		}
	}

	logger.wg.Add(1)
	go logger.processEntries()

	return logger
}

func (l *Logger) processEntries() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.logChan:
			l.writeEntry(entry)
		case <-l.done:
			// Flush whatever is still queued before exiting.
			for {
				select {
				case entry := <-l.logChan:
					l.writeEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, writer := range l.writers {
		writer.Write(data)
		writer.Write([]byte("\n"))
	}
}

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// NewCorrelationID generates a fresh correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}

// GetCorrelationID retrieves the correlation ID from ctx, or "".
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

func (l *Logger) log(ctx context.Context, level LogLevel, component, action, message string, fields map[string]any, err error, duration *time.Duration) {
	if level < l.level {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   message,
		CacheID:   l.cacheID,
		Component: component,
		Action:    action,
		Fields:    fields,
	}

	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		entry.CorrelationID = correlationID
	}

	if err != nil {
		entry.Error = err.Error()
	}

	if duration != nil {
		durationMs := duration.Milliseconds()
		entry.Duration = &durationMs
	}

	// Non-blocking send; fall back to a direct write when the buffer is full.
	select {
	case l.logChan <- entry:
	default:
		l.writeEntry(entry)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(ctx context.Context, component, action, message string, fields ...map[string]any) {
	l.log(ctx, DEBUG, component, action, message, first(fields), nil, nil)
}

// Info logs an info message.
func (l *Logger) Info(ctx context.Context, component, action, message string, fields ...map[string]any) {
	l.log(ctx, INFO, component, action, message, first(fields), nil, nil)
}

// Warn logs a warning message.
func (l *Logger) Warn(ctx context.Context, component, action, message string, fields ...map[string]any) {
	l.log(ctx, WARN, component, action, message, first(fields), nil, nil)
}

// Error logs an error message.
func (l *Logger) Error(ctx context.Context, component, action, message string, err error, fields ...map[string]any) {
	l.log(ctx, ERROR, component, action, message, first(fields), err, nil)
}

// WithDuration logs with timing information.
func (l *Logger) WithDuration(ctx context.Context, level LogLevel, component, action, message string, duration time.Duration, fields ...map[string]any) {
	l.log(ctx, level, component, action, message, first(fields), nil, &duration)
}

func first(fields []map[string]any) map[string]any {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Close drains pending entries and closes file writers.
func (l *Logger) Close() {
	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.writers {
		if closer, ok := writer.(io.Closer); ok && writer != os.Stdout && writer != os.Stderr {
			closer.Close()
		}
	}
}

// AddWriter adds a writer to the logger. Used by tests to capture output.
func (l *Logger) AddWriter(writer io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writers = append(l.writers, writer)
}

var (
	globalLogger *Logger
	loggerMutex  sync.RWMutex
)

// SetGlobalLogger sets the process-wide logger instance.
func SetGlobalLogger(logger *Logger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide logger, or nil.
func GetGlobalLogger() *Logger {
	loggerMutex.RLock()
	defer loggerMutex.RUnlock()
	return globalLogger
}

// Package-level convenience functions; no-ops when no global logger is set.

func Debug(ctx context.Context, component, action, message string, fields ...map[string]any) {
	if logger := GetGlobalLogger(); logger != nil {
		logger.Debug(ctx, component, action, message, fields...)
	}
}

func Info(ctx context.Context, component, action, message string, fields ...map[string]any) {
	if logger := GetGlobalLogger(); logger != nil {
		logger.Info(ctx, component, action, message, fields...)
	}
}

func Warn(ctx context.Context, component, action, message string, fields ...map[string]any) {
	if logger := GetGlobalLogger(); logger != nil {
		logger.Warn(ctx, component, action, message, fields...)
	}
}

func Error(ctx context.Context, component, action, message string, err error, fields ...map[string]any) {
	if logger := GetGlobalLogger(); logger != nil {
		logger.Error(ctx, component, action, message, err, fields...)
	}
}
