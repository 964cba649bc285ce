package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// DefaultBaseDir is where file loggers write when it is writable
const DefaultBaseDir = "/var/log/ffrec"

// output is shared between a logger and the loggers derived from it so that
// lines written from different goroutines never interleave.
type output struct {
	mu sync.Mutex
	w  io.Writer
}

// Logger provides structured logging with file output support
type Logger struct {
	level      Level
	jsonFormat bool
	out        *output
	fields     map[string]interface{}
	logFile    *os.File
	component  string
}

// NewLogger creates a new logger
func NewLogger(level Level, jsonFormat bool) *Logger {
	return &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		out:        &output{w: os.Stdout},
		fields:     make(map[string]interface{}),
	}
}

// NewNopLogger returns a logger that drops everything
func NewNopLogger() *Logger {
	l := NewLogger(FATAL+1, false)
	l.out.w = io.Discard
	return l
}

// NewFileLogger creates a logger that writes to /var/log/ffrec/<component>/<subcomponent>.log
// Falls back to ./logs/<component>/ if /var/log is not writable
func NewFileLogger(component, subComponent string, level Level, jsonFormat bool) (*Logger, error) {
	logPath := GetLogPath(component, subComponent)

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", filepath.Dir(logPath), err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logger := &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		out:        &output{w: io.MultiWriter(logFile, os.Stderr)},
		fields:     map[string]interface{}{"component": component},
		logFile:    logFile,
		component:  component + "/" + subComponent,
	}

	logger.Debug(fmt.Sprintf("Logger initialized: %s -> %s", logger.component, logPath))

	return logger, nil
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.w = w
}

// Level returns the minimum level this logger emits
func (l *Logger) Level() Level {
	return l.level
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// log writes a log entry
func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	mergedFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		mergedFields[k] = v
	}
	for k, v := range fields {
		mergedFields[k] = v
	}

	l.out.mu.Lock()
	if l.jsonFormat {
		entry := LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level.String(),
			Message:   message,
			Fields:    mergedFields,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			log.Printf("Failed to marshal log entry: %v", err)
		} else {
			fmt.Fprintln(l.out.w, string(data))
		}
	} else {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		fmt.Fprintf(l.out.w, "[%s] %s: %s", timestamp, level.String(), message)
		if len(mergedFields) > 0 {
			fmt.Fprintf(l.out.w, " %v", mergedFields)
		}
		fmt.Fprintln(l.out.w)
	}
	l.out.mu.Unlock()

	if level == FATAL {
		os.Exit(1)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DEBUG, message, first(fields))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(INFO, message, first(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WARN, message, first(fields))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ERROR, message, first(fields))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.log(FATAL, message, first(fields))
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields adds several fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	// Copy fields to avoid mutation
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &Logger{
		level:      l.level,
		jsonFormat: l.jsonFormat,
		out:        l.out,
		fields:     newFields,
		component:  l.component,
	}
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch level {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	case "FATAL", "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	if l.logFile != nil {
		l.Debug("Logger closing")
		return l.logFile.Close()
	}
	return nil
}

// isWritable checks if directory is writable
func isWritable(path string) bool {
	if err := os.MkdirAll(path, 0755); err != nil {
		return false
	}

	testFile := filepath.Join(path, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(testFile)
	return true
}

// GetLogPath returns the expected log path for a component
func GetLogPath(component, subComponent string) string {
	baseDir := DefaultBaseDir
	if !isWritable(baseDir) {
		baseDir = "./logs"
	}

	logFileName := component + ".log"
	if subComponent != "" {
		logFileName = subComponent + ".log"
	}

	return filepath.Join(baseDir, component, logFileName)
}
