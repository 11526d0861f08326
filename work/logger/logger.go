package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var defaultLogger = New("INFO")

// Logger is a leveled logger writing through a standard library *log.Logger.
type Logger struct {
	level atomic.Int32
	out   atomic.Pointer[log.Logger]
}

// New creates a new Logger instance with the specified level writing to stdout
func New(level string) *Logger {
	l := &Logger{}
	l.level.Store(int32(ParseLogLevel(level)))
	l.out.Store(log.New(os.Stdout, "[MEDIA-RELAY] ", log.LstdFlags))
	return l
}

// ParseLogLevel converts string to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (lv LogLevel) String() string {
	switch lv {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// SetLogLevel sets the global default log level (package-level)
func SetLogLevel(level string) {
	defaultLogger.SetLevel(level)
}

// GetLogLevel returns current log level as string (package-level)
func GetLogLevel() string {
	return defaultLogger.GetLevel()
}

// SetOutput redirects the default logger, mostly for tests
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

// SetLevel sets this logger instance's level
func (l *Logger) SetLevel(level string) {
	l.level.Store(int32(ParseLogLevel(level)))
}

// GetLevel returns this logger instance's level as string
func (l *Logger) GetLevel() string {
	return LogLevel(l.level.Load()).String()
}

// SetOutput replaces the destination of this logger
func (l *Logger) SetOutput(w io.Writer) {
	l.out.Store(log.New(w, "[MEDIA-RELAY] ", log.LstdFlags))
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= LogLevel(l.level.Load())
}

func (l *Logger) logf(level LogLevel, format string, v ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	l.out.Load().Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, v ...interface{}) { l.logf(DEBUG, format, v...) }

// Info logs info level messages
func (l *Logger) Info(format string, v ...interface{}) { l.logf(INFO, format, v...) }

// Warn logs warning level messages
func (l *Logger) Warn(format string, v ...interface{}) { l.logf(WARN, format, v...) }

// Error logs error level messages
func (l *Logger) Error(format string, v ...interface{}) { l.logf(ERROR, format, v...) }

// Package-level functions (for direct use like logger.Info())

func Debug(format string, v ...interface{}) { defaultLogger.Debug(format, v...) }

func Info(format string, v ...interface{}) { defaultLogger.Info(format, v...) }

func Warn(format string, v ...interface{}) { defaultLogger.Warn(format, v...) }

func Error(format string, v ...interface{}) { defaultLogger.Error(format, v...) }
