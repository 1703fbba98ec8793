package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/AdalynJs/nucypher/features"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelStartup // Special level for startup messages only
	colorRed     = "\033[31m"
	colorYellow  = "\033[33m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorReset   = "\033[0m"
)

// ParseLevel maps a configuration string to a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// Logger writes leveled lines. Child loggers created with WithComponent share
// the writers and level of their parent.
type Logger struct {
	infoLogger    *log.Logger
	warnLogger    *log.Logger
	errorLogger   *log.Logger
	debugLogger   *log.Logger
	startupLogger *log.Logger
	component     string
	state         *loggerState
}

type loggerState struct {
	mu       sync.Mutex
	minLevel LogLevel
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the singleton logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger()
	})
	return defaultLogger
}

// NewLogger creates a new logger with appropriate settings based on feature flags
func NewLogger() *Logger {
	return NewLoggerWithOutput(os.Stdout)
}

// NewLoggerWithOutput creates a logger writing every level to output.
func NewLoggerWithOutput(output io.Writer) *Logger {
	minLevel := LevelDebug
	if !features.ShouldEnableFullLogging() {
		minLevel = LevelStartup
	}

	return &Logger{
		infoLogger:    log.New(output, "INFO: ", log.Ldate|log.Ltime),
		warnLogger:    log.New(output, "WARN: ", log.Ldate|log.Ltime),
		errorLogger:   log.New(output, "ERROR: ", log.Ldate|log.Ltime),
		debugLogger:   log.New(output, "DEBUG: ", log.Ldate|log.Ltime),
		startupLogger: log.New(output, "STARTUP: ", log.Ldate|log.Ltime),
		state:         &loggerState{minLevel: minLevel},
	}
}

// WithComponent returns a child logger that tags every line with name.
func (l *Logger) WithComponent(name string) *Logger {
	child := *l
	if l.component != "" {
		child.component = l.component + "." + name
	} else {
		child.component = name
	}
	return &child
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	if !features.ShouldEnableFullLogging() {
		l.state.minLevel = LevelStartup
		return
	}
	l.state.minLevel = level
}

func (l *Logger) enabled(level LogLevel) bool {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	return l.state.minLevel <= level
}

func (l *Logger) emit(target *log.Logger, color, format string, v ...interface{}) {
	s := fmt.Sprintf(format, v...)
	if l.component != "" {
		s = "[" + l.component + "] " + s
	}
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	if color != "" {
		target.Printf("%s%s%s", color, s, colorReset)
		return
	}
	target.Print(s)
}

// Debug logs a debug message (only in full logging mode)
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.emit(l.debugLogger, colorCyan, format, v...)
	}
}

// Info logs an info message (only in full logging mode)
func (l *Logger) Info(format string, v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.emit(l.infoLogger, "", format, v...)
	}
}

// Warn logs a warning message (only in full logging mode)
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.enabled(LevelWarn) {
		l.emit(l.warnLogger, colorYellow, format, v...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.enabled(LevelError) {
		l.emit(l.errorLogger, colorRed, format, v...)
	}
}

// Startup logs a startup message (always logged, even in minimal mode)
func (l *Logger) Startup(format string, v ...interface{}) {
	l.emit(l.startupLogger, colorMagenta, format, v...)
}

// PrintBuildInfo prints build and feature flag information at startup
func (l *Logger) PrintBuildInfo(serviceName, serviceVersion string) {
	buildInfo := features.GetBuildInfo()

	l.Startup("=================================================")
	l.Startup("Service: %s v%s", serviceName, serviceVersion)
	l.Startup("Build Mode: %s", buildInfo["mode"])
	l.Startup("Build Version: %s", buildInfo["version"])
	l.Startup("Build Time: %s", buildInfo["buildTime"])

	enabledFeatures := features.GetEnabledFeatures()
	if len(enabledFeatures) > 0 {
		l.Startup("Enabled Features: %v", enabledFeatures)
	} else {
		l.Startup("Enabled Features: none (production defaults)")
	}

	l.Startup("Full Logging: %v", features.ShouldEnableFullLogging())
	l.Startup("Metrics: %v", features.ShouldEnableMetrics())
	l.Startup("Observability: %v", features.ShouldEnableObservability())
	l.Startup("Rate Limiting: %v", features.ShouldEnableRateLimiting())
	l.Startup("Short Timeouts: %v", features.ShouldUseShortTimeouts())
	l.Startup("=================================================")
}

// Convenience functions that use the default logger
func Debug(format string, v ...interface{}) {
	GetLogger().Debug(format, v...)
}

func Info(format string, v ...interface{}) {
	GetLogger().Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	GetLogger().Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	GetLogger().Error(format, v...)
}

func Startup(format string, v ...interface{}) {
	GetLogger().Startup(format, v...)
}

func PrintBuildInfo(serviceName, serviceVersion string) {
	GetLogger().PrintBuildInfo(serviceName, serviceVersion)
}

// Component returns a child of the default logger.
func Component(name string) *Logger {
	return GetLogger().WithComponent(name)
}

// LoggingMode returns a string describing the current logging mode
func LoggingMode() string {
	if features.ShouldEnableFullLogging() {
		return "full"
	}
	return "minimal (startup only)"
}
