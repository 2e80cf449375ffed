package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/lumberjack.v2"

	"github.com/morsekit/cwd/pkg/config"
)

// LogLevel represents logging levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string log level, defaulting to info.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes leveled, component-tagged messages to the console and to a
// size-rotated log file.
type Logger struct {
	level        LogLevel
	fileLogger   *log.Logger
	console      *log.Logger
	structured   bool
	rotatingFile *lumberjack.Logger
}

// NewLogger creates a logger from configuration. File logging is enabled
// only when a file path is configured; console logging is enabled by
// config or as the fallback when there is no file.
func NewLogger(cfg *config.Config) (*Logger, error) {
	logger := &Logger{
		level:      ParseLogLevel(cfg.Logging.Level),
		structured: cfg.Logging.Structured,
	}

	if cfg.Logging.File != "" {
		logDir := filepath.Dir(cfg.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logger.rotatingFile = &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		}
		logger.fileLogger = log.New(logger.rotatingFile, "", 0)
	}

	if cfg.Logging.Console || logger.fileLogger == nil {
		logger.console = log.New(os.Stdout, "", 0)
	}

	return logger, nil
}

// Close closes the rotating log file, if any.
func (l *Logger) Close() error {
	if l.rotatingFile != nil {
		return l.rotatingFile.Close()
	}
	return nil
}

func (l *Logger) format(level LogLevel, component, message string, fields map[string]interface{}) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	// Sorted keys keep field order stable across runs.
	var parts []string
	for k := range fields {
		parts = append(parts, k)
	}
	sort.Strings(parts)

	if l.structured {
		var rendered []string
		for _, k := range parts {
			rendered = append(rendered, fmt.Sprintf(`"%s":"%v"`, k, fields[k]))
		}
		extra := ""
		if len(rendered) > 0 {
			extra = fmt.Sprintf(" {%s}", strings.Join(rendered, ","))
		}
		return fmt.Sprintf(`{"time":"%s","level":"%s","component":"%s","message":"%s"%s}`,
			timestamp, level, component, message, extra)
	}

	var rendered []string
	for _, k := range parts {
		rendered = append(rendered, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	extra := ""
	if len(rendered) > 0 {
		extra = fmt.Sprintf(" [%s]", strings.Join(rendered, " "))
	}
	return fmt.Sprintf("%s [%s] %s: %s%s", timestamp, level, component, message, extra)
}

func (l *Logger) log(level LogLevel, component, message string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	formatted := l.format(level, component, message, fields)
	if l.fileLogger != nil {
		l.fileLogger.Println(formatted)
	}
	if l.console != nil {
		l.console.Println(formatted)
	}
}

// Component returns a logger bound to one component name, so call sites
// don't repeat it.
func (l *Logger) Component(name string) *ComponentLogger {
	return &ComponentLogger{logger: l, name: name}
}

// ComponentLogger is a Logger bound to a fixed component name.
type ComponentLogger struct {
	logger *Logger
	name   string
}

func (c *ComponentLogger) Debug(message string, fields ...map[string]interface{}) {
	c.logger.log(LevelDebug, c.name, message, first(fields))
}

func (c *ComponentLogger) Info(message string, fields ...map[string]interface{}) {
	c.logger.log(LevelInfo, c.name, message, first(fields))
}

func (c *ComponentLogger) Warn(message string, fields ...map[string]interface{}) {
	c.logger.log(LevelWarn, c.name, message, first(fields))
}

func (c *ComponentLogger) Error(message string, fields ...map[string]interface{}) {
	c.logger.log(LevelError, c.name, message, first(fields))
}

func (c *ComponentLogger) Debugf(format string, args ...interface{}) {
	c.logger.log(LevelDebug, c.name, fmt.Sprintf(format, args...), nil)
}

func (c *ComponentLogger) Infof(format string, args ...interface{}) {
	c.logger.log(LevelInfo, c.name, fmt.Sprintf(format, args...), nil)
}

func (c *ComponentLogger) Warnf(format string, args ...interface{}) {
	c.logger.log(LevelWarn, c.name, fmt.Sprintf(format, args...), nil)
}

func (c *ComponentLogger) Errorf(format string, args ...interface{}) {
	c.logger.log(LevelError, c.name, fmt.Sprintf(format, args...), nil)
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg *config.Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// GetGlobalLogger returns the global logger, falling back to console-only
// at info level when it was never initialized.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		globalLogger = &Logger{
			level:   LevelInfo,
			console: log.New(os.Stdout, "", 0),
		}
	}
	return globalLogger
}

// CloseGlobalLogger closes the global logger
func CloseGlobalLogger() error {
	if globalLogger != nil {
		return globalLogger.Close()
	}
	return nil
}

// Convenience functions for the global logger
func Debug(component, message string, fields ...map[string]interface{}) {
	GetGlobalLogger().log(LevelDebug, component, message, first(fields))
}

func Info(component, message string, fields ...map[string]interface{}) {
	GetGlobalLogger().log(LevelInfo, component, message, first(fields))
}

func Warn(component, message string, fields ...map[string]interface{}) {
	GetGlobalLogger().log(LevelWarn, component, message, first(fields))
}

func Error(component, message string, fields ...map[string]interface{}) {
	GetGlobalLogger().log(LevelError, component, message, first(fields))
}

func Debugf(component, format string, args ...interface{}) {
	GetGlobalLogger().log(LevelDebug, component, fmt.Sprintf(format, args...), nil)
}

func Infof(component, format string, args ...interface{}) {
	GetGlobalLogger().log(LevelInfo, component, fmt.Sprintf(format, args...), nil)
}

func Warnf(component, format string, args ...interface{}) {
	GetGlobalLogger().log(LevelWarn, component, fmt.Sprintf(format, args...), nil)
}

func Errorf(component, format string, args ...interface{}) {
	GetGlobalLogger().log(LevelError, component, fmt.Sprintf(format, args...), nil)
}
