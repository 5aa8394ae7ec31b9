package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragenboats logger.ILogger)
// --------------------------------------------------------------------------

// dHALogger implements the ILogger interface with custom formatting
type dHALogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *dHALogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dHALogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *dHALogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *dHALogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *dHALogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *dHALogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *dHALogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Tagged Logger
// --------------------------------------------------------------------------

// taggedLogger prefixes every message of the wrapped logger with a tag
type taggedLogger struct {
	logger.ILogger
	prefix string
}

// Tagged returns a logger writing to l that prefixes every message with
// "[tag] ". A client tags its loggers with its LocalID so that the log lines
// of several clients in one process can be told apart. An empty tag returns l.
func Tagged(l logger.ILogger, tag string) logger.ILogger {
	if tag == "" {
		return l
	}
	return &taggedLogger{ILogger: l, prefix: "[" + strings.ReplaceAll(tag, "%", "%%") + "] "}
}

func (l *taggedLogger) Debugf(format string, args ...interface{}) {
	l.ILogger.Debugf(l.prefix+format, args...)
}

func (l *taggedLogger) Infof(format string, args ...interface{}) {
	l.ILogger.Infof(l.prefix+format, args...)
}

func (l *taggedLogger) Warningf(format string, args ...interface{}) {
	l.ILogger.Warningf(l.prefix+format, args...)
}

func (l *taggedLogger) Errorf(format string, args ...interface{}) {
	l.ILogger.Errorf(l.prefix+format, args...)
}

func (l *taggedLogger) Panicf(format string, args ...interface{}) {
	l.ILogger.Panicf(l.prefix+format, args...)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements dragonboat's logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	return newLogger(pkgName, os.Stdout)
}

// newLogger creates a logger for pkgName writing to w. Timestamps carry
// microseconds since request round trips are usually shorter than a
// millisecond.
func newLogger(pkgName string, w io.Writer) *dHALogger {
	return &dHALogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggerNames lists every logger used by this module
var loggerNames = []string{
	"rpc",
	"transport/rpc",
	"server",
	"master",
	"cmd",
}

// InitLoggers installs the custom logger factory and sets the level of all
// loggers used by this module
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	// Set as the global logger factory for Dragonboat
	logger.SetLoggerFactory(CreateLogger)

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
