package common

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"log"
	"os"
	"strings"
)

// EnvWorkerID holds the index of a prefork worker. It is unset in the prefork
// manager and in single process servers.
const EnvWorkerID = "DIPC_WORKER_ID"

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// ipcLogger writes lines of the form
//
//	2025/01/02 15:04:05 [4711 w2] WARN  | ipc/transport   | message
//
// The origin in brackets is the pid, followed by the worker index in prefork
// workers, so the output of all workers can share one terminal or journal.
type ipcLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

// logLevels maps the dragonboat levels to their label and message counter
var logLevels = map[logger.LogLevel]struct {
	label   string
	counter *metrics.Counter
}{
	logger.DEBUG:    {"DEBUG", metrics.NewCounter(`ipc_log_messages_total{level="debug"}`)},
	logger.INFO:     {"INFO", metrics.NewCounter(`ipc_log_messages_total{level="info"}`)},
	logger.WARNING:  {"WARN", metrics.NewCounter(`ipc_log_messages_total{level="warning"}`)},
	logger.ERROR:    {"ERROR", metrics.NewCounter(`ipc_log_messages_total{level="error"}`)},
	logger.CRITICAL: {"PANIC", metrics.NewCounter(`ipc_log_messages_total{level="critical"}`)},
}

func (l *ipcLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *ipcLogger) Debugf(format string, args ...interface{}) {
	l.log(logger.DEBUG, format, args...)
}

func (l *ipcLogger) Infof(format string, args ...interface{}) {
	l.log(logger.INFO, format, args...)
}

func (l *ipcLogger) Warningf(format string, args ...interface{}) {
	l.log(logger.WARNING, format, args...)
}

func (l *ipcLogger) Errorf(format string, args ...interface{}) {
	l.log(logger.ERROR, format, args...)
}

// Panicf logs the message and panics with it
func (l *ipcLogger) Panicf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.log(logger.CRITICAL, "%s", message)
	panic(message)
}

// log writes the message if level is enabled and counts it
func (l *ipcLogger) log(level logger.LogLevel, format string, args ...interface{}) {
	if l.level < level {
		return
	}
	lvl := logLevels[level]
	lvl.counter.Inc()
	l.logger.Printf("%-5s | %-15s | %s", lvl.label, l.name, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger creates a logger for the given package (see logger.Factory)
func CreateLogger(pkgName string) logger.ILogger {
	return newLogger(pkgName, os.Stdout)
}

// newLogger creates a logger writing to w
func newLogger(pkgName string, w io.Writer) *ipcLogger {
	return &ipcLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(w, logOrigin()+" ", log.Ldate|log.Ltime|log.Lmsgprefix),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// loggerNames lists every logger created by this module
var loggerNames = []string{
	"ipc",
	"ipc/transport",
	"ipc/loop",
	"ipc/cache",
	"ipc/prefork",
	"ipc/events",
}

// logOrigin returns the origin of the log lines of this process: the pid and,
// in a prefork worker, the worker index
func logOrigin() string {
	if id := os.Getenv(EnvWorkerID); id != "" {
		return fmt.Sprintf("[%d w%s]", os.Getpid(), id)
	}
	return fmt.Sprintf("[%d]", os.Getpid())
}

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
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

// InitLoggers installs the custom logger factory and sets the level of all loggers
func InitLoggers(logLevel string) error {
	level, err := ParseLogLevel(logLevel)
	if err != nil {
		return err
	}

	// Set as the global logger factory for Dragonboat
	logger.SetLoggerFactory(CreateLogger)

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}
