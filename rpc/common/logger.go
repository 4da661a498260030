package common

// Logging for the transport, server and client packages. Every package asks
// dragonboat's registry for a named logger, InitLoggers swaps in the factory
// below so all of them share one line format and one level.

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// logWriter receives every log line. Log lines go to stderr so they never
// mix with results the CLI prints on stdout.
var logWriter io.Writer = os.Stderr

// LoggerNames lists every named logger used by the transport and rpc packages
var LoggerNames = []string{
	"transport/buffer",
	"transport/conn",
	"transport/registry",
	"transport/reactor",
	"rpc/server",
	"rpc/client",
}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// sedaLogger prefixes each line with the level and the logger name
type sedaLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *sedaLogger) SetLevel(level logger.LogLevel) { l.level = level }

func (l *sedaLogger) Debugf(format string, args ...interface{}) {
	l.logf(logger.DEBUG, "DEBUG", format, args...)
}

func (l *sedaLogger) Infof(format string, args ...interface{}) {
	l.logf(logger.INFO, "INFO", format, args...)
}

func (l *sedaLogger) Warningf(format string, args ...interface{}) {
	l.logf(logger.WARNING, "WARN", format, args...)
}

func (l *sedaLogger) Errorf(format string, args ...interface{}) {
	l.logf(logger.ERROR, "ERROR", format, args...)
}

func (l *sedaLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.logf(logger.CRITICAL, "PANIC", "%s", msg)
	panic(msg)
}

// logf formats only if the level is enabled, the transport logs per message
// at debug level
func (l *sedaLogger) logf(min logger.LogLevel, tag string, format string, args ...interface{}) {
	if l.level < min {
		return
	}
	l.logger.Printf("%-5s | %-18s | %s", tag, l.name, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Factory and initialization
// --------------------------------------------------------------------------

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	return &sedaLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(logWriter, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// ParseLogLevel converts a level name as accepted by --log-level
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// InitLoggers installs the custom logger factory and sets the level of all
// named loggers. Loggers fetched before the call switch over as well.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)
	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
