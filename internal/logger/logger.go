// Package logger provides leveled structured logging.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields is a set of structured log fields.
type Fields = map[string]any

var defaultLogger = newLogger(os.Stderr, logrus.InfoLevel, "json")

func newLogger(out io.Writer, level logrus.Level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	if strings.ToLower(format) == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	defaultLogger = newLogger(os.Stderr, parseLevel(level), format)
}

// SetOutput redirects the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

// Logrus exposes the underlying logger for libraries that take a writer.
func Logrus() *logrus.Logger {
	return defaultLogger
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.Fatalf(format, args...)
}

// Entry is a logger carrying structured fields.
type Entry struct {
	entry *logrus.Entry
}

func WithFields(fields Fields) *Entry {
	return &Entry{entry: defaultLogger.WithFields(logrus.Fields(fields))}
}

func WithError(err error) *Entry {
	return &Entry{entry: defaultLogger.WithError(err)}
}

func (e *Entry) WithField(key string, value any) *Entry {
	return &Entry{entry: e.entry.WithField(key, value)}
}

func (e *Entry) Debug(format string, args ...interface{}) {
	e.entry.Debugf(format, args...)
}

func (e *Entry) Info(format string, args ...interface{}) {
	e.entry.Infof(format, args...)
}

func (e *Entry) Warn(format string, args ...interface{}) {
	e.entry.Warnf(format, args...)
}

func (e *Entry) Error(format string, args ...interface{}) {
	e.entry.Errorf(format, args...)
}
