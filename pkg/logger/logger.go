
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	entry *logrus.Entry
}

func New() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: logrus.NewEntry(l)}
}

// NewWithLevel parses level ("debug", "info", "warn", ...) and returns a logger using it.
func NewWithLevel(level string) (*Logger, error) {
	l := New()
	if level == "" {
		return l, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l.entry.Logger.SetLevel(lvl)
	return l, nil
}

// Wrap uses an existing logrus logger, keeping its output, level and hooks.
func Wrap(l *logrus.Logger) *Logger {
	return &Logger{entry: logrus.NewEntry(l)}
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	l := New()
	l.entry.Logger.SetOutput(io.Discard)
	return l
}

func (l *Logger) With(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.entry.Debugf(format, args...)
}
func (l *Logger) Infof(format string, args ...any) {
	l.entry.Infof(format, args...)
}
func (l *Logger) Warnf(format string, args ...any) {
	l.entry.Warnf(format, args...)
}
func (l *Logger) Errorf(format string, args ...any) {
	l.entry.Errorf(format, args...)
}
