package logging

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogrusLogger backs the Logger interface with logrus, for runs whose output
// is collected by a log shipper rather than read on a terminal.
type LogrusLogger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// NewLogrusLogger creates a logrus backed logger writing to stderr.
func NewLogrusLogger(jsonFormat bool) *LogrusLogger {
	return NewLogrusLoggerWithOutput(os.Stderr, jsonFormat)
}

// NewLogrusLoggerWithOutput creates a logrus backed logger writing to w.
func NewLogrusLoggerWithOutput(w io.Writer, jsonFormat bool) *LogrusLogger {
	base := logrus.New()
	base.SetOutput(w)
	if jsonFormat {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
	base.SetLevel(logrus.InfoLevel)
	return &LogrusLogger{base: base, entry: logrus.NewEntry(base)}
}

func merge(fields []Fields) logrus.Fields {
	out := logrus.Fields{}
	for _, f := range fields {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}

func (l *LogrusLogger) Debug(msg string, fields ...Fields) {
	l.entry.WithFields(merge(fields)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, fields ...Fields) {
	l.entry.WithFields(merge(fields)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, fields ...Fields) {
	l.entry.WithFields(merge(fields)).Warn(msg)
}

func (l *LogrusLogger) Error(err error, msg string, fields ...Fields) {
	l.entry.WithFields(merge(fields)).WithError(err).Error(msg)
}

func (l *LogrusLogger) Fatal(err error, msg string, fields ...Fields) {
	l.entry.WithFields(merge(fields)).WithError(err).Fatal(msg)
}

func (l *LogrusLogger) WithFields(fields Fields) Logger {
	return &LogrusLogger{base: l.base, entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := fieldsFromContext(ctx); ok {
		return l.WithFields(fields)
	}
	return l
}

// SetLevel changes the level of the underlying logrus logger, which is shared
// by every logger derived through WithFields.
func (l *LogrusLogger) SetLevel(level Level) {
	switch level {
	case DebugLevel:
		l.base.SetLevel(logrus.DebugLevel)
	case InfoLevel:
		l.base.SetLevel(logrus.InfoLevel)
	case WarnLevel:
		l.base.SetLevel(logrus.WarnLevel)
	case ErrorLevel:
		l.base.SetLevel(logrus.ErrorLevel)
	case FatalLevel:
		l.base.SetLevel(logrus.FatalLevel)
	}
}
