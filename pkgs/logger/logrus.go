package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// logrusLogger implements Logger on top of github.com/sirupsen/logrus.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrus creates a Logger backed by a logrus.Logger writing to stderr
// with a text formatter.
func NewLogrus() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) SetToDebug() { l.entry.Logger.SetLevel(logrus.DebugLevel) }
func (l *logrusLogger) SetToInfo()  { l.entry.Logger.SetLevel(logrus.InfoLevel) }
func (l *logrusLogger) SetToError() { l.entry.Logger.SetLevel(logrus.ErrorLevel) }

// Module returns a child logger namespaced under ns, carried as a "module" field.
func (l *logrusLogger) Module(ns string) Logger {
	mod := ns
	if existing, ok := l.entry.Data["module"]; ok {
		mod = existing.(string) + "." + ns
	}
	return &logrusLogger{entry: l.entry.WithField("module", mod)}
}

func kvToFields(keyValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keyValues[i+1]
	}
	return fields
}

func (l *logrusLogger) Debug(msg string, keyValues ...interface{}) {
	l.entry.WithFields(kvToFields(keyValues)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, keyValues ...interface{}) {
	l.entry.WithFields(kvToFields(keyValues)).Info(msg)
}

func (l *logrusLogger) Error(msg string, keyValues ...interface{}) {
	l.entry.WithFields(kvToFields(keyValues)).Error(msg)
}

func (l *logrusLogger) Fatal(msg string, keyValues ...interface{}) {
	l.entry.WithFields(kvToFields(keyValues)).Fatal(msg)
}

func (l *logrusLogger) Warn(msg string, keyValues ...interface{}) {
	l.entry.WithFields(kvToFields(keyValues)).Warn(msg)
}

// NewNullLogger returns a Logger that discards all output, used in tests.
func NewNullLogger() Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
