// Package logging defines the small structured-logger facade shared by the
// transport, the game server and both CLI drivers.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is implemented by anything that can receive leveled log lines from
// the transport or the game server. Components accept a Logger through their
// configuration instead of calling a package-global logger directly.
type Logger interface {
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger wraps a logrus.Entry pinned to a component field, and is
// used whenever a caller is not given an explicit Logger.
type DefaultLogger struct {
	*logrus.Entry
}

// New creates a DefaultLogger writing to stderr, tagging every line with the
// given component name (e.g. New("transport"), New("game")).
func New(component string) *DefaultLogger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &DefaultLogger{Entry: base.WithField("component", component)}
}

// Discard returns a Logger that drops everything; used by tests that don't
// want transport/game chatter on stderr.
func Discard() Logger {
	base := logrus.New()
	base.SetOutput(discardWriter{})
	return &DefaultLogger{Entry: logrus.NewEntry(base)}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
