// Package logrus adapts a logrus entry to datacache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/datacache"
)

var _ datacache.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New wraps l, tagging every entry with component=datacache.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "datacache")}
}

func (l Logger) Debug(msg string, f datacache.Fields) { l.E.WithFields(logrus.Fields(f)).Debug(msg) }
func (l Logger) Info(msg string, f datacache.Fields)  { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l Logger) Warn(msg string, f datacache.Fields)  { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l Logger) Error(msg string, f datacache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}
