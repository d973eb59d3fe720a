// Package logging builds the leveled loggers handed to every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a text logger writing to stdout at the named level. Unknown
// levels fall back to info.
func New(level string) *logrus.Logger {
	lg := logrus.New()
	lg.Out = os.Stdout
	lg.Formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006/01/02 15:04:05.000000"}
	lg.Level = logrus.InfoLevel
	if lvl, err := logrus.ParseLevel(strings.TrimSpace(level)); err == nil {
		lg.Level = lvl
	}
	return lg
}

// Component tags every line from l with the component name.
func Component(l logrus.FieldLogger, name string) logrus.FieldLogger {
	return OrDiscard(l).WithField("component", name)
}

// OrDiscard returns l, or a logger that drops everything when l is nil.
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l != nil {
		return l
	}
	lg := logrus.New()
	lg.Out = io.Discard
	return lg
}
