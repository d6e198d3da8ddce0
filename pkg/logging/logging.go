// Package logging provides the logging interface shared by every component
// of the proxy engine, bridging call sites to a concrete logrus logger.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the interface every component depends on instead of a concrete
// logrus type, so tests can supply a no-op or buffering implementation.
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}

// NewLogger returns a fresh process-wide logrus.Logger suitable for passing
// to components as a Logger.
func NewLogger() *logrus.Logger {
	return logrus.New()
}

// Component derives a child logger tagged with a component name, the way
// every subsystem of the engine identifies its log lines.
func Component(log Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
