// Package logging builds the logrus logger shared by the bench and run
// commands.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

const TimestampFormat = "2006-01-02 15:04:05"

// New logs to w at Info, or Debug when verbose.
func New(w io.Writer, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: TimestampFormat,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
