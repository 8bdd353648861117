// Package logging configures the logrus logger used across kiln and adapts
// it for the libraries that bring their own logging interfaces.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// DefaultVerbosity is the verbosity when no -v flags are given (Info).
const DefaultVerbosity = 3

// Options controls logger setup.
type Options struct {
	// Verbose is the number of -v flags. Each one lowers the threshold by one
	// level starting from Info.
	Verbose int
	// NoColor disables colorized level names.
	NoColor bool
	// Output defaults to stderr when nil.
	Output io.Writer
}

// New returns a configured logger.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()
	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	}
	logger.SetLevel(LevelFor(DefaultVerbosity + opts.Verbose))
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		TimestampFormat:        "2006-01-02 15:04:05",
		DisableColors:          opts.NoColor,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
	return logger
}

// LevelFor maps a verbosity value to a logrus level.
// 0 is Fatal, 3 is Info, 5 and above is Trace.
func LevelFor(verbosity int) logrus.Level {
	switch {
	case verbosity <= 0:
		return logrus.FatalLevel
	case verbosity == 1:
		return logrus.ErrorLevel
	case verbosity == 2:
		return logrus.WarnLevel
	case verbosity == 3:
		return logrus.InfoLevel
	case verbosity == 4:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// Discard returns a logger that drops everything. Useful as a default for
// optional logger arguments.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}
