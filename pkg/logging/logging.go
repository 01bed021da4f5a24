// Package logging holds the process-wide logrus logger.
//
// Init configures level, formatter and output once at startup. When
// TORVUS_LOG_FILE is set the output is duplicated into a size-rotated file.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var _log = logrus.New()

// Options configures the global logger
type Options struct {
	Debug bool
	// Out defaults to os.Stdout
	Out io.Writer
	// File enables rotation into the named file in addition to Out
	File string
}

// Init initializes the global logger.
func Init(opts Options) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(out, rotator)
	}
	_log.SetOutput(out)
	if opts.Debug {
		_log.SetLevel(logrus.DebugLevel)
		_log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		_log.SetLevel(logrus.InfoLevel)
		_log.SetFormatter(&logrus.JSONFormatter{})
	}
}

// FromEnv builds Options from TORVUS_LOG_LEVEL and TORVUS_LOG_FILE
func FromEnv() Options {
	return Options{
		Debug: strings.EqualFold(os.Getenv("TORVUS_LOG_LEVEL"), "debug"),
		File:  os.Getenv("TORVUS_LOG_FILE"),
	}
}

// Log returns a standard logger entry to use across packages.
func Log() *logrus.Entry {
	return logrus.NewEntry(_log)
}

// WithFields returns a logger entry with provided fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log().WithFields(fields)
}

// Writer exposes the logger output for handlers that log raw lines
func Writer() io.Writer {
	return _log.Out
}
