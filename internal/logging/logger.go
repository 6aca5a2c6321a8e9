// Package logging provides the Logger interface shared by every component
// of the mining pipeline.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/fatih/color"
)

// Logger defines the output interface used by pipeline components.
type Logger interface {
	Debug(...interface{})
	Debugf(string, ...interface{})
	Info(...interface{})
	Infof(string, ...interface{})
	Warn(...interface{})
	Warnf(string, ...interface{})
	Error(...interface{})
	Errorf(string, ...interface{})
}

// DefaultLogger wraps the standard log package and colorizes level tags the
// way a terminal-facing CLI tool does. Quiet demotes Info to a no-op;
// Debug is written only when Verbose is set, whatever Quiet says.
type DefaultLogger struct {
	d *log.Logger
	i *log.Logger
	w *log.Logger
	e *log.Logger

	Quiet   bool
	Verbose bool
}

// NewLogger returns a configured default logger writing to stderr.
func NewLogger(quiet, verbose bool) *DefaultLogger {
	return NewLoggerTo(os.Stderr, quiet, verbose)
}

// NewLoggerTo returns a configured default logger writing to the given
// writer, useful for tests.
func NewLoggerTo(w io.Writer, quiet, verbose bool) *DefaultLogger {
	return &DefaultLogger{
		d:       log.New(w, color.CyanString("[DEBUG] "), log.LstdFlags),
		i:       log.New(w, color.GreenString("[INFO] "), log.LstdFlags),
		w:       log.New(w, color.YellowString("[WARN] "), log.LstdFlags),
		e:       log.New(w, color.RedString("[ERROR] "), log.LstdFlags),
		Quiet:   quiet,
		Verbose: verbose,
	}
}

// Debug writes to the debug logger when Verbose is set.
func (d *DefaultLogger) Debug(v ...interface{}) {
	if d.Verbose {
		d.d.Print(v...)
	}
}

// Debugf writes formatted to the debug logger when Verbose is set.
func (d *DefaultLogger) Debugf(f string, v ...interface{}) {
	if d.Verbose {
		d.d.Printf(f, v...)
	}
}

// Info writes to the info logger unless Quiet is set.
func (d *DefaultLogger) Info(v ...interface{}) {
	if !d.Quiet {
		d.i.Print(v...)
	}
}

// Infof writes formatted to the info logger unless Quiet is set.
func (d *DefaultLogger) Infof(f string, v ...interface{}) {
	if !d.Quiet {
		d.i.Printf(f, v...)
	}
}

// Warn writes to the warning logger.
func (d *DefaultLogger) Warn(v ...interface{}) { d.w.Print(v...) }

// Warnf writes formatted to the warning logger.
func (d *DefaultLogger) Warnf(f string, v ...interface{}) { d.w.Printf(f, v...) }

// Error writes to the error logger.
func (d *DefaultLogger) Error(v ...interface{}) { d.e.Print(v...) }

// Errorf writes formatted to the error logger.
func (d *DefaultLogger) Errorf(f string, v ...interface{}) { d.e.Printf(f, v...) }
