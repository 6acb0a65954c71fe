// Package logging builds the component loggers used across the portal.
// Every component logs through a standard *log.Logger with a bracketed
// prefix; the daemon can additionally write to a rotating log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Sink.
type Options struct {
	// File enables a rotating log file when set.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Console also receives every line (default: stderr). Set Quiet to
	// log to the file only.
	Console io.Writer
	Quiet   bool
}

// Sink is a shared log destination.
type Sink struct {
	w    io.Writer
	file *lumberjack.Logger
}

// Open creates a Sink.
func Open(opts Options) *Sink {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if opts.Quiet {
		console = nil
	}

	s := &Sink{}
	if opts.File != "" {
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
	}

	switch {
	case s.file != nil && console != nil:
		s.w = io.MultiWriter(console, s.file)
	case s.file != nil:
		s.w = s.file
	case console != nil:
		s.w = console
	default:
		s.w = io.Discard
	}
	return s
}

// Logger returns a logger prefixed with "[component] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the underlying destination.
func (s *Sink) Writer() io.Writer {
	return s.w
}

// Rotate starts a new log file. It is a no-op without a file.
func (s *Sink) Rotate() error {
	if s.file == nil {
		return nil
	}
	return s.file.Rotate()
}

// Close closes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Discard is a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
