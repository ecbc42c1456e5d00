// Package logging builds the component loggers used across todomd.
//
// Every component logs through a stdlib *log.Logger with a bracketed
// prefix ("[feed] ", "[git-sync] "). A Sink decides where those lines go:
// stderr, and optionally a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Sink.
type Options struct {
	// File receives a copy of every line when set. It is rotated once it
	// reaches MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Quiet drops the stderr copy.
	Quiet bool

	// Stderr overrides os.Stderr, for tests.
	Stderr io.Writer
}

// Sink is the shared destination of component loggers.
type Sink struct {
	out  io.Writer
	file *lumberjack.Logger

	mu     sync.Mutex
	closed bool
}

// Open creates a Sink. The log file's directory is created when missing.
func Open(opts Options) (*Sink, error) {
	var writers []io.Writer
	if !opts.Quiet {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		writers = append(writers, stderr)
	}

	s := &Sink{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, err
		}
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, s.file)
	}

	switch len(writers) {
	case 0:
		s.out = io.Discard
	case 1:
		s.out = writers[0]
	default:
		s.out = io.MultiWriter(writers...)
	}
	return s, nil
}

// Logger returns a logger for component, prefixed "[component] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the underlying destination.
func (s *Sink) Writer() io.Writer {
	return s.out
}

// Close closes the log file, if any. Loggers must not be used afterwards.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.file == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
