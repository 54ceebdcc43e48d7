// Package logging provides the three process log streams: access, error
// and system. Each stream is a line-oriented file with size-bounded
// rotation; the system stream additionally mirrors to the console.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxMegabytes = 50
	defaultBackups      = 5
)

// Logger bundles the three streams.
type Logger struct {
	System zerolog.Logger
	Error  zerolog.Logger
	access zerolog.Logger

	closers []io.Closer
}

// Options tune rotation. Zero values pick the defaults (50 MiB, 5 backups).
type Options struct {
	MaxMegabytes int
	Backups      int
	Console      io.Writer // defaults to stderr
}

// New creates the log directory and opens the three rotating streams.
func New(dir string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if opts.MaxMegabytes <= 0 {
		opts.MaxMegabytes = defaultMaxMegabytes
	}
	if opts.Backups <= 0 {
		opts.Backups = defaultBackups
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	l := &Logger{}
	open := func(name string) io.Writer {
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(dir, name),
			MaxSize:    opts.MaxMegabytes,
			MaxBackups: opts.Backups,
		}
		l.closers = append(l.closers, lj)
		return lj
	}

	console := zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: "15:04:05"}
	l.System = zerolog.New(zerolog.MultiLevelWriter(open("system.log"), console)).
		With().Timestamp().Logger()
	l.Error = zerolog.New(open("error.log")).With().Timestamp().Logger()
	l.access = zerolog.New(open("access.log")).With().Timestamp().Logger()

	return l, nil
}

// Access writes one access record. Details may be empty.
func (l *Logger) Access(user, action, remoteIP, details string) {
	ev := l.access.Info().
		Str("user", user).
		Str("action", action).
		Str("remote_ip", remoteIP)
	if details != "" {
		ev = ev.Str("details", details)
	}
	ev.Send()
}

// Close flushes and closes the rotating files.
func (l *Logger) Close() {
	for _, c := range l.closers {
		_ = c.Close()
	}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	nop := zerolog.Nop()
	return &Logger{System: nop, Error: nop, access: nop}
}
