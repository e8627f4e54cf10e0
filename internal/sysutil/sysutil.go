// Package sysutil holds process bootstrap helpers shared by the binaries:
// log level selection and the zerolog sink setup.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tbourn/go-chat-stream/internal/config"
)

// SetLogLevel configures the global zerolog level. Supported values
// (case-insensitive): debug, info, warn, error, fatal, panic. Anything
// else means info.
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// LogOptions selects where log lines go.
type LogOptions struct {
	// Pretty renders human-readable console lines instead of JSON on Out.
	Pretty bool
	// File, when File.Path is set, also writes JSON lines to a rotated file.
	File config.LogFileConfig
	// Out is the console sink; nil means stderr.
	Out io.Writer
}

// NewLogger builds the process logger and returns it with a close function
// for the file sink (a no-op when there is none).
func NewLogger(opts LogOptions) (zerolog.Logger, func() error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var console io.Writer = out
	if opts.Pretty {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	closeFn := func() error { return nil }
	sink := console
	if path := strings.TrimSpace(opts.File.Path); path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   true,
		}
		sink = zerolog.MultiLevelWriter(console, lj)
		closeFn = lj.Close
	}

	return zerolog.New(sink).With().Timestamp().Logger(), closeFn
}
