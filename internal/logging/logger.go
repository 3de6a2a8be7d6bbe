// Package logging builds bambuctl's zerolog logger: a console writer on
// stderr for CLI commands and a rotating file under the data directory.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	Level   string
	LogFile string
	NoColor bool
	// Quiet drops the console writer. The control panel owns the terminal,
	// so it logs to the file only.
	Quiet bool
}

// NewLogger creates a logger writing to stderr unless Quiet, and to a
// rotating file when LogFile is set.
func NewLogger(cfg Config) *zerolog.Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, consoleWriter(os.Stderr, cfg.NoColor))
	}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    2, // MB
				MaxBackups: 2,
				MaxAge:     14, // days
			})
		}
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
	return &logger
}

// consoleWriter formats entries for a terminal that may also be showing
// update script output on stdout. ConsoleWriter emits each entry with a single
// Write, so entries interleave with streamed lines but never split one.
// run_id is cut to the prefix that "bambuctl history show" accepts.
func consoleWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
		FormatPrepare: func(evt map[string]interface{}) error {
			if id, ok := evt["run_id"].(string); ok && len(id) > 8 {
				evt["run_id"] = id[:8]
			}
			return nil
		},
	}
}

func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// NewTestLogger creates a logger for testing that writes JSON lines to w.
func NewTestLogger(w io.Writer) *zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	return &logger
}

// Nop returns a logger that discards everything.
func Nop() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}
