package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the global logger
type Options struct {
	Name    string // log file name without extension
	Dir     string // empty disables the file sink
	Level   zerolog.Level
	Console io.Writer
}

// Setup points the global zerolog logger at the console and, when a directory
// is set, a rotating file. The returned closer flushes the file sink.
func Setup(opts Options) io.Closer {
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if opts.Name == "" {
		opts.Name = "spreadbot"
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(opts.Level)

	console := zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: "15:04:05"}
	if opts.Dir == "" {
		log.Logger = log.Output(console)
		return nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, opts.Name+".log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).With().Timestamp().Logger()
	return file
}

// Level picks the level from CLI flags, with debug winning
func Level(base zerolog.Level, verbose, debug bool) zerolog.Level {
	switch {
	case debug:
		return zerolog.DebugLevel
	case verbose && base > zerolog.InfoLevel:
		return zerolog.InfoLevel
	case verbose:
		return zerolog.DebugLevel
	}
	return base
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
