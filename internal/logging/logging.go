// Package logging wires zerolog the way the bot reports: short messages on the
// terminal, full structured records in a size-rotated file.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level        string
	ConsoleLevel string
	File         string
	MaxSizeMB    int
	MaxBackups   int
	// Console defaults to os.Stdout.
	Console io.Writer
}

// Logger owns the rotating file so it can be closed on exit.
type Logger struct {
	zerolog.Logger
	file *lumberjack.Logger
}

func New(opts Options) *Logger {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	cw := zerolog.ConsoleWriter{
		Out:           console,
		NoColor:       true,
		PartsOrder:    []string{zerolog.MessageFieldName},
		FormatPrepare: messageOnly,
	}
	writers := []io.Writer{levelWriter{w: cw, min: ParseLevel(opts.ConsoleLevel, zerolog.InfoLevel)}}

	var file *lumberjack.Logger
	if strings.TrimSpace(opts.File) != "" {
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		writers = append(writers, levelWriter{w: file, min: zerolog.DebugLevel})
	}

	base := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level, zerolog.DebugLevel)).
		With().
		Timestamp().
		Logger()
	return &Logger{Logger: base, file: file}
}

func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func ParseLevel(v string, fallback zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return fallback
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// messageOnly strips every field but the message from a console event; the
// file sink keeps them.
func messageOnly(evt map[string]interface{}) error {
	for k := range evt {
		if k != zerolog.MessageFieldName {
			delete(evt, k)
		}
	}
	return nil
}

// levelWriter filters a single sink of a MultiLevelWriter.
type levelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (lw levelWriter) Write(p []byte) (int, error) {
	return lw.w.Write(p)
}

func (lw levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < lw.min {
		return len(p), nil
	}
	return lw.w.Write(p)
}
