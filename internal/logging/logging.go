// Package logging provides the leveled logger shared by all glone components.
// Entries go to the console and, when configured, to a JSON log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/thediveo/enumflag/v2"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var LevelIds = map[Level][]string{
	Debug: {"debug"},
	Info:  {"info"},
	Warn:  {"warn", "warning"},
	Error: {"error"},
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var FormatIds = map[Format][]string{
	FormatText: {"text"},
	FormatJSON: {"json"},
}

// NewLevelFlag and NewFormatFlag bind the enums to pflag values.
func NewLevelFlag(l *Level) *enumflag.EnumFlagValue[Level] {
	return enumflag.New(l, "level", LevelIds, enumflag.EnumCaseInsensitive)
}

func NewFormatFlag(f *Format) *enumflag.EnumFlagValue[Format] {
	return enumflag.New(f, "format", FormatIds, enumflag.EnumCaseInsensitive)
}

type Config struct {
	Level  Level
	Format Format
	// File receives every entry as JSON in addition to the console.
	File string
	// Output is the console writer, os.Stderr when nil.
	Output io.Writer
}

type Logger struct {
	log  zerolog.Logger
	file *os.File
}

func New(cfg Config) (*Logger, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var console io.Writer = out
	if cfg.Format == FormatText {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := &Logger{}
	writers := []io.Writer{console}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.file = f
		writers = append(writers, f)
	}

	logger.log = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(cfg.Level.zerolog()).
		With().Timestamp().Logger()

	return logger, nil
}

// NewLogger returns a logger writing plain JSON entries to w.
func NewLogger(w io.Writer, level Level) *Logger {
	return &Logger{log: zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()}
}

func NewNop() *Logger {
	return &Logger{log: zerolog.Nop()}
}

// With returns a child logger that adds the field to every entry.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{log: l.log.With().Str(key, value).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
