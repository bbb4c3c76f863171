package app

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewFileLogger logs to a rotating file. The interactive client uses it
// because the terminal belongs to the TUI.
func NewFileLogger(cfg LogConfig) (zerolog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return zerolog.Nop(), nil, errors.Wrap(err, "create log dir")
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
	logger := zerolog.New(rotator).Level(level).With().Timestamp().Logger()
	return logger, rotator, nil
}

// NewConsoleLogger logs to w, human readable when w is a terminal and JSON
// otherwise unless cfg.Format forces one.
func NewConsoleLogger(cfg LogConfig, w *os.File) (zerolog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	var out io.Writer = w
	switch strings.ToLower(cfg.Format) {
	case "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	default:
		if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
			out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func parseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "log level %q", level)
	}
	return parsed, nil
}
