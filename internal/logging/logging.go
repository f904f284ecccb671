// Package logging builds the slog logger of a run: a console handler and a log file, each with its own level.
package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// FileName is the name of the log file created in Config.FileDir.
const FileName = "app.log"

// Config holds the logging settings.
type Config struct {
	ConsoleLevel string `mapstructure:"console_level"`
	FileLevel    string `mapstructure:"file_level"`
	// FileDir is where the log file is written. Empty disables the log file.
	FileDir string `mapstructure:"file_dir"`
	// JSON switches the console output to JSON lines.
	JSON bool `mapstructure:"json"`
}

// ParseLevel parses a level name, case-insensitively. "warning" and "critical" are accepted as aliases of
// WARN and ERROR. The empty string is INFO.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	case "critical":
		return slog.LevelError, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// VerbosityLevel maps a -v flag count to a console level: 1 is INFO, 2 and more DEBUG.
// It returns false for 0, leaving the configured level in place.
func VerbosityLevel(count int) (slog.Level, bool) {
	switch {
	case count <= 0:
		return 0, false
	case count == 1:
		return slog.LevelInfo, true
	default:
		return slog.LevelDebug, true
	}
}

// New returns a logger writing to console and, unless cfg.FileDir is empty, to a log file truncated at start.
// verbosity overrides the console level when positive. The returned function closes the log file.
func New(cfg Config, console io.Writer, verbosity int) (*slog.Logger, func() error, error) {
	consoleLevel, err := ParseLevel(cfg.ConsoleLevel)
	if err != nil {
		return nil, nil, err
	}
	if l, ok := VerbosityLevel(verbosity); ok {
		consoleLevel = l
	}
	fileLevel := slog.LevelDebug
	if cfg.FileLevel != "" {
		if fileLevel, err = ParseLevel(cfg.FileLevel); err != nil {
			return nil, nil, err
		}
	}

	handlers := []slog.Handler{newConsoleHandler(console, consoleLevel, cfg.JSON)}
	closeFn := func() error { return nil }

	if cfg.FileDir != "" {
		if err := os.MkdirAll(cfg.FileDir, 0750); err != nil {
			return nil, nil, fmt.Errorf("could not create log directory: %w", err)
		}
		f, err := os.Create(filepath.Join(cfg.FileDir, FileName))
		if err != nil {
			return nil, nil, fmt.Errorf("could not create log file: %w", err)
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: fileLevel, AddSource: true}))
		closeFn = f.Close
	}

	return slog.New(fanout(handlers)), closeFn, nil
}

// isTerminal reports whether w is a terminal.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// colorEnabled reports whether levels written to w are coloured, judging w itself and not standard output.
func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal(w)
}

func newConsoleHandler(w io.Writer, level slog.Level, jsonLogs bool) slog.Handler {
	if jsonLogs {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	if colorEnabled(w) {
		w = levelColorWriter{w: w}
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

var levelKey = []byte(" " + slog.LevelKey + "=")

// levelColorWriter colours the level of each text record written through it.
// The text handler quotes values holding escape codes, so the colour is applied to the formatted line.
type levelColorWriter struct {
	w io.Writer
}

func (cw levelColorWriter) Write(p []byte) (int, error) {
	var start int
	if bytes.HasPrefix(p, levelKey[1:]) {
		start = len(levelKey) - 1
	} else if i := bytes.Index(p, levelKey); i >= 0 {
		start = i + len(levelKey)
	} else {
		return cw.w.Write(p)
	}
	end := start + bytes.IndexAny(p[start:], " \n")
	if end < start {
		end = len(p)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText(p[start:end]); err != nil {
		return cw.w.Write(p)
	}

	line := make([]byte, 0, len(p)+16)
	line = append(line, p[:start]...)
	line = append(line, levelColor(lvl).Sprint(string(p[start:end]))...)
	line = append(line, p[end:]...)
	if _, err := cw.w.Write(line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func levelColor(l slog.Level) *color.Color {
	var c *color.Color
	switch {
	case l >= slog.LevelError:
		c = color.New(color.FgHiRed, color.Bold)
	case l >= slog.LevelWarn:
		c = color.New(color.FgYellow)
	case l >= slog.LevelInfo:
		c = color.New(color.FgGreen)
	default:
		c = color.New(color.FgCyan)
	}
	c.EnableColor()
	return c
}

// fanout dispatches each record to every handler enabled for its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
