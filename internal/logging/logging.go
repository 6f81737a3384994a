package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// NewLogger returns a tint logger writing to w. Colour is only used when w
// is a terminal. quiet raises the level to warn.
func NewLogger(w io.Writer, level string, quiet bool) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if quiet && lvl < slog.LevelWarn {
		lvl = slog.LevelWarn
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	})
	return slog.New(handler), nil
}

// Setup installs a stderr logger as the slog default.
func Setup(level string, quiet bool) error {
	logger, err := NewLogger(os.Stderr, level, quiet)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

type Summary struct {
	Downloaded   int
	Deleted      int
	Failed       int
	DeleteFailed int
	Bytes        int64
	Duration     time.Duration
	DryRun       bool
}

// PrintSummary prints a summary of the sync operation
func PrintSummary(w io.Writer, quiet bool, s Summary) {
	errors := s.Failed + s.DeleteFailed
	if quiet && errors == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Summary ===")
	if s.DryRun {
		fmt.Fprintln(w, "(dry run, nothing was changed)")
	}
	fmt.Fprintf(w, "Downloaded: %d files (%s)\n", s.Downloaded, humanize.Bytes(uint64(s.Bytes)))
	fmt.Fprintf(w, "Deleted: %d files\n", s.Deleted)
	if errors > 0 {
		fmt.Fprintf(w, "Errors: %d\n", errors)
	}
	fmt.Fprintf(w, "Duration: %s\n", s.Duration.Round(time.Millisecond))
}
