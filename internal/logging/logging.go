// Package logging builds the process logger from explicit options. It is
// initialised once at startup, before the dispatcher runs.
package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schaermu/component-monitor/internal/systemd"
)

// Format selects the log output format.
type Format string

const (
	FormatAuto    Format = "auto"
	FormatText    Format = "text"
	FormatJSON    Format = "json"
	FormatJournal Format = "journal"
)

// SubsystemKey tags records with the part of the program that emitted them.
const SubsystemKey = "subsystem"

// Options configures New.
type Options struct {
	Debug      bool
	Format     Format
	Output     io.Writer
	Identifier string

	// journalAvailable and stderrIsJournal are replaced in tests.
	journalAvailable func() bool
	stderrIsJournal  func() bool
}

// ParseFormat validates a format name; an empty name means auto.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatText, FormatJSON, FormatJournal:
		return Format(name), nil
	default:
		return "", fmt.Errorf("unknown log format %q (must be auto, text, json or journal)", name)
	}
}

// New creates the logger. Auto format writes to the journal when stderr is
// connected to it and falls back to text otherwise.
func New(opts Options) (*slog.Logger, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	journalAvailable := opts.journalAvailable
	if journalAvailable == nil {
		journalAvailable = systemd.JournalAvailable
	}
	stderrIsJournal := opts.stderrIsJournal
	if stderrIsJournal == nil {
		stderrIsJournal = systemd.StderrIsJournal
	}

	format := opts.Format
	if format == "" || format == FormatAuto {
		format = FormatText
		if stderrIsJournal() && journalAvailable() {
			format = FormatJournal
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case FormatText:
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	case FormatJSON:
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	case FormatJournal:
		if !journalAvailable() {
			return nil, fmt.Errorf("systemd journal is not available")
		}
		handler = systemd.NewJournalHandler(opts.Identifier, level)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return slog.New(handler), nil
}

// Files returns a logger for filesystem operations.
func Files(logger *slog.Logger) *slog.Logger {
	return logger.With(SubsystemKey, "files")
}

// Monitor returns a logger for event monitoring.
func Monitor(logger *slog.Logger) *slog.Logger {
	return logger.With(SubsystemKey, "monitor")
}
