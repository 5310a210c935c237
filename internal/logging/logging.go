// Package logging wires the process-wide slog logger for pgwarden.
//
// Audit reports go to stdout; everything here is diagnostics and goes
// to stderr. The default level is warn so a clean audit prints nothing
// but the report. Verbose runs drop to debug, which surfaces per-table
// progress such as probe attempts and policy lookups.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default logger for an audit run.
// With verbose=false the level is warn and records carry no timestamp,
// so warnings like a failed policy lookup or a skipped probe stay
// short. verbose=true enables debug and restores timestamps, which is
// what you want when timing a slow introspection. A nil output falls
// back to os.Stderr.
func Init(verbose bool, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	level := slog.LevelWarn
	var replace func(groups []string, a slog.Attr) slog.Attr
	if verbose {
		level = slog.LevelDebug
	} else {
		replace = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}

	handler := slog.NewTextHandler(output, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replace,
	})

	slog.SetDefault(slog.New(handler))
}
