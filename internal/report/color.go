package report

import (
	"io"
	"os"

	"github.com/pgwarden/pgwarden/internal/audit"
)

// ANSI escape codes for severity colors.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[37m"
	colorBold   = "\033[1m"
)

var severityColor = map[audit.Severity]string{
	audit.SeverityCritical: colorBold + colorRed,
	audit.SeverityHigh:     colorRed,
	audit.SeverityMedium:   colorYellow,
	audit.SeverityLow:      colorCyan,
	audit.SeverityInfo:     colorGray,
}

// isTTY returns true if the writer is a terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// colorize wraps s in the severity color when enabled.
func colorize(s string, sev audit.Severity, enabled bool) string {
	if !enabled {
		return s
	}
	c, ok := severityColor[sev]
	if !ok {
		return s
	}
	return c + s + colorReset
}
