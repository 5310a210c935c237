package report

import (
	"fmt"
	"io"
	"os"

	"github.com/pgwarden/pgwarden/internal/audit"
)

var severityLabel = map[audit.Severity]string{
	audit.SeverityCritical: "CRITICAL",
	audit.SeverityHigh:     "HIGH",
	audit.SeverityMedium:   "MEDIUM",
	audit.SeverityLow:      "LOW",
	audit.SeverityInfo:     "INFO",
}

func writeText(w io.Writer, report *Report) error {
	if len(report.Findings) == 0 {
		_, err := fmt.Fprintln(w, "No tables audited.")
		return err
	}

	colors := isTTY(w) && os.Getenv("NO_COLOR") == ""

	for i := range report.Findings {
		f := &report.Findings[i]

		probeCell := "-"
		if pr, ok := report.Probes[f.Table]; ok {
			probeCell = TestResultCell(&pr)
		}

		rls := "enabled"
		if !f.RLSEnabled {
			rls = "disabled"
		}

		header := fmt.Sprintf("%s  score=%d (%s risk)  RLS %s  probe: %s",
			f.Table, f.Score, audit.RiskOf(f.Score), rls, probeCell)
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}

		for j := range f.Policies {
			a := &f.Policies[j]
			if _, err := fmt.Fprintf(w, "  policy %s (%s): identity+tenant=%s\n",
				a.Policy.Name, a.Policy.Command, yesNo(a.Secured())); err != nil {
				return err
			}
		}

		for _, r := range f.Recommendations {
			label := colorize("["+severityLabel[r.Severity]+"]", r.Severity, colors)
			if _, err := fmt.Fprintf(w, "  %s %s: %s\n", label, r.Code, r.Message); err != nil {
				return err
			}
		}
	}

	if report.ProbeSkipReason != "" {
		if _, err := fmt.Fprintf(w, "\nProbing skipped: %s\n", report.ProbeSkipReason); err != nil {
			return err
		}
	}

	untested := ""
	if report.Summary.Untested > 0 {
		untested = fmt.Sprintf(" untested=%d", report.Summary.Untested)
	}
	_, err := fmt.Fprintf(w, "\nOverall score: %d/100 across %d tables (high=%d medium=%d low=%d%s)\n",
		report.OverallScore, report.Summary.Tables,
		report.Distribution.High, report.Distribution.Medium, report.Distribution.Low, untested)
	return err
}
