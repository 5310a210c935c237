package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// CSVHeader is the fixed column set of the CSV export.
var CSVHeader = []string{
	"Table",
	"RLS Enabled",
	"Policy Name",
	"Command",
	"References Identity+Tenant",
	"Access Test Result",
}

// CSVFilename returns the conventional export name for a given day,
// rls-audit-<ISO-date>.csv.
func CSVFilename(t time.Time) string {
	return "rls-audit-" + t.Format("2006-01-02") + ".csv"
}

// writeCSV serializes the rows plus a trailing summary record. Every field
// is quoted; embedded quotes are escaped by doubling.
func writeCSV(w io.Writer, report *Report) error {
	if err := writeRecord(w, CSVHeader); err != nil {
		return err
	}

	for _, row := range report.Rows {
		record := []string{
			row.Table,
			row.RLSEnabled,
			row.PolicyName,
			row.Command,
			row.Secured,
			row.TestResult,
		}
		if err := writeRecord(w, record); err != nil {
			return err
		}
	}

	summary := []string{
		"Summary",
		fmt.Sprintf("overall=%d", report.OverallScore),
		fmt.Sprintf("high=%d", report.Distribution.High),
		fmt.Sprintf("medium=%d", report.Distribution.Medium),
		fmt.Sprintf("low=%d", report.Distribution.Low),
		fmt.Sprintf("untested=%d", report.Summary.Untested),
	}
	return writeRecord(w, summary)
}

func writeRecord(w io.Writer, fields []string) error {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	_, err := io.WriteString(w, strings.Join(quoted, ",")+"\n")
	return err
}
