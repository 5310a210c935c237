package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pgwarden/pgwarden/internal/audit"
	"github.com/pgwarden/pgwarden/internal/postgres"
)

// Format controls report output format.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatSARIF Format = "sarif"
)

// Metadata holds report context.
type Metadata struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
}

// Summary rolls the audit up: table/policy counts and the risk distribution.
type Summary struct {
	Tables   int `json:"tables"`
	Policies int `json:"policies"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Untested int `json:"untested"`
}

// Row is one line of the tabular report. Each table contributes either a
// single synthetic row (RLS disabled, or no policies) or one row per policy.
// Table-level cells belong once per table: on continuation rows of a
// multi-policy table, Table, RLSEnabled, and TestResult are empty.
type Row struct {
	Table      string `json:"table,omitempty"`
	RLSEnabled string `json:"rlsEnabled,omitempty"`
	PolicyName string `json:"policyName"`
	Command    string `json:"command"`
	Secured    string `json:"secured"`
	TestResult string `json:"testResult,omitempty"`
}

// Report is the exported audit artifact.
type Report struct {
	Metadata        Metadata                        `json:"metadata"`
	Rows            []Row                           `json:"rows"`
	Findings        []audit.Finding                 `json:"findings"`
	Probes          map[string]postgres.ProbeResult `json:"probes"`
	OverallScore    int                             `json:"overallScore"`
	Distribution    audit.Distribution              `json:"distribution"`
	MaxSeverity     audit.Severity                  `json:"maxSeverity"`
	Summary         Summary                         `json:"summary"`
	ProbeSkipReason string                          `json:"probeSkipReason,omitempty"`
}

// New builds a report from an audit result. Findings are stable-sorted by
// table name for reproducibility.
func New(command, version string, result *audit.Result) Report {
	findings := make([]audit.Finding, len(result.Findings))
	copy(findings, result.Findings)
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Table < findings[j].Table })

	summary := Summary{Tables: len(findings)}
	for i := range findings {
		summary.Policies += len(findings[i].Policies)
		switch audit.RiskOf(findings[i].Score) {
		case audit.RiskHigh:
			summary.High++
		case audit.RiskMedium:
			summary.Medium++
		default:
			summary.Low++
		}
	}
	for _, pr := range result.Probes {
		if pr.Status == postgres.ProbeUntested {
			summary.Untested++
		}
	}

	return Report{
		Metadata: Metadata{
			Tool:      "pgwarden",
			Version:   version,
			Command:   command,
			Timestamp: result.GeneratedAt.Format(time.RFC3339),
		},
		Rows:            BuildRows(findings, result.Probes),
		Findings:        findings,
		Probes:          result.Probes,
		OverallScore:    result.OverallScore,
		Distribution:    result.Distribution,
		MaxSeverity:     audit.MaxSeverity(findings),
		Summary:         summary,
		ProbeSkipReason: result.ProbeSkipReason,
	}
}

// BuildRows applies the grouping rule. Input findings must already be
// sorted; the produced rows keep that order.
func BuildRows(findings []audit.Finding, probes map[string]postgres.ProbeResult) []Row {
	var rows []Row
	for i := range findings {
		f := &findings[i]

		var probe *postgres.ProbeResult
		if pr, ok := probes[f.Table]; ok {
			probe = &pr
		}

		if !f.RLSEnabled || len(f.Policies) == 0 {
			rows = append(rows, Row{
				Table:      f.Table,
				RLSEnabled: yesNo(f.RLSEnabled),
				PolicyName: "-",
				Command:    "-",
				Secured:    "-",
				TestResult: TestResultCell(probe),
			})
			continue
		}

		for j := range f.Policies {
			a := &f.Policies[j]
			row := Row{
				PolicyName: a.Policy.Name,
				Command:    string(a.Policy.Command),
				Secured:    yesNo(a.Secured()),
			}
			if j == 0 {
				row.Table = f.Table
				row.RLSEnabled = yesNo(f.RLSEnabled)
				row.TestResult = TestResultCell(probe)
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// TestResultCell renders a probe outcome. Untested, blocked, and error are
// deliberately distinct: the absence of a test is a different finding from
// a confirmed denial.
func TestResultCell(probe *postgres.ProbeResult) string {
	if probe == nil {
		return "-"
	}
	switch probe.Status {
	case postgres.ProbeAllowed:
		return fmt.Sprintf("✅ Allowed (%d rows)", probe.RowCount)
	case postgres.ProbeBlocked:
		return "❌ Blocked"
	case postgres.ProbeError:
		return "⚠️ Error: " + probe.ErrorMessage
	default:
		return "Untested"
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Write outputs the report in the given format.
func Write(w io.Writer, report *Report, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, report)
	case FormatCSV:
		return writeCSV(w, report)
	case FormatSARIF:
		return writeSARIF(w, report)
	default:
		return writeText(w, report)
	}
}

func writeJSON(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
