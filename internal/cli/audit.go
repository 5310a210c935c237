package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pgwarden/pgwarden/internal/audit"
	"github.com/pgwarden/pgwarden/internal/baseline"
	"github.com/pgwarden/pgwarden/internal/classifier"
	"github.com/pgwarden/pgwarden/internal/postgres"
	"github.com/pgwarden/pgwarden/internal/report"
	"github.com/pgwarden/pgwarden/internal/suppress"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	var (
		format         string
		output         string
		classifierKind string
		skipProbe      bool
		failOn         string
		baselinePath   string
		updateBaseline string
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit RLS configuration: inspect, classify, probe, score",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbURL == "" {
				return fmt.Errorf("--db-url is required")
			}

			// Config defaults apply when flags are not explicitly set
			if !cmd.Flags().Changed("format") && cfg.Defaults.Format != "" {
				format = cfg.Defaults.Format
			}
			if !cmd.Flags().Changed("classifier") && cfg.Defaults.Classifier != "" {
				classifierKind = cfg.Defaults.Classifier
			}

			cls, err := buildClassifier(classifierKind)
			if err != nil {
				return err
			}

			timeout := cfg.TimeoutDuration()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			inspector, err := postgres.NewInspector(ctx, postgres.Config{URL: dbURL})
			if err != nil {
				return err
			}
			defer inspector.Close()

			ver, err := inspector.ServerVersion(ctx)
			if err != nil {
				return err
			}
			slog.Info("connected", "version", ver)

			// List up front so exclusion filters apply before the engine runs
			tables, err := inspector.ListTableSecurity(ctx)
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}
			tables = postgres.FilterTables(tables,
				postgres.ResolveSchemas(cfg.Exclude.Schemas), cfg.Exclude.Tables)
			if tables == nil {
				// The listing already ran; hand the engine an empty set
				// rather than a nil one, which would make it list again.
				tables = []postgres.TableSecurity{}
			}
			slog.Info("inspected", "tables", len(tables))

			engine := audit.NewEngine(inspector, inspector, postgres.NewProber(inspector.Pool()), cls)
			result, err := engine.Run(ctx, audit.RunOptions{
				Tables:    tables,
				SkipProbe: skipProbe,
			})
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}

			// Save baseline before filtering
			if updateBaseline != "" {
				if err := baseline.Save(updateBaseline, result.Findings); err != nil {
					return fmt.Errorf("save baseline: %w", err)
				}
				slog.Info("baseline saved", "path", updateBaseline)
			}

			findings, totalSuppressed, err := filterFindings(result.Findings, baselinePath)
			if err != nil {
				return err
			}
			result.Findings = findings
			if totalSuppressed > 0 {
				slog.Info("recommendations suppressed", "count", totalSuppressed)
			}

			rep := report.New("audit", cmd.Root().Version, result)

			w, closeOut, err := openOutput(cmd, output, report.Format(format))
			if err != nil {
				return err
			}
			defer closeOut()

			if err := report.Write(w, &rep, report.Format(format)); err != nil {
				return fmt.Errorf("write report: %w", err)
			}

			if failOn != "" && shouldFailOn(rep.Findings, failOn) {
				return &ExitError{Code: 2}
			}
			if code := audit.ExitCode(rep.MaxSeverity); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json, csv, or sarif")
	cmd.Flags().StringVar(&output, "output", "", "write the report to a file (csv defaults to rls-audit-<date>.csv)")
	cmd.Flags().StringVar(&classifierKind, "classifier", "heuristic", "predicate classifier: heuristic or parser")
	cmd.Flags().BoolVar(&skipProbe, "skip-probe", false, "skip live access probes (structural audit only)")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "exit 2 if findings match (comma-separated codes or severities: critical,high)")
	cmd.Flags().StringVar(&baselinePath, "baseline", "", "path to baseline file (suppress known findings)")
	cmd.Flags().StringVar(&updateBaseline, "update-baseline", "", "save current findings as new baseline")

	return cmd
}

func buildClassifier(kind string) (classifier.PredicateClassifier, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "heuristic":
		return classifier.NewHeuristic(cfg.Markers), nil
	case "parser":
		return classifier.NewParser(cfg.Markers), nil
	default:
		return nil, fmt.Errorf("unknown classifier %q (want heuristic or parser)", kind)
	}
}

// openOutput resolves the report destination. CSV with no explicit output
// goes to the conventional dated file rather than stdout.
func openOutput(cmd *cobra.Command, output string, format report.Format) (io.Writer, func(), error) {
	if output == "" && format == report.FormatCSV {
		output = report.CSVFilename(time.Now())
	}
	if output == "" {
		return cmd.OutOrStdout(), func() {}, nil
	}

	f, err := os.Create(output)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	slog.Info("writing report", "path", output)
	return f, func() { _ = f.Close() }, nil
}

// filterFindings applies baseline and suppression rules to findings.
func filterFindings(findings []audit.Finding, baselinePath string) ([]audit.Finding, int, error) {
	totalSuppressed := 0

	if baselinePath != "" {
		bl, err := baseline.Load(baselinePath)
		if err != nil {
			return nil, 0, fmt.Errorf("load baseline: %w", err)
		}
		var n int
		findings, n = bl.Filter(findings)
		totalSuppressed += n
	}

	// Apply suppress rules (.pgwarden-ignore.yml + config exclude.codes)
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	rules, err := suppress.LoadRules(cwd)
	if err != nil {
		return nil, 0, fmt.Errorf("load suppress rules: %w", err)
	}
	rules.WithConfigCodes(cfg.Exclude.Codes)

	var n int
	findings, n = rules.Filter(findings)
	totalSuppressed += n

	return findings, totalSuppressed, nil
}

// shouldFailOn returns true if any recommendation matches the fail-on
// criteria. Criteria can be codes (RLS_DISABLED) or severities (critical).
func shouldFailOn(findings []audit.Finding, failOn string) bool {
	codes := make(map[string]bool)
	severities := make(map[string]bool)

	for _, p := range strings.Split(failOn, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lower := strings.ToLower(p)
		switch lower {
		case "critical", "high", "medium", "low", "info":
			severities[lower] = true
		default:
			codes[strings.ToUpper(p)] = true
		}
	}

	for i := range findings {
		for _, rec := range findings[i].Recommendations {
			if codes[string(rec.Code)] {
				return true
			}
			if severities[string(rec.Severity)] {
				return true
			}
		}
	}
	return false
}
