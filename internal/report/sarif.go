package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/pgwarden/pgwarden/internal/audit"
)

// SARIF 2.1.0 types — minimal subset for valid output.

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string            `json:"id"`
	ShortDescription sarifMessage      `json:"shortDescription"`
	DefaultConfig    sarifRuleDefaults `json:"defaultConfiguration"`
}

type sarifRuleDefaults struct {
	Level string `json:"level"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
}

type sarifLocation struct {
	LogicalLocations []sarifLogicalLocation `json:"logicalLocations,omitempty"`
}

type sarifLogicalLocation struct {
	Name               string `json:"name"`
	FullyQualifiedName string `json:"fullyQualifiedName"`
	Kind               string `json:"kind"`
}

var ruleDescriptions = map[audit.Code]string{
	audit.CodeRLSDisabled:         "Row-level security is disabled on a tenant table",
	audit.CodeRLSNoPolicies:       "RLS is enabled with no policies (fail-closed, denies all access)",
	audit.CodeInsecurePolicy:      "Policy predicate has no identity+tenant reference",
	audit.CodeCrossTenantExposure: "Live probe read rows on a table with no secured policy",
	audit.CodePolicyLookupFailed:  "Policy lookup failed; finding based on RLS flag alone",
	audit.CodeProbeFailed:         "Access probe failed with an unexpected error",
}

var severityToLevel = map[audit.Severity]string{
	audit.SeverityCritical: "error",
	audit.SeverityHigh:     "error",
	audit.SeverityMedium:   "warning",
	audit.SeverityLow:      "note",
	audit.SeverityInfo:     "note",
}

func writeSARIF(w io.Writer, report *Report) error {
	// Collect unique rule IDs across every recommendation
	ruleSet := make(map[audit.Code]bool)
	for i := range report.Findings {
		for _, r := range report.Findings[i].Recommendations {
			ruleSet[r.Code] = true
		}
	}

	codes := make([]audit.Code, 0, len(ruleSet))
	for c := range ruleSet {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	rules := make([]sarifRule, 0, len(codes))
	for _, c := range codes {
		desc := ruleDescriptions[c]
		if desc == "" {
			desc = string(c)
		}
		rules = append(rules, sarifRule{
			ID:               "pgwarden/" + string(c),
			ShortDescription: sarifMessage{Text: desc},
			DefaultConfig:    sarifRuleDefaults{Level: "warning"},
		})
	}

	var results []sarifResult
	for i := range report.Findings {
		f := &report.Findings[i]
		for _, rec := range f.Recommendations {
			level := severityToLevel[rec.Severity]
			if level == "" {
				level = "note"
			}

			msg := fmt.Sprintf("%s [score=%d]", rec.Message, f.Score)
			results = append(results, sarifResult{
				RuleID:  "pgwarden/" + string(rec.Code),
				Level:   level,
				Message: sarifMessage{Text: msg},
				Locations: []sarifLocation{
					{
						LogicalLocations: []sarifLogicalLocation{
							{
								Name:               f.Table,
								FullyQualifiedName: f.Table,
								Kind:               "database/table",
							},
						},
					},
				},
			})
		}
	}

	log := sarifLog{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json",
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:           "pgwarden",
						Version:        report.Metadata.Version,
						InformationURI: "https://github.com/pgwarden/pgwarden",
						Rules:          rules,
					},
				},
				Results: results,
			},
		},
	}

	if log.Runs[0].Results == nil {
		log.Runs[0].Results = []sarifResult{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(log); err != nil {
		return fmt.Errorf("encode SARIF: %w", err)
	}
	return nil
}
