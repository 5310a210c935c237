package suppress

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pgwarden/pgwarden/internal/audit"
	"go.yaml.in/yaml/v3"
)

// Suppression is a single rule in the ignore file.
type Suppression struct {
	Table  string `yaml:"table"`
	Code   string `yaml:"code,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

// IgnoreFile is the structure of .pgwarden-ignore.yml.
type IgnoreFile struct {
	Suppressions []Suppression `yaml:"suppressions"`
}

// Rules holds loaded suppression rules from all sources.
type Rules struct {
	ignoreFile IgnoreFile
	// Recommendation codes from config exclude.codes
	configCodes []string
}

// LoadRules loads suppression rules from .pgwarden-ignore.yml in the given directory.
func LoadRules(dir string) (*Rules, error) {
	r := &Rules{}

	path := filepath.Join(dir, ".pgwarden-ignore.yml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, &r.ignoreFile); err != nil {
		return nil, err
	}
	return r, nil
}

// WithConfigCodes adds code-level suppressions from config.
func (r *Rules) WithConfigCodes(codes []string) {
	r.configCodes = codes
}

// IsSuppressed returns true if the recommendation should be suppressed.
func (r *Rules) IsSuppressed(table string, rec *audit.Recommendation) bool {
	// Check config-level code suppressions
	for _, c := range r.configCodes {
		if strings.EqualFold(string(rec.Code), c) {
			return true
		}
	}

	// Check ignore file suppressions
	for _, s := range r.ignoreFile.Suppressions {
		if matchTable(s.Table, table) {
			if s.Code == "" || strings.EqualFold(s.Code, string(rec.Code)) {
				return true
			}
		}
	}

	return false
}

// Filter strips suppressed recommendations from findings.
// Returns the filtered findings and the number of suppressed recommendations.
func (r *Rules) Filter(findings []audit.Finding) ([]audit.Finding, int) {
	if len(r.ignoreFile.Suppressions) == 0 && len(r.configCodes) == 0 {
		return findings, 0
	}

	suppressed := 0
	out := make([]audit.Finding, len(findings))
	for i := range findings {
		f := findings[i]
		var kept []audit.Recommendation
		for j := range f.Recommendations {
			if r.IsSuppressed(f.Table, &f.Recommendations[j]) {
				suppressed++
			} else {
				kept = append(kept, f.Recommendations[j])
			}
		}
		f.Recommendations = kept
		out[i] = f
	}
	return out, suppressed
}

// matchTable matches a table name against a pattern that supports trailing
// wildcards. Patterns may be bare names or schema-qualified.
func matchTable(pattern, table string) bool {
	pattern = strings.ToLower(pattern)
	table = strings.ToLower(table)

	// A bare pattern also matches the table part of schema.table.
	if !strings.Contains(pattern, ".") {
		if idx := strings.LastIndex(table, "."); idx >= 0 {
			table = table[idx+1:]
		}
	}

	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(table, prefix)
	}
	return pattern == table
}
