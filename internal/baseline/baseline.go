// Package baseline records known findings so that accepted risk does not
// keep tripping CI. A fingerprint covers one (table, recommendation code)
// pair; scores are not part of the fingerprint, so a table that gets worse
// in a new way still surfaces.
package baseline

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/pgwarden/pgwarden/internal/audit"
)

// Baseline holds fingerprints of previously seen recommendations.
type Baseline struct {
	Fingerprints []string `json:"fingerprints"`
	set          map[string]bool
}

// Load reads a baseline file. Returns an empty baseline if the file does not exist.
func Load(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Baseline{set: make(map[string]bool)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read baseline: %w", err)
	}

	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse baseline: %w", err)
	}
	b.set = make(map[string]bool, len(b.Fingerprints))
	for _, fp := range b.Fingerprints {
		b.set[fp] = true
	}
	return &b, nil
}

// Save writes the current findings' fingerprints to a file.
func Save(path string, findings []audit.Finding) error {
	var fps []string
	seen := make(map[string]bool)
	for i := range findings {
		for _, rec := range findings[i].Recommendations {
			fp := Fingerprint(findings[i].Table, rec.Code)
			if !seen[fp] {
				fps = append(fps, fp)
				seen[fp] = true
			}
		}
	}
	sort.Strings(fps)

	b := Baseline{Fingerprints: fps}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// Contains returns true if the (table, code) pair is baselined.
func (b *Baseline) Contains(table string, code audit.Code) bool {
	return b.set[Fingerprint(table, code)]
}

// Filter strips baselined recommendations from findings. Scores are left
// untouched. Returns the filtered findings and the number of suppressed
// recommendations.
func (b *Baseline) Filter(findings []audit.Finding) ([]audit.Finding, int) {
	if len(b.set) == 0 {
		return findings, 0
	}

	suppressed := 0
	out := make([]audit.Finding, len(findings))
	for i := range findings {
		f := findings[i]
		var kept []audit.Recommendation
		for _, rec := range f.Recommendations {
			if b.Contains(f.Table, rec.Code) {
				suppressed++
			} else {
				kept = append(kept, rec)
			}
		}
		f.Recommendations = kept
		out[i] = f
	}
	return out, suppressed
}

// Fingerprint computes a stable identifier for one recommendation.
func Fingerprint(table string, code audit.Code) string {
	key := string(code) + "|" + table
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h[:16])
}
