package audit

import (
	"time"

	"github.com/pgwarden/pgwarden/internal/classifier"
	"github.com/pgwarden/pgwarden/internal/postgres"
)

// Severity indicates the risk level of a recommendation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Code identifies what kind of issue a recommendation flags.
type Code string

const (
	CodeRLSDisabled          Code = "RLS_DISABLED"
	CodeRLSNoPolicies        Code = "RLS_NO_POLICIES"
	CodeInsecurePolicy       Code = "INSECURE_POLICY"
	CodeCrossTenantExposure  Code = "CROSS_TENANT_EXPOSURE"
	CodePolicyLookupFailed   Code = "POLICY_LOOKUP_FAILED"
	CodeProbeFailed          Code = "PROBE_FAILED"
)

// Recommendation is one human-readable remediation attached to a finding.
type Recommendation struct {
	Code     Code     `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// PolicyAssessment pairs a policy with its predicate classification.
type PolicyAssessment struct {
	Policy         postgres.Policy           `json:"policy"`
	Classification classifier.Classification `json:"classification"`
}

// Secured reports whether the policy references both identity and tenant.
func (a *PolicyAssessment) Secured() bool {
	return a.Classification.Secured()
}

// Finding is the aggregated per-table verdict.
type Finding struct {
	Table           string             `json:"table"`
	RLSEnabled      bool               `json:"rlsEnabled"`
	Score           int                `json:"score"` // 0..100
	Policies        []PolicyAssessment `json:"policies"`
	Recommendations []Recommendation   `json:"recommendations"`
	Warning         string             `json:"warning,omitempty"`
}

// HasSecuredPolicy reports whether any policy on the table is secured.
func (f *Finding) HasSecuredPolicy() bool {
	for i := range f.Policies {
		if f.Policies[i].Secured() {
			return true
		}
	}
	return false
}

// RiskLevel buckets a score: high >= 80, 40 <= medium < 80, low < 40.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// Distribution counts tables per risk bucket.
type Distribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// RunState is the lifecycle of one audit run.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// Result is the self-contained outcome of one audit run. Nothing in it is
// shared with other runs or persisted by the engine.
type Result struct {
	GeneratedAt  time.Time                       `json:"generatedAt"`
	State        RunState                        `json:"state"`
	Tables       []postgres.TableSecurity        `json:"tables"`
	Findings     []Finding                       `json:"findings"`
	Probes       map[string]postgres.ProbeResult `json:"probes"`
	OverallScore int                             `json:"overallScore"`
	Distribution Distribution                    `json:"distribution"`
	// ProbeSkipReason is set when the probing phase did not run
	// (no authenticated session, or probing disabled by the caller).
	ProbeSkipReason string `json:"probeSkipReason,omitempty"`
}

var severityOrder = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MaxSeverity returns the highest recommendation severity across findings.
func MaxSeverity(findings []Finding) Severity {
	max := SeverityInfo
	for i := range findings {
		for _, r := range findings[i].Recommendations {
			if severityOrder[r.Severity] > severityOrder[max] {
				max = r.Severity
			}
		}
	}
	return max
}

// ExitCode maps severity to a CLI exit code.
func ExitCode(s Severity) int {
	switch s {
	case SeverityCritical, SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
