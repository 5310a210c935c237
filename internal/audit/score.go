package audit

import (
	"fmt"
	"math"

	"github.com/pgwarden/pgwarden/internal/postgres"
)

// insecurePenaltyBudget is spread evenly across a table's policies: each
// policy lacking an identity+tenant reference costs round(60/policyCount)
// points off the starting score of 100.
const insecurePenaltyBudget = 60.0

// Aggregate combines a table's declared configuration, its policy
// classifications, and an optional probe result into a finding. It is a
// pure function: same inputs, same finding.
func Aggregate(table postgres.TableSecurity, assessments []PolicyAssessment, probe *postgres.ProbeResult) Finding {
	f := Finding{
		Table:      table.QualifiedName(),
		RLSEnabled: table.RLSEnabled,
		Policies:   assessments,
		Warning:    table.Warning,
	}

	switch {
	case !table.RLSEnabled:
		f.Score = 0
		f.Recommendations = append(f.Recommendations, Recommendation{
			Code:     CodeRLSDisabled,
			Severity: SeverityCritical,
			Message:  "Row-level security is disabled; every session sees every row. Enable RLS on this table.",
		})
	case len(assessments) == 0:
		// Fail-closed: RLS with no policies denies all access. Not a leak,
		// but it silently breaks the application.
		f.Score = 0
		f.Recommendations = append(f.Recommendations, Recommendation{
			Code:     CodeRLSNoPolicies,
			Severity: SeverityCritical,
			Message:  "RLS is enabled with no policies, which denies all access; add explicit policies.",
		})
	default:
		penalty := int(math.Round(insecurePenaltyBudget / float64(len(assessments))))
		score := 100
		for i := range assessments {
			a := &assessments[i]
			if a.Secured() {
				continue
			}
			score -= penalty
			f.Recommendations = append(f.Recommendations, Recommendation{
				Code:     CodeInsecurePolicy,
				Severity: SeverityHigh,
				Message: fmt.Sprintf("Insecure policy %q (%s) has no auth reference tying access to identity and tenant.",
					a.Policy.Name, a.Policy.Command),
			})
		}
		if score < 0 {
			score = 0
		}
		f.Score = score
	}

	// The probe never changes the score, only the severity of the story:
	// rows actually came back on a table with no secured policy.
	if probe != nil && probe.Status == postgres.ProbeAllowed && probe.RowCount > 0 && !f.HasSecuredPolicy() {
		f.Recommendations = append([]Recommendation{{
			Code:     CodeCrossTenantExposure,
			Severity: SeverityCritical,
			Message: fmt.Sprintf("Cross-tenant data exposure observed: the live session read %d row(s) with no secured policy in place.",
				probe.RowCount),
		}}, f.Recommendations...)
	}

	if probe != nil && probe.Status == postgres.ProbeError {
		f.Recommendations = append(f.Recommendations, Recommendation{
			Code:     CodeProbeFailed,
			Severity: SeverityInfo,
			Message:  "Access probe failed: " + probe.ErrorMessage,
		})
	}

	if table.Warning != "" {
		f.Recommendations = append(f.Recommendations, Recommendation{
			Code:     CodePolicyLookupFailed,
			Severity: SeverityMedium,
			Message:  "Policy lookup failed for this table; findings are based on the RLS flag alone. " + table.Warning,
		})
	}

	return f
}

// OverallScore is the arithmetic mean of table scores, rounded to the
// nearest integer. An empty audit scores zero.
func OverallScore(findings []Finding) int {
	if len(findings) == 0 {
		return 0
	}
	sum := 0
	for i := range findings {
		sum += findings[i].Score
	}
	return int(math.Round(float64(sum) / float64(len(findings))))
}

// RiskOf buckets a score into high/medium/low.
func RiskOf(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Distribute counts findings per risk bucket.
func Distribute(findings []Finding) Distribution {
	var d Distribution
	for i := range findings {
		switch RiskOf(findings[i].Score) {
		case RiskHigh:
			d.High++
		case RiskMedium:
			d.Medium++
		default:
			d.Low++
		}
	}
	return d
}
