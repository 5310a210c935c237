package audit

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/pgwarden/pgwarden/internal/classifier"
	"github.com/pgwarden/pgwarden/internal/postgres"
)

func makeTable(name string, rls bool, policyDefs ...string) (postgres.TableSecurity, []PolicyAssessment) {
	t := postgres.TableSecurity{Schema: "public", Name: name, RLSEnabled: rls}
	h := classifier.NewHeuristic(classifier.Markers{})

	var assessments []PolicyAssessment
	for i, def := range policyDefs {
		p := postgres.Policy{
			Name:       name + "_policy_" + string(rune('a'+i)),
			Command:    postgres.CommandSelect,
			Definition: def,
			Permissive: true,
		}
		t.Policies = append(t.Policies, p)
		assessments = append(assessments, PolicyAssessment{Policy: p, Classification: h.Classify(def)})
	}
	return t, assessments
}

func TestAggregate_RLSDisabled(t *testing.T) {
	table, assessments := makeTable("invoices", false)
	f := Aggregate(table, assessments, nil)

	if f.Score != 0 {
		t.Errorf("score = %d, want 0", f.Score)
	}
	if len(f.Recommendations) == 0 {
		t.Fatal("expected a recommendation for disabled RLS")
	}
	if f.Recommendations[0].Code != CodeRLSDisabled {
		t.Errorf("code = %s, want RLS_DISABLED", f.Recommendations[0].Code)
	}
	if f.Recommendations[0].Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", f.Recommendations[0].Severity)
	}
}

func TestAggregate_RLSEnabledNoPolicies(t *testing.T) {
	table, assessments := makeTable("audit_log", true)
	f := Aggregate(table, assessments, nil)

	if f.Score != 0 {
		t.Errorf("score = %d, want 0", f.Score)
	}
	if len(f.Recommendations) != 1 || f.Recommendations[0].Code != CodeRLSNoPolicies {
		t.Fatalf("unexpected recommendations: %+v", f.Recommendations)
	}
	// Fail-closed, not a leak, but still critical: it silently breaks access.
	if f.Recommendations[0].Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", f.Recommendations[0].Severity)
	}
}

func TestAggregate_AllPoliciesSecured(t *testing.T) {
	table, assessments := makeTable("orders", true,
		"tenant_id = auth.uid()",
		"owner_id = auth.uid()",
	)
	f := Aggregate(table, assessments, nil)

	if f.Score != 100 {
		t.Errorf("score = %d, want 100", f.Score)
	}
	if len(f.Recommendations) != 0 {
		t.Errorf("unexpected recommendations: %+v", f.Recommendations)
	}
}

// One wide-open policy on an RLS-enabled table: 100 - round(60/1) = 40.
func TestAggregate_SingleInsecurePolicy(t *testing.T) {
	table, assessments := makeTable("orders", true, "true")
	f := Aggregate(table, assessments, nil)

	if f.Score != 40 {
		t.Errorf("score = %d, want 40", f.Score)
	}
	if len(f.Recommendations) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(f.Recommendations))
	}
	rec := f.Recommendations[0]
	if rec.Code != CodeInsecurePolicy {
		t.Errorf("code = %s, want INSECURE_POLICY", rec.Code)
	}
	if !strings.Contains(rec.Message, "Insecure") || !strings.Contains(rec.Message, "no auth reference") {
		t.Errorf("message missing expected wording: %q", rec.Message)
	}
}

func TestAggregate_BlendedScore(t *testing.T) {
	tests := []struct {
		name string
		defs []string
		want int
	}{
		{"one of two insecure", []string{"tenant_id = auth.uid()", "true"}, 70},
		{"two of two insecure", []string{"true", "status = 'open'"}, 40},
		{"one of three insecure", []string{"tenant_id = auth.uid()", "org_id = auth.uid()", "true"}, 80},
		{"three of three insecure", []string{"true", "true", "true"}, 40},
		{"one of four insecure", []string{"tenant_id = auth.uid()", "tenant_id = auth.uid()", "tenant_id = auth.uid()", "true"}, 85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, assessments := makeTable("t", true, tt.defs...)
			f := Aggregate(table, assessments, nil)
			if f.Score != tt.want {
				t.Errorf("score = %d, want %d", f.Score, tt.want)
			}
		})
	}
}

func TestAggregate_ProbeDoesNotChangeScore(t *testing.T) {
	table, assessments := makeTable("orders", true, "true")

	probe := &postgres.ProbeResult{Table: "public.orders", Status: postgres.ProbeAllowed, RowCount: 3}
	with := Aggregate(table, assessments, probe)
	without := Aggregate(table, assessments, nil)

	if with.Score != without.Score {
		t.Errorf("probe changed score: %d != %d", with.Score, without.Score)
	}
}

func TestAggregate_ExposureUpgradesSeverity(t *testing.T) {
	table, assessments := makeTable("orders", true, "true")
	probe := &postgres.ProbeResult{Table: "public.orders", Status: postgres.ProbeAllowed, RowCount: 3}

	f := Aggregate(table, assessments, probe)
	if f.Recommendations[0].Code != CodeCrossTenantExposure {
		t.Fatalf("expected CROSS_TENANT_EXPOSURE first, got %+v", f.Recommendations)
	}
	if f.Recommendations[0].Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", f.Recommendations[0].Severity)
	}
}

func TestAggregate_NoExposureWhenEmptyOrSecured(t *testing.T) {
	// Allowed with zero rows is "allowed but empty": no exposure observed.
	table, assessments := makeTable("orders", true, "true")
	probe := &postgres.ProbeResult{Table: "public.orders", Status: postgres.ProbeAllowed, RowCount: 0}
	f := Aggregate(table, assessments, probe)
	for _, rec := range f.Recommendations {
		if rec.Code == CodeCrossTenantExposure {
			t.Errorf("unexpected exposure recommendation on empty read")
		}
	}

	// A secured policy means rows coming back is the intended behavior.
	table, assessments = makeTable("orders", true, "tenant_id = auth.uid()")
	probe = &postgres.ProbeResult{Table: "public.orders", Status: postgres.ProbeAllowed, RowCount: 5}
	f = Aggregate(table, assessments, probe)
	if len(f.Recommendations) != 0 {
		t.Errorf("unexpected recommendations: %+v", f.Recommendations)
	}
}

func TestAggregate_ProbeErrorNoted(t *testing.T) {
	table, assessments := makeTable("orders", true, "tenant_id = auth.uid()")
	probe := &postgres.ProbeResult{Table: "public.orders", Status: postgres.ProbeError, ErrorMessage: "canceling statement"}

	f := Aggregate(table, assessments, probe)
	if f.Score != 100 {
		t.Errorf("probe error changed score: %d", f.Score)
	}
	if len(f.Recommendations) != 1 || f.Recommendations[0].Code != CodeProbeFailed {
		t.Fatalf("expected PROBE_FAILED note, got %+v", f.Recommendations)
	}
	if f.Recommendations[0].Severity != SeverityInfo {
		t.Errorf("severity = %s, want info", f.Recommendations[0].Severity)
	}
	if !strings.Contains(f.Recommendations[0].Message, "canceling statement") {
		t.Errorf("message should carry the probe error verbatim: %q", f.Recommendations[0].Message)
	}
}

func TestAggregate_PolicyLookupWarning(t *testing.T) {
	table, _ := makeTable("flaky", true)
	table.Warning = "policy lookup failed: timeout"

	f := Aggregate(table, nil, nil)
	found := false
	for _, rec := range f.Recommendations {
		if rec.Code == CodePolicyLookupFailed {
			found = true
		}
	}
	if !found {
		t.Errorf("expected POLICY_LOOKUP_FAILED recommendation: %+v", f.Recommendations)
	}
}

func TestOverallScore(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   int
	}{
		{"empty", nil, 0},
		{"single", []int{40}, 40},
		{"mean", []int{100, 0}, 50},
		{"rounds up", []int{100, 40, 40}, 60},
		{"rounds half", []int{100, 85}, 93},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := make([]Finding, len(tt.scores))
			for i, s := range tt.scores {
				findings[i] = Finding{Score: s}
			}
			if got := OverallScore(findings); got != tt.want {
				t.Errorf("overall = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOverallScore_PermutationInvariant(t *testing.T) {
	findings := []Finding{{Score: 100}, {Score: 40}, {Score: 0}, {Score: 85}, {Score: 70}}
	want := OverallScore(findings)

	for range 20 {
		rand.Shuffle(len(findings), func(i, j int) {
			findings[i], findings[j] = findings[j], findings[i]
		})
		if got := OverallScore(findings); got != want {
			t.Fatalf("overall changed under permutation: %d != %d", got, want)
		}
	}
}

func TestRiskOf_Thresholds(t *testing.T) {
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{100, RiskHigh},
		{80, RiskHigh},
		{79, RiskMedium},
		{40, RiskMedium},
		{39, RiskLow},
		{0, RiskLow},
	}

	for _, tt := range tests {
		if got := RiskOf(tt.score); got != tt.want {
			t.Errorf("RiskOf(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestDistribute(t *testing.T) {
	findings := []Finding{{Score: 100}, {Score: 80}, {Score: 45}, {Score: 0}}
	d := Distribute(findings)
	if d.High != 2 || d.Medium != 1 || d.Low != 1 {
		t.Errorf("distribution = %+v", d)
	}
}

func TestMaxSeverity_And_ExitCode(t *testing.T) {
	findings := []Finding{
		{Recommendations: []Recommendation{{Severity: SeverityMedium}}},
		{Recommendations: []Recommendation{{Severity: SeverityCritical}}},
	}
	if got := MaxSeverity(findings); got != SeverityCritical {
		t.Errorf("max severity = %s", got)
	}
	if ExitCode(SeverityCritical) != 2 || ExitCode(SeverityHigh) != 2 {
		t.Error("critical/high should exit 2")
	}
	if ExitCode(SeverityMedium) != 1 {
		t.Error("medium should exit 1")
	}
	if ExitCode(SeverityLow) != 0 || ExitCode(SeverityInfo) != 0 {
		t.Error("low/info should exit 0")
	}
}
