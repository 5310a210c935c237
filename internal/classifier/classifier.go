// Package classifier decides whether a policy predicate ties access to the
// caller's identity and to a tenant-scoping column. Classification is a
// syntactic heuristic over the predicate source text, not a semantic proof:
// a predicate that reaches tenant isolation through a joined view or a
// differently named column is invisible to it. The PredicateClassifier
// interface keeps the mechanism pluggable.
package classifier

import "strings"

// Classification holds the two derived properties of one policy predicate.
type Classification struct {
	HasIdentityReference bool `json:"hasIdentityReference"`
	HasTenantReference   bool `json:"hasTenantReference"`
}

// Secured reports whether the predicate references both the caller identity
// and a tenant-scoping column.
func (c Classification) Secured() bool {
	return c.HasIdentityReference && c.HasTenantReference
}

// PredicateClassifier classifies a policy's predicate source text.
// Implementations must be pure: the same input always yields the same output.
type PredicateClassifier interface {
	Classify(definition string) Classification
}

// Markers are the substrings the heuristic classifier looks for.
type Markers struct {
	Identity []string `yaml:"identity"`
	Tenant   []string `yaml:"tenant"`
}

// DefaultMarkers covers the canonical caller-identity functions and the
// usual tenant/owner column names.
func DefaultMarkers() Markers {
	return Markers{
		Identity: []string{
			"auth.uid()",
			"auth.jwt()",
			"request.jwt.claims",
		},
		Tenant: []string{
			"tenant_id",
			"org_id",
			"organization_id",
			"user_id",
			"owner_id",
			"created_by",
		},
	}
}

// Heuristic classifies by case-insensitive substring match.
type Heuristic struct {
	markers Markers
}

// NewHeuristic builds a heuristic classifier. Empty marker lists fall back
// to the defaults.
func NewHeuristic(markers Markers) *Heuristic {
	defaults := DefaultMarkers()
	if len(markers.Identity) == 0 {
		markers.Identity = defaults.Identity
	}
	if len(markers.Tenant) == 0 {
		markers.Tenant = defaults.Tenant
	}
	return &Heuristic{markers: markers}
}

// Classify scans the predicate text for identity and tenant markers.
func (h *Heuristic) Classify(definition string) Classification {
	lower := strings.ToLower(definition)

	var c Classification
	for _, m := range h.markers.Identity {
		if strings.Contains(lower, strings.ToLower(m)) {
			c.HasIdentityReference = true
			break
		}
	}
	for _, m := range h.markers.Tenant {
		if strings.Contains(lower, strings.ToLower(m)) {
			c.HasTenantReference = true
			break
		}
	}
	return c
}
