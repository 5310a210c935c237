package classifier

import "testing"

func TestParser_Classify(t *testing.T) {
	p := NewParser(Markers{})

	tests := []struct {
		name         string
		definition   string
		wantIdentity bool
		wantTenant   bool
	}{
		{"always true", "true", false, false},
		{"identity call", "auth.uid() IS NOT NULL", true, false},
		{"tenant column", "tenant_id = '11111111-1111-1111-1111-111111111111'", false, true},
		{"both", "tenant_id = auth.uid()", true, true},
		{"qualified column", "orders.tenant_id = auth.uid()", true, true},
		{"cast around call", "user_id = (auth.uid())::uuid", true, true},
		{"current_setting claims", "tenant_id = (current_setting('request.jwt.claims', true)::json->>'tenant_id')::uuid", true, true},
		{"current_setting other guc", "tenant_id = current_setting('app.unrelated')::uuid", false, true},
		{"exists subquery", "EXISTS (SELECT 1 FROM memberships m WHERE m.org_id = orders.org_id AND m.member = auth.uid())", true, true},
		{"case expression", "CASE WHEN auth.uid() IS NULL THEN false ELSE tenant_id = auth.uid() END", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := p.Classify(tt.definition)
			if c.HasIdentityReference != tt.wantIdentity {
				t.Errorf("identity = %v, want %v", c.HasIdentityReference, tt.wantIdentity)
			}
			if c.HasTenantReference != tt.wantTenant {
				t.Errorf("tenant = %v, want %v", c.HasTenantReference, tt.wantTenant)
			}
		})
	}
}

// The parser sees through what trips the substring heuristic: markers
// inside string literals are not references.
func TestParser_LiteralIsNotAReference(t *testing.T) {
	p := NewParser(Markers{})
	h := NewHeuristic(Markers{})

	def := "label = 'tenant_id'"

	if got := p.Classify(def); got.HasTenantReference {
		t.Errorf("parser flagged a string literal as a tenant reference")
	}
	if got := h.Classify(def); !got.HasTenantReference {
		t.Errorf("expected the heuristic to be fooled by the literal (documented limitation)")
	}
}

func TestParser_FallsBackOnUnparsablePredicate(t *testing.T) {
	p := NewParser(Markers{})

	// Not valid standalone SQL, but the heuristic still sees the markers.
	c := p.Classify("tenant_id = auth.uid() AND (((")
	if !c.Secured() {
		t.Errorf("expected heuristic fallback to classify markers: %+v", c)
	}
}

func TestParser_Idempotent(t *testing.T) {
	p := NewParser(Markers{})
	def := "EXISTS (SELECT 1 FROM members WHERE org_id = auth.uid())"

	first := p.Classify(def)
	for range 5 {
		if got := p.Classify(def); got != first {
			t.Fatalf("classification changed: %+v != %+v", got, first)
		}
	}
}
