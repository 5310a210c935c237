package postgres

// Config holds PostgreSQL connection settings.
type Config struct {
	URL string
}

// PolicyCommand is the statement kind a policy applies to.
type PolicyCommand string

const (
	CommandAll    PolicyCommand = "ALL"
	CommandSelect PolicyCommand = "SELECT"
	CommandInsert PolicyCommand = "INSERT"
	CommandUpdate PolicyCommand = "UPDATE"
	CommandDelete PolicyCommand = "DELETE"
)

// Policy describes one row-level-security policy attached to a table.
type Policy struct {
	Name       string        `json:"name"`
	Command    PolicyCommand `json:"command"`
	Definition string        `json:"definition"` // USING expression source text
	WithCheck  string        `json:"withCheck,omitempty"`
	Permissive bool          `json:"permissive"`
	Roles      []string      `json:"roles,omitempty"`
}

// TableSecurity describes a table's RLS configuration from pg_class + pg_policies.
type TableSecurity struct {
	Schema     string   `json:"schema"`
	Name       string   `json:"name"`
	RLSEnabled bool     `json:"rlsEnabled"`
	RLSForced  bool     `json:"rlsForced"`
	Policies   []Policy `json:"policies"`
	// Warning is set when the policy lookup for this table failed;
	// the table is still reported with an empty policy list.
	Warning string `json:"warning,omitempty"`
}

// QualifiedName returns schema.name.
func (t *TableSecurity) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// Session is the caller identity the prober runs under. It is read from the
// live connection and never written back.
type Session struct {
	User      string `json:"user"`
	BypassRLS bool   `json:"bypassRls"`
	Subject   string `json:"subject,omitempty"`  // sub claim from request.jwt.claims
	TenantID  string `json:"tenantId,omitempty"` // tenant_id claim from request.jwt.claims
}

// Authenticated reports whether the session carries a tenant-scoped identity
// that RLS policies can act on. A role with BYPASSRLS sees every row, so
// probing under it proves nothing.
func (s *Session) Authenticated() bool {
	return s != nil && s.Subject != "" && !s.BypassRLS
}
