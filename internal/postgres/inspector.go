package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Inspector reads RLS configuration from the PostgreSQL catalogs.
type Inspector struct {
	pool *pgxpool.Pool
}

// NewInspector connects to PostgreSQL with retry and verifies the connection.
func NewInspector(ctx context.Context, cfg Config) (*Inspector, error) {
	return connectWithRetry(ctx, cfg)
}

func newInspectorOnce(ctx context.Context, cfg Config) (*Inspector, error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Inspector{pool: pool}, nil
}

// NewInspectorFromPool wraps an existing pool. The caller keeps ownership;
// Close must not be called on an inspector built this way.
func NewInspectorFromPool(pool *pgxpool.Pool) *Inspector {
	return &Inspector{pool: pool}
}

// Close releases the connection pool.
func (i *Inspector) Close() {
	i.pool.Close()
}

// Pool exposes the borrowed connection pool so the prober can run reads
// under the same session settings.
func (i *Inspector) Pool() *pgxpool.Pool {
	return i.pool
}

// ServerVersion returns the PostgreSQL server version string.
func (i *Inspector) ServerVersion(ctx context.Context) (string, error) {
	var version string
	err := i.pool.QueryRow(ctx, "SHOW server_version").Scan(&version)
	if err != nil {
		return "", fmt.Errorf("server version: %w", err)
	}
	return version, nil
}

// ListTableSecurity fetches all user tables with their RLS flags and policies.
// A failed policy lookup for one table yields that table with an empty policy
// list and a warning annotation; it never fails the whole listing.
func (i *Inspector) ListTableSecurity(ctx context.Context) ([]TableSecurity, error) {
	query := `
		SELECT
			n.nspname,
			c.relname,
			c.relrowsecurity,
			c.relforcerowsecurity
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r'
			AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY n.nspname, c.relname`

	rows, err := i.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []TableSecurity
	for rows.Next() {
		var t TableSecurity
		if err := rows.Scan(&t.Schema, &t.Name, &t.RLSEnabled, &t.RLSForced); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	for idx := range tables {
		t := &tables[idx]
		policies, err := i.listPolicies(ctx, t.Schema, t.Name)
		if err != nil {
			t.Warning = fmt.Sprintf("policy lookup failed: %v", err)
			slog.Warn("policy lookup failed", "table", t.QualifiedName(), "error", err)
			continue
		}
		t.Policies = policies
	}

	return tables, nil
}

// listPolicies fetches the policies attached to one table, sorted by name.
func (i *Inspector) listPolicies(ctx context.Context, schema, table string) ([]Policy, error) {
	query := `
		SELECT
			policyname,
			COALESCE(cmd, 'ALL'),
			COALESCE(qual, ''),
			COALESCE(with_check, ''),
			permissive = 'PERMISSIVE',
			COALESCE(roles, '{}')
		FROM pg_catalog.pg_policies
		WHERE schemaname = $1 AND tablename = $2`

	rows, err := i.pool.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		var p Policy
		var cmd string
		if err := rows.Scan(&p.Name, &cmd, &p.Definition, &p.WithCheck, &p.Permissive, &p.Roles); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p.Command = parseCommand(cmd)
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	sort.Slice(policies, func(a, b int) bool { return policies[a].Name < policies[b].Name })
	return policies, nil
}

// CurrentSession reads the identity the connection runs under: the role, its
// BYPASSRLS flag, and the request.jwt.claims GUC if one is set. Returns nil
// when the connection carries no JWT claims at all.
func (i *Inspector) CurrentSession(ctx context.Context) (*Session, error) {
	query := `
		SELECT
			current_user,
			COALESCE((SELECT rolbypassrls FROM pg_catalog.pg_roles WHERE rolname = current_user), false),
			COALESCE(current_setting('request.jwt.claims', true), '')`

	var s Session
	var rawClaims string
	if err := i.pool.QueryRow(ctx, query).Scan(&s.User, &s.BypassRLS, &rawClaims); err != nil {
		return nil, fmt.Errorf("current session: %w", err)
	}

	if strings.TrimSpace(rawClaims) == "" {
		return nil, nil
	}

	var claims struct {
		Sub      string `json:"sub"`
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal([]byte(rawClaims), &claims); err != nil {
		return nil, fmt.Errorf("parse request.jwt.claims: %w", err)
	}
	s.Subject = claims.Sub
	s.TenantID = claims.TenantID
	return &s, nil
}

func parseCommand(cmd string) PolicyCommand {
	switch strings.ToUpper(strings.TrimSpace(cmd)) {
	case "SELECT", "R":
		return CommandSelect
	case "INSERT", "A":
		return CommandInsert
	case "UPDATE", "W":
		return CommandUpdate
	case "DELETE", "D":
		return CommandDelete
	default:
		return CommandAll
	}
}
