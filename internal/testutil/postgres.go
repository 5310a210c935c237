package testutil

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Tenant IDs used throughout the seed data.
const (
	TenantA = "11111111-1111-1111-1111-111111111111"
	TenantB = "22222222-2222-2222-2222-222222222222"
)

// SeedSQL creates a small multi-tenant schema with a mix of RLS states:
// orders is tenant-isolated, settings has a wide-open policy, audit_log has
// RLS with no policies (fail-closed), invoices has RLS disabled, and
// secrets is not granted to the app role at all.
const SeedSQL = `
CREATE TABLE tenants (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE orders (
	id SERIAL PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id),
	total NUMERIC(10,2) NOT NULL
);
ALTER TABLE orders ENABLE ROW LEVEL SECURITY;
CREATE POLICY orders_tenant_isolation ON orders FOR ALL
	USING (tenant_id = (current_setting('request.jwt.claims', true)::json->>'tenant_id')::uuid);

CREATE TABLE settings (
	id SERIAL PRIMARY KEY,
	tenant_id UUID,
	key TEXT NOT NULL,
	value TEXT
);
ALTER TABLE settings ENABLE ROW LEVEL SECURITY;
CREATE POLICY settings_open ON settings FOR SELECT USING (true);

CREATE TABLE audit_log (
	id SERIAL PRIMARY KEY,
	tenant_id UUID,
	entry TEXT
);
ALTER TABLE audit_log ENABLE ROW LEVEL SECURITY;

CREATE TABLE invoices (
	id SERIAL PRIMARY KEY,
	tenant_id UUID,
	amount NUMERIC(10,2)
);

CREATE TABLE secrets (
	id SERIAL PRIMARY KEY,
	tenant_id UUID,
	token TEXT
);
ALTER TABLE secrets ENABLE ROW LEVEL SECURITY;
CREATE POLICY secrets_open ON secrets FOR SELECT USING (true);

INSERT INTO tenants (id, name) VALUES
	('11111111-1111-1111-1111-111111111111', 'acme'),
	('22222222-2222-2222-2222-222222222222', 'globex');

INSERT INTO orders (tenant_id, total) VALUES
	('11111111-1111-1111-1111-111111111111', 99.99),
	('11111111-1111-1111-1111-111111111111', 49.50),
	('22222222-2222-2222-2222-222222222222', 150.00);

INSERT INTO settings (tenant_id, key, value) VALUES
	('11111111-1111-1111-1111-111111111111', 'theme', 'dark'),
	('22222222-2222-2222-2222-222222222222', 'theme', 'light');

INSERT INTO invoices (tenant_id, amount) VALUES
	('11111111-1111-1111-1111-111111111111', 10.00);

DO $$
BEGIN
	IF NOT EXISTS (SELECT FROM pg_roles WHERE rolname = 'app_user') THEN
		CREATE ROLE app_user LOGIN PASSWORD 'app';
	END IF;
END
$$;

GRANT USAGE ON SCHEMA public TO app_user;
GRANT SELECT ON tenants, orders, settings, audit_log, invoices TO app_user;
REVOKE ALL ON secrets FROM app_user;
`

const testDBEnv = "PGWARDEN_TEST_DB_URL"

// runPostgresContainer starts a PG container, recovering from panics if Docker is unavailable.
func runPostgresContainer(ctx context.Context) (container *postgres.PostgresContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
}

func seedDatabase(ctx context.Context, connStr string) error {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return fmt.Errorf("seed connect: %w", err)
	}
	if _, err := conn.Exec(ctx, SeedSQL); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("seed: %w", err)
	}
	return conn.Close(ctx)
}

// Setup starts a PostgreSQL container, seeds it with the RLS fixture,
// and returns the connection string and a cleanup function.
// If PGWARDEN_TEST_DB_URL is set, it seeds that database instead of Docker.
// Returns an error if Docker is not available.
func Setup() (string, func(), error) {
	ctx := context.Background()

	if connStr := os.Getenv(testDBEnv); connStr != "" {
		if err := seedDatabase(ctx, connStr); err != nil {
			return "", nil, fmt.Errorf("seed %s: %w", testDBEnv, err)
		}
		return connStr, func() {}, nil
	}

	container, err := runPostgresContainer(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("docker not available: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", nil, fmt.Errorf("connection string: %w", err)
	}

	if err := seedDatabase(ctx, connStr); err != nil {
		_ = container.Terminate(ctx)
		return "", nil, err
	}

	cleanup := func() {
		_ = container.Terminate(ctx)
	}
	return connStr, cleanup, nil
}

// SetupPostgres is a test helper that starts a PostgreSQL container and seeds it.
// Skips the test if Docker is not available.
func SetupPostgres(t *testing.T) (string, func()) {
	t.Helper()
	connStr, cleanup, err := Setup()
	if err != nil {
		t.Skipf("skipping: %v", err)
	}
	return connStr, cleanup
}

// AppUserURL rewrites a connection string to log in as the unprivileged
// app_user role the seed creates.
func AppUserURL(connStr string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("parse conn string: %w", err)
	}
	u.User = url.UserPassword("app_user", "app")
	return u.String(), nil
}

// PoolWithClaims opens a pool that establishes a JWT-claims tenant context
// on every connection, the way an auth gateway would before handing the
// session to the audit engine.
func PoolWithClaims(ctx context.Context, connStr, subject, tenantID string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	claims := fmt.Sprintf(`{"sub":%q,"tenant_id":%q}`, subject, tenantID)
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SELECT set_config('request.jwt.claims', $1, false)", claims)
		return err
	}

	return pgxpool.NewWithConfig(ctx, cfg)
}
