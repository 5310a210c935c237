//go:build integration

package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pgwarden/pgwarden/internal/testutil"
)

func TestIntegration_Probe(t *testing.T) {
	connStr, cleanup := testutil.SetupPostgres(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	appURL, err := testutil.AppUserURL(connStr)
	if err != nil {
		t.Fatal(err)
	}
	pool, err := testutil.PoolWithClaims(ctx, appURL, "user-1", testutil.TenantA)
	if err != nil {
		t.Fatalf("PoolWithClaims: %v", err)
	}
	defer pool.Close()

	prober := NewProber(pool)

	t.Run("tenant isolation filters rows", func(t *testing.T) {
		result := prober.Probe(ctx, TableSecurity{Schema: "public", Name: "orders"})
		if result.Status != ProbeAllowed {
			t.Fatalf("status = %s (%s), want allowed", result.Status, result.ErrorMessage)
		}
		// Seed holds 3 orders: 2 for tenant A, 1 for tenant B.
		if result.RowCount != 2 {
			t.Errorf("rows = %d, want 2", result.RowCount)
		}
	})

	t.Run("open policy exposes every row", func(t *testing.T) {
		result := prober.Probe(ctx, TableSecurity{Schema: "public", Name: "settings"})
		if result.Status != ProbeAllowed {
			t.Fatalf("status = %s (%s), want allowed", result.Status, result.ErrorMessage)
		}
		if result.RowCount != 2 {
			t.Errorf("rows = %d, want 2", result.RowCount)
		}
	})

	t.Run("rls without policies is fail closed", func(t *testing.T) {
		result := prober.Probe(ctx, TableSecurity{Schema: "public", Name: "audit_log"})
		if result.Status != ProbeAllowed {
			t.Fatalf("status = %s (%s), want allowed", result.Status, result.ErrorMessage)
		}
		if result.RowCount != 0 {
			t.Errorf("rows = %d, want 0", result.RowCount)
		}
	})

	t.Run("revoked grant blocks", func(t *testing.T) {
		result := prober.Probe(ctx, TableSecurity{Schema: "public", Name: "secrets"})
		if result.Status != ProbeBlocked {
			t.Errorf("status = %s (%s), want blocked", result.Status, result.ErrorMessage)
		}
	})

	t.Run("missing table reports error", func(t *testing.T) {
		result := prober.Probe(ctx, TableSecurity{Schema: "public", Name: "no_such_table"})
		if result.Status != ProbeError {
			t.Fatalf("status = %s, want error", result.Status)
		}
		if !strings.Contains(result.ErrorMessage, "no_such_table") {
			t.Errorf("error message %q should mention the table", result.ErrorMessage)
		}
	})
}

func TestIntegration_Probe_SecondTenant(t *testing.T) {
	connStr, cleanup := testutil.SetupPostgres(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	appURL, err := testutil.AppUserURL(connStr)
	if err != nil {
		t.Fatal(err)
	}
	pool, err := testutil.PoolWithClaims(ctx, appURL, "user-2", testutil.TenantB)
	if err != nil {
		t.Fatalf("PoolWithClaims: %v", err)
	}
	defer pool.Close()

	result := NewProber(pool).Probe(ctx, TableSecurity{Schema: "public", Name: "orders"})
	if result.Status != ProbeAllowed {
		t.Fatalf("status = %s (%s), want allowed", result.Status, result.ErrorMessage)
	}
	if result.RowCount != 1 {
		t.Errorf("rows = %d, want 1", result.RowCount)
	}
}
