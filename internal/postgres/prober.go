package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProbeStatus classifies the empirical outcome of one access probe.
type ProbeStatus string

const (
	ProbeAllowed  ProbeStatus = "allowed"
	ProbeBlocked  ProbeStatus = "blocked"
	ProbeError    ProbeStatus = "error"
	ProbeUntested ProbeStatus = "untested"
)

// ProbeResult is the outcome of one bounded read against one table.
// RowCount is meaningful only when Status is allowed; zero is a valid
// result ("allowed but empty"). ErrorMessage is set only on error.
type ProbeResult struct {
	Table        string      `json:"table"`
	Status       ProbeStatus `json:"status"`
	RowCount     int64       `json:"rowCount,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

const insufficientPrivilege = "42501"

// Prober issues bounded live reads under the borrowed session.
type Prober struct {
	pool *pgxpool.Pool
}

// NewProber wraps an existing pool. The pool is borrowed, never closed here.
func NewProber(pool *pgxpool.Pool) *Prober {
	return &Prober{pool: pool}
}

// Probe runs a single bounded read against the table: at most one row is
// fetched, with the exact visible row count attached via a window aggregate.
// The read is the only side effect; nothing is written and no session
// setting is touched.
func (p *Prober) Probe(ctx context.Context, table TableSecurity) ProbeResult {
	result := ProbeResult{Table: table.QualifiedName()}

	ident := pgx.Identifier{table.Schema, table.Name}
	query := fmt.Sprintf("SELECT count(*) OVER () FROM %s LIMIT 1", ident.Sanitize())

	var count int64
	err := p.pool.QueryRow(ctx, query).Scan(&count)
	switch {
	case err == nil:
		result.Status = ProbeAllowed
		result.RowCount = count
	case errors.Is(err, pgx.ErrNoRows):
		// Read succeeded but the table is empty (or RLS hides every row).
		result.Status = ProbeAllowed
		result.RowCount = 0
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == insufficientPrivilege {
			result.Status = ProbeBlocked
		} else {
			result.Status = ProbeError
			result.ErrorMessage = err.Error()
		}
	}

	slog.Debug("probe complete",
		"table", result.Table,
		"status", result.Status,
		"rows", result.RowCount)
	return result
}
