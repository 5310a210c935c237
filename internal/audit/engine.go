package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pgwarden/pgwarden/internal/classifier"
	"github.com/pgwarden/pgwarden/internal/postgres"
)

// TableLister enumerates tables with their RLS configuration.
type TableLister interface {
	ListTableSecurity(ctx context.Context) ([]postgres.TableSecurity, error)
}

// SessionSource reads the caller identity the connection runs under.
// A nil session means the connection carries no identity claims.
type SessionSource interface {
	CurrentSession(ctx context.Context) (*postgres.Session, error)
}

// AccessProber issues one bounded live read against one table.
type AccessProber interface {
	Probe(ctx context.Context, table postgres.TableSecurity) postgres.ProbeResult
}

// Engine drives one audit run: inspect, classify, probe, aggregate.
// It borrows the store connection and owns no state beyond the run guard.
type Engine struct {
	lister     TableLister
	sessions   SessionSource
	prober     AccessProber
	classifier classifier.PredicateClassifier

	mu    sync.Mutex
	state RunState
}

// NewEngine wires an engine. classifier defaults to the heuristic when nil.
func NewEngine(lister TableLister, sessions SessionSource, prober AccessProber, cls classifier.PredicateClassifier) *Engine {
	if cls == nil {
		cls = classifier.NewHeuristic(classifier.Markers{})
	}
	return &Engine{
		lister:     lister,
		sessions:   sessions,
		prober:     prober,
		classifier: cls,
		state:      RunIdle,
	}
}

// State returns the engine's current run state.
func (e *Engine) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RunOptions controls one audit run.
type RunOptions struct {
	// Tables, when non-nil, skips the inspector and audits the given set.
	// An empty non-nil slice audits nothing; only nil means "list for me".
	Tables []postgres.TableSecurity
	// SkipProbe disables the probing phase; every probe reports untested.
	SkipProbe bool
}

// Run executes one audit. At most one run may be in flight per engine; a
// concurrent call is rejected with ErrAuditAlreadyRunning rather than
// queued. A failed table listing aborts the run with IntrospectionError and
// no partial result. Cancellation between probes yields a partial result
// with every recorded probe intact and the rest untested.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	e.mu.Lock()
	if e.state == RunRunning {
		e.mu.Unlock()
		return nil, ErrAuditAlreadyRunning
	}
	e.state = RunRunning
	e.mu.Unlock()

	result, err := e.run(ctx, opts)

	e.mu.Lock()
	switch {
	case err != nil:
		e.state = RunFailed
	case result.State == RunCancelled:
		e.state = RunCancelled
	default:
		e.state = RunCompleted
	}
	e.mu.Unlock()

	return result, err
}

func (e *Engine) run(ctx context.Context, opts RunOptions) (*Result, error) {
	tables := opts.Tables
	if tables == nil {
		var err error
		tables, err = e.lister.ListTableSecurity(ctx)
		if err != nil {
			return nil, &IntrospectionError{Err: err}
		}
	}
	slog.Info("tables listed", "count", len(tables))

	result := &Result{
		GeneratedAt: time.Now().UTC(),
		State:       RunCompleted,
		Tables:      tables,
		Probes:      make(map[string]postgres.ProbeResult, len(tables)),
	}

	// Classification is eager and has no ordering dependency.
	assessments := make([][]PolicyAssessment, len(tables))
	for i := range tables {
		for _, p := range tables[i].Policies {
			assessments[i] = append(assessments[i], PolicyAssessment{
				Policy:         p,
				Classification: e.classifier.Classify(p.Definition),
			})
		}
	}

	// Every RLS-enabled table starts untested; the probe loop upgrades
	// results one table at a time.
	for i := range tables {
		if tables[i].RLSEnabled {
			result.Probes[tables[i].QualifiedName()] = postgres.ProbeResult{
				Table:  tables[i].QualifiedName(),
				Status: postgres.ProbeUntested,
			}
		}
	}

	e.probe(ctx, tables, opts, result)

	for i := range tables {
		var probe *postgres.ProbeResult
		if pr, ok := result.Probes[tables[i].QualifiedName()]; ok {
			probe = &pr
		}
		result.Findings = append(result.Findings, Aggregate(tables[i], assessments[i], probe))
	}

	result.OverallScore = OverallScore(result.Findings)
	result.Distribution = Distribute(result.Findings)
	return result, nil
}

// probe runs the sequential probing phase. Tables are probed strictly one
// at a time in listed order: probe N+1 starts only after probe N's result
// is recorded, so a stall stays attributable to a single table and a
// cancelled run keeps every result recorded so far.
func (e *Engine) probe(ctx context.Context, tables []postgres.TableSecurity, opts RunOptions, result *Result) {
	if opts.SkipProbe {
		result.ProbeSkipReason = "probing disabled"
		return
	}

	session, err := e.sessions.CurrentSession(ctx)
	if err != nil {
		slog.Warn("session lookup failed, skipping probes", "error", err)
		result.ProbeSkipReason = err.Error()
		return
	}
	if !session.Authenticated() {
		slog.Warn("probing skipped", "reason", ErrAuthenticationRequired)
		result.ProbeSkipReason = ErrAuthenticationRequired.Error()
		return
	}
	slog.Debug("probing as", "user", session.User, "subject", session.Subject, "tenant", session.TenantID)

	for i := range tables {
		if !tables[i].RLSEnabled {
			continue
		}
		if ctx.Err() != nil {
			// Between-probe cancellation: recorded results stay valid,
			// the rest remain untested.
			result.State = RunCancelled
			slog.Warn("audit cancelled", "probed", i, "remaining", len(tables)-i)
			return
		}
		pr := e.prober.Probe(ctx, tables[i])
		result.Probes[tables[i].QualifiedName()] = pr
	}
}
