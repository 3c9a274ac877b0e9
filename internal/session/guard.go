package session

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Persister is the persistence collaborator. It receives the final report
// of each session and is not consulted mid-session.
type Persister interface {
	SaveReport(ctx context.Context, r *Report) error
}

// ReportGuard wraps a [Persister] and makes saving non-fatal. If the
// underlying store fails, the error is logged and swallowed and the guard
// reports itself as degraded until the next successful save.
//
// ReportGuard implements [Persister]. All methods are safe for concurrent use.
type ReportGuard struct {
	store    Persister
	degraded atomic.Bool
}

// NewReportGuard creates a new [ReportGuard] wrapping store. A nil store
// discards reports.
func NewReportGuard(store Persister) *ReportGuard {
	return &ReportGuard{store: store}
}

// SaveReport attempts to persist r. Failures are logged, never returned.
func (g *ReportGuard) SaveReport(ctx context.Context, r *Report) error {
	if g.store == nil || r == nil {
		return nil
	}
	if err := g.store.SaveReport(ctx, r); err != nil {
		g.degraded.Store(true)
		slog.Warn("report guard: SaveReport failed, swallowing error",
			"session_id", r.SessionID,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// IsDegraded reports whether the most recent save failed.
func (g *ReportGuard) IsDegraded() bool {
	return g.degraded.Load()
}

var _ Persister = (*ReportGuard)(nil)
