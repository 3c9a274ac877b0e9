package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [store.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool to the database at dsn, verifies it and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveReport implements [store.Store]. Saving a session ID that already
// exists replaces the stored report, turns and samples.
func (s *Store) SaveReport(ctx context.Context, r *session.Report) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("postgres store: encode report: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after Commit

	const upsert = `
		INSERT INTO session_reports
		    (session_id, scenario, language, mode, started_at, ended_at, overall, grade, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
		    scenario = EXCLUDED.scenario,
		    language = EXCLUDED.language,
		    mode = EXCLUDED.mode,
		    started_at = EXCLUDED.started_at,
		    ended_at = EXCLUDED.ended_at,
		    overall = EXCLUDED.overall,
		    grade = EXCLUDED.grade,
		    report = EXCLUDED.report`
	if _, err := tx.Exec(ctx, upsert,
		r.SessionID, r.Scenario, r.Language, string(r.Mode),
		r.StartedAt, r.EndedAt, r.Scores.Overall, r.Scores.Grade, doc,
	); err != nil {
		return fmt.Errorf("postgres store: upsert report: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM session_turns WHERE session_id = $1`, r.SessionID)
	batch.Queue(`DELETE FROM emotion_samples WHERE session_id = $1`, r.SessionID)
	for i, t := range r.Transcript {
		batch.Queue(`
			INSERT INTO session_turns (session_id, seq, speaker, text, emotion, caller, fallback, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.SessionID, i, string(t.Speaker), t.Text, string(t.Emotion), t.Caller, t.Fallback, t.At,
		)
	}
	for _, e := range r.Telemetry {
		batch.Queue(`
			INSERT INTO emotion_samples (session_id, state, intensity, at)
			VALUES ($1, $2, $3, $4)`,
			r.SessionID, string(e.State), e.Intensity, e.At,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: write turns: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// GetReport implements [store.Store].
func (s *Store) GetReport(ctx context.Context, sessionID string) (*session.Report, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM session_reports WHERE session_id = $1`, sessionID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get report: %w", err)
	}
	var r session.Report
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("postgres store: decode report: %w", err)
	}
	return &r, nil
}

// ListReports implements [store.Store]. A non-positive limit returns every
// report.
func (s *Store) ListReports(ctx context.Context, limit int) ([]store.Summary, error) {
	q := `
		SELECT session_id, scenario, language, mode, started_at, overall, grade
		FROM session_reports
		ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list reports: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Summary, error) {
		var sum store.Summary
		var mode string
		err := row.Scan(&sum.SessionID, &sum.Scenario, &sum.Language, &mode,
			&sum.StartedAt, &sum.Overall, &sum.Grade)
		sum.Mode = session.Mode(mode)
		return sum, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan reports: %w", err)
	}
	return out, nil
}

// TurnCount returns the number of stored turns for a session.
func (s *Store) TurnCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM session_turns WHERE session_id = $1`, sessionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count turns: %w", err)
	}
	return n, nil
}
