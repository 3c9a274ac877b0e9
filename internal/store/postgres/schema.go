// Package postgres provides a PostgreSQL-backed [store.Store].
//
// A finished session is written as one row in session_reports (the full
// report as JSONB plus the columns needed for listing), one row per
// conversation turn in session_turns, and one row per emotion sample in
// emotion_samples. All three inserts share a transaction.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//	_ = s.SaveReport(ctx, report)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessionReports = `
CREATE TABLE IF NOT EXISTS session_reports (
    session_id  TEXT         PRIMARY KEY,
    scenario    TEXT         NOT NULL,
    language    TEXT         NOT NULL,
    mode        TEXT         NOT NULL,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    overall     DOUBLE PRECISION NOT NULL DEFAULT 0,
    grade       TEXT         NOT NULL DEFAULT '',
    report      JSONB        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_reports_started_at
    ON session_reports (started_at DESC);
`

const ddlSessionTurns = `
CREATE TABLE IF NOT EXISTS session_turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES session_reports (session_id) ON DELETE CASCADE,
    seq         INT          NOT NULL,
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    emotion     TEXT         NOT NULL DEFAULT '',
    caller      INT          NOT NULL DEFAULT 0,
    fallback    BOOLEAN      NOT NULL DEFAULT false,
    at          TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_turns_session_seq
    ON session_turns (session_id, seq);
`

const ddlEmotionSamples = `
CREATE TABLE IF NOT EXISTS emotion_samples (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES session_reports (session_id) ON DELETE CASCADE,
    state       TEXT         NOT NULL,
    intensity   DOUBLE PRECISION NOT NULL,
    at          TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emotion_samples_session_at
    ON emotion_samples (session_id, at);
`

// Migrate creates the tables and indexes used by [Store]. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		ddl  string
	}{
		{"session_reports", ddlSessionReports},
		{"session_turns", ddlSessionTurns},
		{"emotion_samples", ddlEmotionSamples},
	} {
		if _, err := pool.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
