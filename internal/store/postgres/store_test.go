package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/store"
	"github.com/MrWong99/callcoach/internal/store/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if CALLCOACH_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CALLCOACH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CALLCOACH_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] over a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, tbl := range []string{"emotion_samples", "session_turns", "session_reports"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+tbl+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", tbl, err)
		}
	}

	s, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testReport(id string, start time.Time) *session.Report {
	return &session.Report{
		SessionID: id,
		Scenario:  "billing-dispute",
		Language:  "en-US",
		Mode:      session.ModeSingle,
		StartedAt: start,
		EndedAt:   start.Add(3 * time.Minute),
		Scores:    session.Scores{Overall: 88, Grade: "B+"},
		Transcript: []session.Turn{
			{Speaker: session.SpeakerPartner, Text: "Why was I charged twice?", At: start, Emotion: session.EmotionFrustrated},
			{Speaker: session.SpeakerUser, Text: "Let me check that for you.", At: start.Add(5 * time.Second)},
		},
		Telemetry: []session.EmotionSample{
			{At: start, State: session.EmotionFrustrated, Intensity: 0.7},
		},
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.SaveReport(ctx, testReport("s-1", start)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	got, err := s.GetReport(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Scores.Grade != "B+" || len(got.Transcript) != 2 {
		t.Errorf("GetReport = %+v", got)
	}
	n, err := s.TurnCount(ctx, "s-1")
	if err != nil {
		t.Fatalf("TurnCount: %v", err)
	}
	if n != 2 {
		t.Errorf("TurnCount = %d, want 2", n)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	r := testReport("s-1", start)
	if err := s.SaveReport(ctx, r); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	r.Transcript = r.Transcript[:1]
	r.Scores.Grade = "A"
	if err := s.SaveReport(ctx, r); err != nil {
		t.Fatalf("second SaveReport: %v", err)
	}
	n, _ := s.TurnCount(ctx, "s-1")
	if n != 1 {
		t.Errorf("TurnCount = %d, want 1", n)
	}
	list, err := s.ListReports(ctx, 0)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(list) != 1 || list[0].Grade != "A" {
		t.Errorf("ListReports = %+v", list)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := s.SaveReport(ctx, testReport(id, start.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("SaveReport(%s): %v", id, err)
		}
	}
	list, err := s.ListReports(ctx, 2)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != "c" || list[1].SessionID != "b" {
		t.Errorf("ListReports = %+v", list)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetReport(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetReport err = %v, want ErrNotFound", err)
	}
}
