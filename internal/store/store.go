// Package store defines the persistence collaborator for finished training
// sessions. Implementations live in the memory and postgres subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/callcoach/internal/session"
)

// ErrNotFound is returned when a report does not exist.
var ErrNotFound = errors.New("store: report not found")

// Summary is the list view of a stored report.
type Summary struct {
	SessionID string       `json:"session_id"`
	Scenario  string       `json:"scenario"`
	Language  string       `json:"language"`
	Mode      session.Mode `json:"mode"`
	StartedAt time.Time    `json:"started_at"`
	Overall   float64      `json:"overall"`
	Grade     string       `json:"grade"`
}

// SummaryOf derives the list view of r.
func SummaryOf(r *session.Report) Summary {
	return Summary{
		SessionID: r.SessionID,
		Scenario:  r.Scenario,
		Language:  r.Language,
		Mode:      r.Mode,
		StartedAt: r.StartedAt,
		Overall:   r.Scores.Overall,
		Grade:     r.Scores.Grade,
	}
}

// Store persists session reports together with their conversation and
// telemetry records.
//
// Implementations must be safe for concurrent use.
type Store interface {
	session.Persister

	// GetReport returns the report of a session or ErrNotFound.
	GetReport(ctx context.Context, sessionID string) (*session.Report, error)

	// ListReports returns up to limit summaries, newest first.
	ListReports(ctx context.Context, limit int) ([]Summary, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
