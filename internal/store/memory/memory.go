// Package memory provides an in-process [store.Store]. Reports are lost when
// the process exits; it is the default when no database is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/store"
)

// Store is an in-memory [store.Store]. Reports are deep-copied on the way in
// and out so callers cannot mutate stored state.
type Store struct {
	mu      sync.RWMutex
	reports map[string][]byte
	order   []store.Summary
}

// New returns an empty store.
func New() *Store {
	return &Store{reports: make(map[string][]byte)}
}

// SaveReport implements [store.Store]. Saving an existing session ID
// replaces the earlier report.
func (s *Store) SaveReport(_ context.Context, r *session.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("memory store: encode report: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[r.SessionID]; exists {
		for i, sum := range s.order {
			if sum.SessionID == r.SessionID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.reports[r.SessionID] = data
	s.order = append(s.order, store.SummaryOf(r))
	return nil
}

// GetReport implements [store.Store].
func (s *Store) GetReport(_ context.Context, sessionID string) (*session.Report, error) {
	s.mu.RLock()
	data, ok := s.reports[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	var r session.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("memory store: decode report: %w", err)
	}
	return &r, nil
}

// ListReports implements [store.Store].
func (s *Store) ListReports(_ context.Context, limit int) ([]store.Summary, error) {
	s.mu.RLock()
	out := make([]store.Summary, len(s.order))
	copy(out, s.order)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [store.Store]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

var _ store.Store = (*Store)(nil)
