// Package mock provides a call-recording test double for [store.Store].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/store"
)

// Store is a mock implementation of [store.Store]. Set the Err fields to
// inject failures; inspect Saved after the test.
type Store struct {
	mu sync.Mutex

	// SaveErr, if non-nil, is returned by SaveReport and nothing is recorded.
	SaveErr error

	// GetResult and GetErr are returned by GetReport.
	GetResult *session.Report
	GetErr    error

	// ListResult and ListErr are returned by ListReports.
	ListResult []store.Summary
	ListErr    error

	// PingErr is returned by Ping.
	PingErr error

	// Saved records every successfully saved report in order.
	Saved []*session.Report

	// SaveCalls counts SaveReport invocations, including failed ones.
	SaveCalls int

	// PingCalls counts Ping invocations.
	PingCalls int
}

// SaveReport implements [store.Store].
func (s *Store) SaveReport(_ context.Context, r *session.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Saved = append(s.Saved, r)
	return nil
}

// GetReport implements [store.Store].
func (s *Store) GetReport(context.Context, string) (*session.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.GetResult, s.GetErr
}

// ListReports implements [store.Store].
func (s *Store) ListReports(context.Context, int) ([]store.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ListResult, s.ListErr
}

// Ping implements [store.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PingCalls++
	return s.PingErr
}

// SavedReports returns a copy of the saved reports. Thread-safe.
func (s *Store) SavedReports() []*session.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Report, len(s.Saved))
	copy(out, s.Saved)
	return out
}

var _ store.Store = (*Store)(nil)
