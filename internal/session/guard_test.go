package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/store/mock"
)

func TestReportGuard_SwallowsErrors(t *testing.T) {
	m := &mock.Store{SaveErr: errors.New("connection refused")}
	g := session.NewReportGuard(m)

	if err := g.SaveReport(context.Background(), &session.Report{SessionID: "s1"}); err != nil {
		t.Fatalf("SaveReport returned %v, want nil", err)
	}
	if !g.IsDegraded() {
		t.Error("IsDegraded = false after failure, want true")
	}
	if m.SaveCalls != 1 {
		t.Errorf("SaveCalls = %d, want 1", m.SaveCalls)
	}
}

func TestReportGuard_RecoversOnSuccess(t *testing.T) {
	m := &mock.Store{SaveErr: errors.New("timeout")}
	g := session.NewReportGuard(m)
	ctx := context.Background()

	_ = g.SaveReport(ctx, &session.Report{SessionID: "s1"})
	m.SaveErr = nil
	_ = g.SaveReport(ctx, &session.Report{SessionID: "s2"})

	if g.IsDegraded() {
		t.Error("IsDegraded = true after successful save")
	}
	saved := m.SavedReports()
	if len(saved) != 1 || saved[0].SessionID != "s2" {
		t.Errorf("Saved = %+v", saved)
	}
}

func TestReportGuard_NilStore(t *testing.T) {
	g := session.NewReportGuard(nil)
	if err := g.SaveReport(context.Background(), &session.Report{}); err != nil {
		t.Errorf("SaveReport = %v", err)
	}
	if g.IsDegraded() {
		t.Error("nil store should not degrade")
	}
}
