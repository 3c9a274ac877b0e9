package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/internal/orchestrator"
	"github.com/MrWong99/callcoach/internal/session"
)

// ErrNoActiveSession is returned by session operations while no session
// runs.
var ErrNoActiveSession = errors.New("app: no active session")

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Scenario is the practice scenario being played.
	Scenario string

	// Language of the conversation.
	Language string

	// Mode is single or stress.
	Mode session.Mode

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// SessionManager runs one practice session at a time on top of an
// [orchestrator.Orchestrator]. All exported methods are safe for
// concurrent use.
//
// Turn operations do not hold the manager's lock while they run, so Stop
// can interrupt a turn that is in flight.
type SessionManager struct {
	orch      *orchestrator.Orchestrator
	configure func() (orchestrator.SessionConfig, error)

	mu     sync.Mutex
	active bool
	info   SessionInfo
}

// NewSessionManager creates a SessionManager driving orch. configure is
// called at every Start and returns the settings of the new session.
func NewSessionManager(orch *orchestrator.Orchestrator, configure func() (orchestrator.SessionConfig, error)) *SessionManager {
	return &SessionManager{orch: orch, configure: configure}
}

// Start begins a new session and lets the partner open the call.
//
// Returns an error if a session is already active.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	if sm.active {
		id := sm.info.SessionID
		sm.mu.Unlock()
		return fmt.Errorf("app: a session is already active (id=%s)", id)
	}
	// Reserve the slot so a concurrent Start fails fast.
	sm.active = true
	sm.mu.Unlock()

	info, err := sm.start(ctx)
	sm.mu.Lock()
	sm.active = err == nil
	sm.info = info
	sm.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Info("practice session started",
		"session_id", info.SessionID,
		"scenario", info.Scenario,
		"mode", info.Mode,
	)

	if _, err := sm.orch.SendGreeting(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("greeting failed", "session_id", info.SessionID, "err", err)
	}
	return nil
}

func (sm *SessionManager) start(ctx context.Context) (SessionInfo, error) {
	cfg, err := sm.configure()
	if err != nil {
		return SessionInfo{}, err
	}
	if err := sm.orch.StartSession(ctx, cfg); err != nil {
		return SessionInfo{}, fmt.Errorf("app: start session: %w", err)
	}
	st := sm.orch.Status()
	return SessionInfo{
		SessionID: st.SessionID,
		Scenario:  st.Scenario,
		Language:  st.Language,
		Mode:      st.Mode,
		StartedAt: time.Now().Add(-st.Elapsed),
	}, nil
}

// Say hands one recognised utterance to the session and returns the
// recorded user turn.
func (sm *SessionManager) Say(ctx context.Context, text string) (session.Turn, error) {
	if !sm.IsActive() {
		return session.Turn{}, ErrNoActiveSession
	}
	return sm.orch.HandleUtterance(ctx, text)
}

// Next ends the current stress-mode call and connects the next caller,
// whose summary is returned. It returns nil once the queue is exhausted.
func (sm *SessionManager) Next(ctx context.Context) (*session.CallerSummary, error) {
	if !sm.IsActive() {
		return nil, ErrNoActiveSession
	}
	return sm.orch.NextCaller(ctx)
}

// Pause suspends the active session.
func (sm *SessionManager) Pause() error {
	if !sm.IsActive() {
		return ErrNoActiveSession
	}
	return sm.orch.PauseSession()
}

// Resume continues a paused session.
func (sm *SessionManager) Resume(ctx context.Context) error {
	if !sm.IsActive() {
		return ErrNoActiveSession
	}
	return sm.orch.ResumeSession(ctx)
}

// Status returns the orchestrator snapshot.
func (sm *SessionManager) Status() orchestrator.Status {
	return sm.orch.Status()
}

// Stop ends the active session and returns its report. The report has
// already been handed to persistence when Stop returns.
func (sm *SessionManager) Stop(ctx context.Context) (*session.Report, error) {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	info := sm.info
	sm.active = false
	sm.info = SessionInfo{}
	sm.mu.Unlock()

	report, err := sm.orch.EndSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: end session: %w", err)
	}

	attrs := []any{"session_id", info.SessionID, "duration", time.Since(info.StartedAt).Round(time.Second)}
	if report != nil {
		attrs = append(attrs, "grade", report.Scores.Grade, "turns", len(report.Transcript))
	}
	slog.Info("practice session stopped", attrs...)
	return report, nil
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session. The zero value is
// returned when no session runs.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}
