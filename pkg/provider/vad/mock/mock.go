// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script speaking decisions and inspect the samples that were
// submitted for processing.
//
// Example:
//
//	sess := &mock.Session{SpeakingAbove: 0.2}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle. A sample is treated
// as speech when it is strictly above SpeakingAbove; no smoothing or debounce
// is applied.
type Session struct {
	mu sync.Mutex

	// SpeakingAbove is the energy level above which samples count as speech.
	SpeakingAbove float64

	// CalibrateResult and CalibrateErr are returned by Calibrate.
	CalibrateResult float64
	CalibrateErr    error

	// ThresholdResult is returned by Threshold.
	ThresholdResult float64

	// Samples records every energy value passed to ProcessSample or derived
	// by ProcessFrame.
	Samples []float64

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	speaking bool
}

// ProcessSample records the sample and returns whether it is above
// SpeakingAbove.
func (s *Session) ProcessSample(energy float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Samples = append(s.Samples, energy)
	s.speaking = energy > s.SpeakingAbove
	return s.speaking
}

// ProcessEnergy records the sample and reports the transition. Level is the
// raw sample.
func (s *Session) ProcessEnergy(e float64) vad.VADEvent {
	was := s.Speaking()
	now := s.ProcessSample(e)
	switch {
	case now && !was:
		return vad.VADEvent{Type: vad.VADSpeechStart, Level: e}
	case now:
		return vad.VADEvent{Type: vad.VADSpeechContinue, Level: e}
	case was:
		return vad.VADEvent{Type: vad.VADSpeechEnd, Level: e}
	}
	return vad.VADEvent{Type: vad.VADSilence, Level: e}
}

// ProcessFrame derives the frame energy and reports a transition event.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	return s.ProcessEnergy(audio.RMS(frame)), nil
}

// Calibrate returns CalibrateResult, CalibrateErr.
func (s *Session) Calibrate(_ []float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CalibrateResult, s.CalibrateErr
}

// Threshold returns ThresholdResult.
func (s *Session) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ThresholdResult
}

// Speaking returns the decision of the most recent sample.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Reset records the call and clears the speaking flag.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.speaking = false
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
