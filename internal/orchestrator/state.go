package orchestrator

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation is attempted from a
// lifecycle state that does not allow it.
var ErrInvalidState = errors.New("orchestrator: invalid state")

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateActive
	StatePaused
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the legal targets of every state. Cleanup may return to
// idle from anywhere and bypasses this table.
var transitions = map[State][]State{
	StateIdle:         {StateInitializing},
	StateInitializing: {StateActive, StateIdle},
	StateActive:       {StatePaused, StateCompleted},
	StatePaused:       {StateActive, StateCompleted},
	StateCompleted:    {StateIdle},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func invalidState(op string, s State) error {
	return fmt.Errorf("%w: %s not allowed while %s", ErrInvalidState, op, s)
}
