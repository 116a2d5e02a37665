package relay

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a relay session.
type State int

const (
	// StateAwaitingConfig - No upstream exists; only a configuration message is accepted.
	StateAwaitingConfig State = iota
	// StateActive - Upstream is open; audio and transcripts flow.
	StateActive
	// StateClosing - Upstream has been asked to finish; no new client input is accepted.
	StateClosing
	// StateClosed - Session ended normally.
	StateClosed
	// StateError - Session ended on a protocol or configuration failure.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingConfig:
		return "AWAITING_CONFIG"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or ERROR).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateError
}

// ErrInvalidTransition is returned when a transition is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid session state transition")

// ErrClientTransport marks a failed read or write on the client channel.
var ErrClientTransport = errors.New("client transport failed")

// Lifecycle manages the state machine for a single relay session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	AWAITING_CONFIG ──Activate()──→ ACTIVE ──BeginClosing()──→ CLOSING ──Close()──→ CLOSED
//	       │                          │                           │
//	       └──────────────Fail()──────┴───────────────────────────┴──→ ERROR
//
// Rules:
//   - Activate only from AWAITING_CONFIG
//   - BeginClosing only from ACTIVE
//   - Fail and Close from any non-terminal state; terminal states never change
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a new session lifecycle in AWAITING_CONFIG state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateAwaitingConfig}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// AcceptsAudio returns true if audio frames may be forwarded upstream.
func (l *Lifecycle) AcceptsAudio() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateActive
}

// Activate transitions AWAITING_CONFIG → ACTIVE.
func (l *Lifecycle) Activate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateAwaitingConfig {
		return fmt.Errorf("%w: activate from %s", ErrInvalidTransition, l.state)
	}
	l.state = StateActive
	return nil
}

// BeginClosing transitions ACTIVE → CLOSING.
// Returns true if this call performed the transition.
func (l *Lifecycle) BeginClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateActive {
		return false
	}
	l.state = StateClosing
	return true
}

// Fail transitions any non-terminal state to ERROR.
// Returns true if this call performed the transition.
func (l *Lifecycle) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return false
	}
	l.state = StateError
	return true
}

// Close transitions any non-terminal state to CLOSED. Idempotent.
// Returns true if this call performed the transition.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	return true
}
