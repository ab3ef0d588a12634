package debug

import (
	"time"
	"weak"
)

// State is the controller's session state.
type State int

const (
	// StateIdle means no session exists.
	StateIdle State = iota
	// StateRunning means a script is executing under the debugger.
	StateRunning
	// StateSuspended means execution is stopped inside a callback.
	StateSuspended
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// session is the single debug session record. It is owned by the
// Controller and reset in place between runs; suspended implies running.
type session struct {
	id        string
	running   bool
	suspended bool

	owner       weak.Pointer[Handle]
	suspendedBy weak.Pointer[Handle]

	continueRequested bool
	pauseRequested    bool
	resumeRequested   bool

	// currentStackDepth is -1 until the first trace after a start or an
	// exception seeds it.
	currentStackDepth int

	// stopAtDepth is -1 when no step over is pending, otherwise the depth at
	// or above which the next owner trace suspends.
	stopAtDepth int

	tickCounter  int
	lastPump     time.Time
	pumpInterval time.Duration
}

// reset returns the record to idle.
func (s *session) reset() {
	*s = session{
		currentStackDepth: -1,
		stopAtDepth:       -1,
	}
}

func (s *session) state() State {
	switch {
	case s.suspended:
		return StateSuspended
	case s.running:
		return StateRunning
	default:
		return StateIdle
	}
}

// SessionInfo is a snapshot of the session record.
type SessionInfo struct {
	ID                string
	State             State
	Owner             string
	SuspendedBy       string
	ContinueRequested bool
	CurrentStackDepth int
	StopAtDepth       int
	Ticks             int
	PumpInterval      time.Duration
}

func (s *session) info() SessionInfo {
	info := SessionInfo{
		ID:                s.id,
		State:             s.state(),
		ContinueRequested: s.continueRequested,
		CurrentStackDepth: s.currentStackDepth,
		StopAtDepth:       s.stopAtDepth,
		Ticks:             s.tickCounter,
		PumpInterval:      s.pumpInterval,
	}
	if h := s.owner.Value(); h != nil {
		info.Owner = h.Name()
	}
	if h := s.suspendedBy.Value(); h != nil {
		info.SuspendedBy = h.Name()
	}
	return info
}
