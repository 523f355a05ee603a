package core

import (
	"sync/atomic"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
)

type SessionState int32

const (
	StateNew SessionState = iota
	StateConnected
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session pairs a participant with its transport. Its state only moves
// forward: new -> connected -> closed, or new -> closed.
type Session struct {
	Participant domain.ParticipantID
	Transport   Transport
	Initiator   bool
	CreatedAt   time.Time

	state atomic.Int32
}

func NewSession(pid domain.ParticipantID, initiator bool) *Session {
	return &Session{
		Participant: pid,
		Initiator:   initiator,
		CreatedAt:   time.Now(),
	}
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) Closed() bool { return s.State() == StateClosed }

// MarkConnected reports whether the session moved from new to connected.
func (s *Session) MarkConnected() bool {
	return s.state.CompareAndSwap(int32(StateNew), int32(StateConnected))
}

// MarkClosed reports whether this call closed the session.
func (s *Session) MarkClosed() bool {
	for {
		cur := s.state.Load()
		if cur == int32(StateClosed) {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(StateClosed)) {
			return true
		}
	}
}

// SessionInfo is a read-only view for APIs (no transport fields).
type SessionInfo struct {
	Participant domain.ParticipantID `json:"participantId"`
	State       string               `json:"state"`
	Initiator   bool                 `json:"initiator"`
	CreatedAt   time.Time            `json:"createdAt"`
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Participant: s.Participant,
		State:       s.State().String(),
		Initiator:   s.Initiator,
		CreatedAt:   s.CreatedAt,
	}
}
