package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

// Registry is the peer session table. It holds at most one session per
// participant; reads are safe from any goroutine.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ParticipantID]*core.Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.ParticipantID]*core.Session),
	}
}

// Bind records sess as the current session for its participant and returns
// the one it replaced, if any.
func (r *Registry) Bind(sess *core.Session) *core.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.sessions[sess.Participant]
	r.sessions[sess.Participant] = sess
	log.Info().Str("module", "app.registry").Str("pid", string(sess.Participant)).Msg("bound session")
	return old
}

func (r *Registry) Get(pid domain.ParticipantID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[pid]
	return sess, ok
}

// IsCurrent reports whether sess is still the table entry for its participant.
func (r *Registry) IsCurrent(sess *core.Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sess.Participant] == sess
}

// Unbind removes sess only if it is still current. A newer session for the
// same participant is left alone.
func (r *Registry) Unbind(sess *core.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sess.Participant] != sess {
		return false
	}
	delete(r.sessions, sess.Participant)
	log.Info().Str("module", "app.registry").Str("pid", string(sess.Participant)).Msg("unbind session")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns the live sessions ordered by participant id.
func (r *Registry) Sessions() []*core.Session {
	r.mu.RLock()
	out := make([]*core.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out
}

func (r *Registry) Snapshot() []core.SessionInfo {
	sessions := r.Sessions()
	out := make([]core.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}
