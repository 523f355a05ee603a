package app

import (
	"sync"

	"github.com/dkeye/voicemesh/internal/domain"
)

// Identity rewrites participant ids between the local framing, where
// domain.Me is the local participant, and the framing peers use on the
// wire, where every participant goes by its real id except a sender
// naming itself.
type Identity struct {
	mu   sync.RWMutex
	self domain.ParticipantID
}

func NewIdentity(self domain.ParticipantID) *Identity {
	return &Identity{self: self}
}

func (i *Identity) Self() domain.ParticipantID {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.self
}

func (i *Identity) SetSelf(self domain.ParticipantID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.self = self
}

// ToWire names pid for an outbound envelope. The local participant always
// goes out as domain.Me.
func (i *Identity) ToWire(pid domain.ParticipantID) domain.ParticipantID {
	if pid == i.Self() {
		return domain.Me
	}
	return pid
}

// ToLocal rewrites pid received from sender. domain.Me or an empty id means
// the sender; our own real id means us.
func (i *Identity) ToLocal(sender, pid domain.ParticipantID) domain.ParticipantID {
	if pid == domain.Me || pid == "" {
		return sender
	}
	if self := i.Self(); self != "" && pid == self {
		return domain.Me
	}
	return pid
}
