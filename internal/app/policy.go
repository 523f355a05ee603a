package app

import "github.com/dkeye/voicemesh/internal/domain"

type SendFailureAction int

const (
	NoAction SendFailureAction = iota
	DropPeer
)

// Policy decides what a failed data-channel send means for that peer.
type Policy interface {
	OnSendError(pid domain.ParticipantID, err error) SendFailureAction
}

// SimplePolicy only logs failed sends.
type SimplePolicy struct{}

func (SimplePolicy) OnSendError(domain.ParticipantID, error) SendFailureAction {
	return NoAction
}

// StrictPolicy tears the peer down on the first failed send.
type StrictPolicy struct{}

func (StrictPolicy) OnSendError(domain.ParticipantID, error) SendFailureAction {
	return DropPeer
}

func PolicyByName(name string) Policy {
	if name == "drop" {
		return StrictPolicy{}
	}
	return SimplePolicy{}
}
