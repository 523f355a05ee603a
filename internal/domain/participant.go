// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

type ParticipantID string

const (
	// Me stands for the local participant in locally scoped data.
	Me ParticipantID = "_me_"
	// System authors chat entries produced by the client itself.
	System ParticipantID = "voicemesh"
)

const MaxNicknameLen = 64

var ErrNicknameTooLong = errors.New("nickname too long")

// NewParticipantID is used when the rendezvous server does not hand out ids.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

func (id ParticipantID) IsMe() bool { return id == Me }

func (id ParticipantID) String() string { return string(id) }

func ValidateNickname(name string) error {
	if len(name) > MaxNicknameLen {
		return ErrNicknameTooLong
	}
	return nil
}

// Member is a read-only view of a participant for listings.
type Member struct {
	ID       ParticipantID `json:"id"`
	Nickname string        `json:"nickname"`
}
