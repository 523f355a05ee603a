package orch

import (
	"fmt"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
)

// receive applies an envelope sent by peer from.
func (o *Orchestrator) receive(from domain.ParticipantID, env protocol.Envelope) {
	switch m := env.(type) {
	case protocol.Text:
		o.Chat.Post(from, string(m), "")
	case protocol.File:
		o.Chat.Post(from, m.Name, m.Data)
	case protocol.Nickname:
		old := o.Nicknames.Display(from)
		o.Nicknames.Set(from, m.Nickname)
		o.Chat.System(fmt.Sprintf("User %s is now known as %s", old, o.Nicknames.Display(from)))
	case protocol.Room:
		pid := o.Identity.ToLocal(from, m.ParticipantID)
		o.applyRoom(pid, m.Room)
	case protocol.Unknown:
		o.Chat.Post(from, m.Text(), "")
	}
}

// mirror applies a locally originated envelope the way receive would.
func (o *Orchestrator) mirror(env protocol.Envelope) {
	switch m := env.(type) {
	case protocol.Text:
		o.Chat.Post(domain.Me, string(m), "")
	case protocol.File:
		o.Chat.Post(domain.Me, fmt.Sprintf("Send file: %q to all peers", m.Name), m.Data)
	case protocol.Nickname:
		o.Nicknames.Set(domain.Me, m.Nickname)
		o.Chat.System("You are now known as: " + m.Nickname)
	case protocol.Room:
		o.applyRoom(o.localFraming(m.ParticipantID), m.Room)
	case protocol.Unknown:
		o.Chat.Post(domain.Me, m.Text(), "")
	}
}

func (o *Orchestrator) applyRoom(pid domain.ParticipantID, room domain.RoomName) {
	o.Rooms.SetRoom(pid, room)
	if pid == domain.Me {
		o.Chat.System(fmt.Sprintf("You are now in the room: %s", room.Resolve()))
		return
	}
	o.Chat.System(fmt.Sprintf("User %s moved to room %s", o.Nicknames.Display(pid), room.Resolve()))
}

// localFraming names the local participant as domain.Me.
func (o *Orchestrator) localFraming(pid domain.ParticipantID) domain.ParticipantID {
	if pid == "" {
		return domain.Me
	}
	if pid == o.Identity.Self() {
		return domain.Me
	}
	return pid
}
