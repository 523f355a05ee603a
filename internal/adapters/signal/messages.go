package signal

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/domain"
)

const (
	typeReady  = "ready"
	typeSignal = "signal"
	typeHangUp = "hangUp"
	typeUsers  = "users"
)

// Frame is one message on the rendezvous websocket.
type Frame struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ReadyPayload struct {
	UserID   domain.ParticipantID `json:"userId"`
	Nickname string               `json:"nickname,omitempty"`
}

// SignalPayload names the target on the way out and the sender on the way
// in.
type SignalPayload struct {
	UserID domain.ParticipantID `json:"userId"`
	Signal json.RawMessage      `json:"signal"`
}

type HangUpPayload struct {
	UserID domain.ParticipantID `json:"userId"`
}

type UsersPayload struct {
	Initiator domain.ParticipantID   `json:"initiator"`
	PeerIDs   []domain.ParticipantID `json:"peerIds"`
}

func newFrame(typ, room string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: typ, Room: room, Payload: raw})
}
