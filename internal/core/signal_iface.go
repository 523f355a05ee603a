package core

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/domain"
)

// Rendezvous relays negotiation payloads to other participants before a
// direct connection exists.
type Rendezvous interface {
	EmitSignal(to domain.ParticipantID, payload json.RawMessage) error
}

// Notifier is the user-facing notification channel.
type Notifier interface {
	Info(msg string)
	Warning(msg string)
	Error(msg string)
}
