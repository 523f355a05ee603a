package core

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicemesh/internal/domain"
)

// Transport is the direct connection to one remote participant.
// Negotiation details stay behind it; signaling payloads are opaque.
type Transport interface {
	// Signal applies a payload received through the rendezvous channel.
	Signal(payload json.RawMessage) error
	// Send writes one frame to the data channel.
	Send(data []byte) error
	// AddTrack attaches a local media track to the connection.
	AddTrack(track webrtc.TrackLocal) error
	// Destroy tears the connection down. Safe to call more than once.
	Destroy()
}

// TransportEvents are the callbacks a transport fires. They may be invoked
// from any goroutine; a single transport never fires them concurrently
// with itself out of order.
type TransportEvents struct {
	OnSignal  func(payload json.RawMessage)
	OnConnect func()
	OnTrack   func(track RemoteTrack, streamID string)
	OnData    func(data []byte)
	OnClose   func()
	OnError   func(err error)
}

type TransportOptions struct {
	Participant domain.ParticipantID
	Initiator   bool
	ICEServers  []webrtc.ICEServer
	// Stream tracks are attached at creation time when non-empty.
	Stream *LocalStream
}

type TransportFactory interface {
	Create(opts TransportOptions, events TransportEvents) (Transport, error)
}

// RemoteTrack is a media track received from a peer.
type RemoteTrack interface {
	ID() string
	Kind() string
	OnMute(func())
	OnUnmute(func())
}

// TransportError is fatal for the session it was raised on.
type TransportError struct {
	Participant domain.ParticipantID
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Participant, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
