package orch

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
)

// Broadcast applies env locally, then sends it to every live session.
// Sends are fire-and-forget; a failed send only concerns its own peer.
func (o *Orchestrator) Broadcast(env protocol.Envelope) error {
	if r, ok := env.(protocol.Room); ok {
		r.ParticipantID = o.Identity.ToWire(o.localFraming(r.ParticipantID))
		env = r
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	o.mirror(env)

	sent := 0
	for _, sess := range o.Sessions.Sessions() {
		if !o.current(sess) {
			continue
		}
		o.write(sess, data)
		sent++
	}
	log.Debug().Str("module", "orch").Str("type", string(env.Type())).Int("peers", sent).Msg("broadcast")
	return nil
}

func (o *Orchestrator) SendToAll(env protocol.Envelope) error { return o.Broadcast(env) }

func (o *Orchestrator) SendText(text string) error { return o.Broadcast(protocol.Text(text)) }

func (o *Orchestrator) SetLocalNickname(name string) error {
	if err := domain.ValidateNickname(name); err != nil {
		return err
	}
	return o.Broadcast(protocol.Nickname{Nickname: name})
}

func (o *Orchestrator) SetLocalRoom(room domain.RoomName) error {
	return o.Broadcast(protocol.Room{Room: room, ParticipantID: domain.Me})
}

// MoveParticipant assigns another participant to room for everyone. Peers
// learn about it by real id; the moved peer sees itself addressed.
func (o *Orchestrator) MoveParticipant(pid domain.ParticipantID, room domain.RoomName) error {
	return o.Broadcast(protocol.Room{Room: room, ParticipantID: pid})
}

// SendFile reads r off the loop and broadcasts the result on it. It is the
// only exported method safe to call from any goroutine.
func (o *Orchestrator) SendFile(ctx context.Context, name, mimeType string, r io.Reader) error {
	if o.Files == nil {
		o.Notify.Error("File API is not supported")
		return fmt.Errorf("send file %q: %w", name, app.ErrUnsupportedCapability)
	}
	file, err := o.Files.Load(ctx, name, mimeType, r)
	if err != nil {
		o.Notify.Error(fmt.Sprintf("Could not read file %s", name))
		return err
	}
	var sendErr error
	if err := o.Loop.Call(ctx, func() { sendErr = o.Broadcast(file) }); err != nil {
		return err
	}
	return sendErr
}

// Gains resolves the playback gain for every peer with a session.
func (o *Orchestrator) Gains() map[domain.ParticipantID]float64 {
	out := make(map[domain.ParticipantID]float64)
	for _, sess := range o.Sessions.Sessions() {
		out[sess.Participant] = o.Rooms.ResolveGain(domain.Me, sess.Participant)
	}
	return out
}
