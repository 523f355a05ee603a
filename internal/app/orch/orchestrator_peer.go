package orch

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
)

// events builds the transport callbacks for sess. They hop onto the loop
// and check that sess is still current before touching any table.
func (o *Orchestrator) events(sess *core.Session) core.TransportEvents {
	return core.TransportEvents{
		OnSignal: func(payload json.RawMessage) {
			o.Loop.Post(func() { o.onSignal(sess, payload) })
		},
		OnConnect: func() {
			o.Loop.Post(func() { o.onConnect(sess) })
		},
		OnTrack: func(track core.RemoteTrack, streamID string) {
			o.Loop.Post(func() { o.onTrack(sess, track, streamID) })
		},
		OnData: func(data []byte) {
			o.Loop.Post(func() { o.onData(sess, data) })
		},
		OnClose: func() {
			o.Loop.Post(func() { o.onClose(sess) })
		},
		OnError: func(err error) {
			o.Loop.Post(func() { o.onError(sess, err) })
		},
	}
}

func (o *Orchestrator) onSignal(sess *core.Session, payload json.RawMessage) {
	if !o.current(sess) {
		log.Debug().Str("module", "orch").Str("pid", string(sess.Participant)).Msg("stale signal dropped")
		return
	}
	if err := o.Signals.EmitSignal(sess.Participant, payload); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("pid", string(sess.Participant)).Msg("relay signal")
	}
}

func (o *Orchestrator) onConnect(sess *core.Session) {
	if !o.current(sess) || !sess.MarkConnected() {
		return
	}
	pid := sess.Participant
	o.Notify.Warning("Peer connection established")
	o.Chat.System(fmt.Sprintf("Connected to %s", o.Nicknames.Display(pid)))

	o.attachTracks(sess)
	if name, ok := o.Nicknames.Get(domain.Me); ok && name != "" {
		o.send(sess, protocol.Nickname{Nickname: name})
	}
	if room, ok := o.Rooms.Room(domain.Me); ok {
		o.send(sess, protocol.Room{Room: room, ParticipantID: domain.Me})
	}
}

func (o *Orchestrator) attachTracks(sess *core.Session) {
	if o.stream.Empty() {
		return
	}
	for _, t := range o.stream.Tracks {
		if err := sess.Transport.AddTrack(t); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("pid", string(sess.Participant)).Str("track", t.ID()).Msg("attach local track")
		}
	}
}

// onTrack registers the remote track. Mute hides it, unmute shows it again;
// neither destroys it.
func (o *Orchestrator) onTrack(sess *core.Session, track core.RemoteTrack, streamID string) {
	if !o.current(sess) {
		return
	}
	pid := sess.Participant
	o.Streams.AddStream(pid, streamID)
	o.Streams.AddTrack(pid, streamID, track)

	track.OnMute(func() {
		o.Loop.Post(func() {
			if o.current(sess) {
				o.Streams.RemoveTrack(pid, streamID, track.ID())
			}
		})
	})
	track.OnUnmute(func() {
		o.Loop.Post(func() {
			if o.current(sess) {
				o.Streams.AddTrack(pid, streamID, track)
			}
		})
	})
}

func (o *Orchestrator) onData(sess *core.Session, data []byte) {
	if !o.current(sess) {
		return
	}
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("pid", string(sess.Participant)).Int("len", len(data)).Msg("drop undecodable message")
		return
	}
	o.receive(sess.Participant, env)
}

func (o *Orchestrator) onError(sess *core.Session, err error) {
	if !o.current(sess) {
		log.Debug().Err(err).Str("module", "orch").Str("pid", string(sess.Participant)).Msg("error on removed session ignored")
		return
	}
	log.Error().Err(&core.TransportError{Participant: sess.Participant, Err: err}).Str("module", "orch").Msg("session failed")
	name := o.Nicknames.Display(sess.Participant)
	if o.teardown(sess) {
		o.Notify.Error("A peer connection error occurred")
		o.Chat.System(fmt.Sprintf("Connection to %s failed", name))
	}
}

func (o *Orchestrator) onClose(sess *core.Session) {
	if !o.current(sess) {
		return
	}
	name := o.Nicknames.Display(sess.Participant)
	if o.teardown(sess) {
		o.Notify.Error("Peer connection closed")
		o.Chat.System(fmt.Sprintf("%s left", name))
	}
}

// send writes one envelope to sess and applies the send-failure policy.
func (o *Orchestrator) send(sess *core.Session, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode envelope")
		return
	}
	o.write(sess, data)
}

func (o *Orchestrator) write(sess *core.Session, data []byte) {
	err := sess.Transport.Send(data)
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("module", "orch").Str("pid", string(sess.Participant)).Msg("send failed")
	if o.Policy != nil && o.Policy.OnSendError(sess.Participant, err) == app.DropPeer {
		o.onError(sess, err)
	}
}
