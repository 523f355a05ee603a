package orch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

var ErrSelfSession = errors.New("cannot open a session to self")

// Orchestrator owns the peer sessions and the tables derived from them.
// Exported methods other than SendFile must run on Loop.
type Orchestrator struct {
	Identity   *app.Identity
	Sessions   *app.Registry
	Rooms      *app.RoomTable
	Nicknames  *app.NicknameTable
	Chat       *app.ChatLog
	Streams    core.StreamSink
	Notify     core.Notifier
	Signals    core.Rendezvous
	Transports core.TransportFactory
	Policy     app.Policy
	// Files is nil when local file reading is unavailable.
	Files      *app.FileLoader
	Loop       app.Dispatcher
	ICEServers []webrtc.ICEServer

	stream *core.LocalStream
}

// JoinPeer opens a session to pid. Exactly one side of each pair gets the
// initiator role: ours when pid is the designated initiator.
func (o *Orchestrator) JoinPeer(pid, designated domain.ParticipantID, stream *core.LocalStream) (*core.Session, error) {
	return o.EstablishSession(pid, pid == designated, stream)
}

// EstablishSession replaces any session for pid with a fresh one. The old
// transport is destroyed and its entries removed before the new one is
// created.
func (o *Orchestrator) EstablishSession(pid domain.ParticipantID, initiator bool, stream *core.LocalStream) (*core.Session, error) {
	if pid == "" || pid == domain.Me || pid == o.Identity.Self() {
		return nil, fmt.Errorf("establish %q: %w", pid, ErrSelfSession)
	}
	logger := log.With().Str("module", "orch").Str("pid", string(pid)).Logger()

	if old, ok := o.Sessions.Get(pid); ok {
		o.Notify.Info("Cleaning up old connection...")
		logger.Info().Msg("replacing existing session")
		o.teardown(old)
	}

	if stream == nil {
		stream = o.stream
	}
	o.Notify.Warning("Connecting to peer...")
	sess := core.NewSession(pid, initiator)
	opts := core.TransportOptions{
		Participant: pid,
		Initiator:   initiator,
		ICEServers:  o.ICEServers,
	}
	if !stream.Empty() {
		opts.Stream = stream
	}
	tr, err := o.Transports.Create(opts, o.events(sess))
	if err != nil {
		o.Notify.Error("A peer connection error occurred")
		logger.Error().Err(err).Msg("create transport")
		return nil, &core.TransportError{Participant: pid, Err: err}
	}
	sess.Transport = tr
	o.Sessions.Bind(sess)
	logger.Info().Bool("initiator", initiator).Msg("session established")
	return sess, nil
}

// LeavePeer tears down the session for pid, if any.
func (o *Orchestrator) LeavePeer(pid domain.ParticipantID) bool {
	sess, ok := o.Sessions.Get(pid)
	if !ok {
		return false
	}
	log.Info().Str("module", "orch").Str("pid", string(pid)).Msg("leaving peer")
	o.teardown(sess)
	return true
}

// Signal forwards a rendezvous payload into the session for pid.
func (o *Orchestrator) Signal(pid domain.ParticipantID, payload json.RawMessage) error {
	sess, ok := o.Sessions.Get(pid)
	if !ok {
		return fmt.Errorf("signal from %s: %w", pid, app.ErrNoSession)
	}
	if err := sess.Transport.Signal(payload); err != nil {
		return &core.TransportError{Participant: pid, Err: err}
	}
	return nil
}

// SetLocalStream records the local media and attaches it to every session
// that is already connected. Later connects pick it up in onConnect.
func (o *Orchestrator) SetLocalStream(stream *core.LocalStream) {
	o.stream = stream
	if stream.Empty() {
		return
	}
	for _, sess := range o.Sessions.Sessions() {
		if sess.State() == core.StateConnected {
			o.attachTracks(sess)
		}
	}
}

func (o *Orchestrator) LocalStream() *core.LocalStream { return o.stream }

func (o *Orchestrator) Close() {
	for _, sess := range o.Sessions.Sessions() {
		o.teardown(sess)
	}
}

// current reports whether sess may still mutate shared state.
func (o *Orchestrator) current(sess *core.Session) bool {
	return !sess.Closed() && o.Sessions.IsCurrent(sess)
}

// teardown destroys sess and drops everything attributed to its
// participant. Only the first call for a session has any effect.
func (o *Orchestrator) teardown(sess *core.Session) bool {
	if !sess.MarkClosed() {
		return false
	}
	pid := sess.Participant
	unbound := o.Sessions.Unbind(sess)
	if sess.Transport != nil {
		sess.Transport.Destroy()
	}
	if !unbound {
		return true
	}
	for _, id := range o.Streams.Streams(pid) {
		o.Streams.RemoveStream(pid, id)
	}
	o.Rooms.RemoveParticipant(pid)
	return true
}

func (o *Orchestrator) HasSession(pid domain.ParticipantID) bool {
	_, ok := o.Sessions.Get(pid)
	return ok
}
