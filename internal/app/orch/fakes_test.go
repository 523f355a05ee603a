package orch

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/media"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

type fakeTransport struct {
	opts      core.TransportOptions
	events    core.TransportEvents
	sent      [][]byte
	signals   []json.RawMessage
	tracks    []webrtc.TrackLocal
	destroyed int
	sendErr   error
	onSend    func()
	// onSignal runs inside Signal, like a transport that answers an offer
	// synchronously.
	onSignal func(json.RawMessage)
}

func (t *fakeTransport) Signal(p json.RawMessage) error {
	t.signals = append(t.signals, p)
	if t.onSignal != nil {
		t.onSignal(p)
	}
	return nil
}

func (t *fakeTransport) Send(data []byte) error {
	if t.onSend != nil {
		t.onSend()
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, data)
	return nil
}

func (t *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	t.tracks = append(t.tracks, track)
	return nil
}

func (t *fakeTransport) Destroy() { t.destroyed++ }

type fakeFactory struct {
	created []*fakeTransport
	err     error
}

func (f *fakeFactory) Create(opts core.TransportOptions, events core.TransportEvents) (core.Transport, error) {
	if f.err != nil {
		return nil, f.err
	}
	t := &fakeTransport{opts: opts, events: events}
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeFactory) last() *fakeTransport { return f.created[len(f.created)-1] }

type emitted struct {
	to      domain.ParticipantID
	payload json.RawMessage
}

type fakeRendezvous struct{ out []emitted }

func (r *fakeRendezvous) EmitSignal(to domain.ParticipantID, p json.RawMessage) error {
	r.out = append(r.out, emitted{to, p})
	return nil
}

type recNotifier struct{ info, warn, errs []string }

func (n *recNotifier) Info(m string)    { n.info = append(n.info, m) }
func (n *recNotifier) Warning(m string) { n.warn = append(n.warn, m) }
func (n *recNotifier) Error(m string)   { n.errs = append(n.errs, m) }

type fakeRemoteTrack struct {
	id     string
	mute   func()
	unmute func()
}

func (t *fakeRemoteTrack) ID() string        { return t.id }
func (t *fakeRemoteTrack) Kind() string      { return "audio" }
func (t *fakeRemoteTrack) OnMute(f func())   { t.mute = f }
func (t *fakeRemoteTrack) OnUnmute(f func()) { t.unmute = f }

type harness struct {
	o       *Orchestrator
	factory *fakeFactory
	signals *fakeRendezvous
	notify  *recNotifier
	streams *media.Streams
}

func newHarness(self domain.ParticipantID) *harness {
	h := &harness{
		factory: &fakeFactory{},
		signals: &fakeRendezvous{},
		notify:  &recNotifier{},
		streams: media.NewStreams(),
	}
	h.o = &Orchestrator{
		Identity:   app.NewIdentity(self),
		Sessions:   app.NewRegistry(),
		Rooms:      app.NewRoomTable(""),
		Nicknames:  app.NewNicknameTable(),
		Chat:       app.NewChatLog(0),
		Streams:    h.streams,
		Notify:     h.notify,
		Signals:    h.signals,
		Transports: h.factory,
		Policy:     app.SimplePolicy{},
		Loop:       app.Inline{},
	}
	return h
}

func (h *harness) connect(pid domain.ParticipantID) *fakeTransport {
	if _, err := h.o.EstablishSession(pid, false, nil); err != nil {
		panic(err)
	}
	tr := h.factory.last()
	tr.events.OnConnect()
	return tr
}

var errBroken = errors.New("broken pipe")

func newTestTrack(t *testing.T) *webrtc.TrackLocalStaticRTP {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	if err != nil {
		t.Fatal(err)
	}
	return track
}
