package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/app/media"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

var (
	ErrConnectionFailed = errors.New("peer connection failed")
	ErrNotOpen          = errors.New("data channel not open")
	ErrDestroyed        = errors.New("connection destroyed")
)

var _ core.Transport = (*Connection)(nil)

// Connection is one peer connection with its message channel. The
// initiator makes every offer; the other side asks for one when it has
// new tracks to send.
type Connection struct {
	pid       domain.ParticipantID
	initiator bool
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	events    core.TransportEvents
	logger    zerolog.Logger
	muteAfter time.Duration
	meters    MeterSource

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes negotiation.
	mu          sync.Mutex
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	renegotiate bool
	senders     map[string]*webrtc.RTPSender

	connectOnce sync.Once
	destroyed   atomic.Bool
}

func newConnection(api *webrtc.API, opts core.TransportOptions, events core.TransportEvents, muteAfter time.Duration, meters MeterSource) (*Connection, error) {
	servers := opts.ICEServers
	if servers == nil {
		servers = DefaultICEServers()
	}
	cfg := webrtc.Configuration{ICEServers: servers}
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	dc, err := newDataChannel(pc)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("data channel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		pid:       opts.Participant,
		initiator: opts.Initiator,
		pc:        pc,
		dc:        dc,
		events:    events,
		logger:    log.With().Str("module", "rtc").Str("pid", string(opts.Participant)).Logger(),
		muteAfter: muteAfter,
		meters:    meters,
		ctx:       ctx,
		cancel:    cancel,
		senders:   make(map[string]*webrtc.RTPSender),
	}
	c.bind()

	if !opts.Stream.Empty() {
		for _, t := range opts.Stream.Tracks {
			if err := c.addTrack(t); err != nil {
				c.Destroy()
				return nil, err
			}
		}
	}
	if c.initiator {
		if !c.hasAudioSender() {
			// Leave room in the offer for the other side's audio.
			if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				c.Destroy()
				return nil, fmt.Errorf("audio transceiver: %w", err)
			}
		}
		c.negotiate()
	}
	return c, nil
}

func (c *Connection) bind() {
	c.dc.OnOpen(func() {
		if c.destroyed.Load() {
			return
		}
		c.connectOnce.Do(func() {
			c.logger.Info().Msg("data channel open")
			c.events.OnConnect()
		})
	})
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.destroyed.Load() {
			return
		}
		c.events.OnData(msg.Data)
	})

	c.dc.OnClose(func() {
		if c.destroyed.Load() {
			return
		}
		c.logger.Info().Msg("data channel closed by remote")
		c.events.OnClose()
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		candInit := cand.ToJSON()
		c.emit(SignalPayload{Type: signalCandidate, Candidate: &candInit})
	})

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.destroyed.Load() {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.events.OnError(ErrConnectionFailed)
		case webrtc.PeerConnectionStateClosed:
			c.events.OnClose()
		}
	})

	c.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		if s != webrtc.SignalingStateStable {
			return
		}
		c.mu.Lock()
		again := c.renegotiate
		c.mu.Unlock()
		if again && c.initiator {
			c.negotiate()
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.destroyed.Load() {
			return
		}
		meter := c.meter(track)
		rt := newRemoteTrack(track, c.muteAfter, meter)
		go rt.watch(c.ctx, &c.logger)
		c.events.OnTrack(rt, track.StreamID())
	})
}

func (c *Connection) meter(track *webrtc.TrackRemote) *media.Meter {
	if c.meters == nil {
		return nil
	}
	return c.meters.Meter(c.pid, track.ID(), track.Kind().String())
}

func (c *Connection) emit(p SignalPayload) {
	if c.destroyed.Load() {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		c.logger.Error().Err(err).Msg("marshal signal")
		return
	}
	c.events.OnSignal(raw)
}

func (c *Connection) fail(err error) {
	if c.destroyed.Load() {
		return
	}
	c.logger.Error().Err(err).Msg("negotiation failed")
	c.events.OnError(err)
}

// negotiate sends a fresh offer, or marks one as owed when an exchange is
// already in flight.
func (c *Connection) negotiate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc.SignalingState() != webrtc.SignalingStateStable {
		c.renegotiate = true
		return
	}
	c.renegotiate = false

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.fail(fmt.Errorf("set local offer: %w", err))
		return
	}
	c.emit(SignalPayload{Type: signalOffer, SDP: offer.SDP})
}

// Signal applies a payload the remote side emitted.
func (c *Connection) Signal(raw json.RawMessage) error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	p, err := parseSignal(raw)
	if err != nil {
		return err
	}

	switch p.Type {
	case signalRenegotiate:
		if c.initiator {
			c.negotiate()
		}
		return nil
	case signalCandidate:
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.remoteSet {
			c.pending = append(c.pending, *p.Candidate)
			return nil
		}
		return c.pc.AddICECandidate(*p.Candidate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pc.SetRemoteDescription(p.description()); err != nil {
		return fmt.Errorf("set remote %s: %w", p.Type, err)
	}
	c.remoteSet = true
	for _, cand := range c.pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.logger.Warn().Err(err).Msg("add buffered candidate")
		}
	}
	c.pending = nil

	if p.Type == signalOffer {
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		c.emit(SignalPayload{Type: signalAnswer, SDP: answer.SDP})
	}
	return nil
}

func (c *Connection) Send(data []byte) error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	return c.dc.SendText(string(data))
}

// AddTrack attaches a local track. Adding the same track twice is a no-op.
func (c *Connection) AddTrack(track webrtc.TrackLocal) error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	c.mu.Lock()
	_, attached := c.senders[track.ID()]
	c.mu.Unlock()
	if attached {
		return nil
	}
	if err := c.addTrack(track); err != nil {
		return err
	}
	if c.initiator {
		c.negotiate()
	} else {
		c.emit(SignalPayload{Type: signalRenegotiate})
	}
	return nil
}

func (c *Connection) addTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.senders[track.ID()]; ok {
		return nil
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track %s: %w", track.ID(), err)
	}
	c.senders[track.ID()] = sender
	go drainRTCP(sender)
	return nil
}

func (c *Connection) hasAudioSender() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.senders {
		if t := s.Track(); t != nil && t.Kind() == webrtc.RTPCodecTypeAudio {
			return true
		}
	}
	return false
}

// drainRTCP keeps interceptors running for an outgoing track.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Destroy closes the connection without firing OnClose.
func (c *Connection) Destroy() {
	if c.destroyed.Swap(true) {
		return
	}
	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
}
