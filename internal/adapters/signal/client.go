package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

var ErrNotConnected = errors.New("rendezvous not connected")

var _ core.Rendezvous = (*Client)(nil)

// Peers is the part of the orchestrator the rendezvous channel drives. It
// is only called on the event loop.
type Peers interface {
	HasSession(pid domain.ParticipantID) bool
	JoinPeer(pid, designated domain.ParticipantID, stream *core.LocalStream) (*core.Session, error)
	EstablishSession(pid domain.ParticipantID, initiator bool, stream *core.LocalStream) (*core.Session, error)
	LeavePeer(pid domain.ParticipantID) bool
	Signal(pid domain.ParticipantID, payload json.RawMessage) error
}

// Client is the websocket side of the rendezvous channel. It reconnects
// until its context ends; peer sessions survive a dropped channel.
type Client struct {
	URL        string
	Call       string
	Self       domain.ParticipantID
	Nickname   string
	Peers      Peers
	Loop       app.Dispatcher
	Limiter    *JoinLimiter
	Dialer     *websocket.Dialer
	PingPeriod time.Duration
	ReadLimit  int64
	QueueSize  int
	RetryDelay time.Duration

	mu   sync.RWMutex
	conn *wsConn
}

func (c *Client) Run(ctx context.Context) error {
	retry := c.RetryDelay
	if retry <= 0 {
		retry = 2 * time.Second
	}
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Str("module", "signal").Dur("retry_in", retry).Msg("rendezvous connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.URL, err)
	}
	conn := newWSConn(ws, c.QueueSize)
	c.setConn(conn)
	defer c.setConn(nil)
	log.Info().Str("module", "signal").Str("url", c.URL).Str("call", c.Call).Msg("rendezvous connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go conn.writePump(ctx, c.PingPeriod)

	if err := c.sendFrame(typeReady, ReadyPayload{UserID: c.Self, Nickname: c.Nickname}); err != nil {
		return err
	}
	return conn.readPump(c.ReadLimit, 2*c.PingPeriod, c.handle)
}

func (c *Client) setConn(conn *wsConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

func (c *Client) sendFrame(typ string, payload any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := newFrame(typ, c.Call, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	return conn.TrySend(data)
}

// EmitSignal relays a negotiation payload to another participant.
func (c *Client) EmitSignal(to domain.ParticipantID, payload json.RawMessage) error {
	return c.sendFrame(typeSignal, SignalPayload{UserID: to, Signal: payload})
}

// HangUp tells the other participants we are leaving the call.
func (c *Client) HangUp() error {
	return c.sendFrame(typeHangUp, HangUpPayload{UserID: c.Self})
}

func (c *Client) handle(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}
	switch f.Type {
	case typeUsers:
		var p UsersPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("bad users payload")
			return
		}
		c.Loop.Post(func() { c.onUsers(p) })
	case typeSignal:
		var p SignalPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.UserID == "" {
			log.Warn().Err(err).Str("module", "signal").Msg("bad signal payload")
			return
		}
		c.Loop.Post(func() { c.onSignal(p) })
	case typeHangUp:
		var p HangUpPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("bad hangUp payload")
			return
		}
		c.Loop.Post(func() { c.onHangUp(p) })
	default:
		log.Warn().Str("module", "signal").Str("type", f.Type).Msg("unknown signal")
	}
}

func (c *Client) onUsers(p UsersPayload) {
	for _, pid := range p.PeerIDs {
		if pid == "" || pid == c.Self || c.Peers.HasSession(pid) {
			continue
		}
		if !c.Limiter.Allow(pid) {
			log.Warn().Str("module", "signal").Str("pid", string(pid)).Msg("join rate limited")
			continue
		}
		if _, err := c.Peers.JoinPeer(pid, p.Initiator, nil); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("join peer")
		}
	}
}

func (c *Client) onSignal(p SignalPayload) {
	if !c.Peers.HasSession(p.UserID) {
		if !c.Limiter.Allow(p.UserID) {
			log.Warn().Str("module", "signal").Str("pid", string(p.UserID)).Msg("session on signal rate limited")
			return
		}
		if _, err := c.Peers.EstablishSession(p.UserID, false, nil); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("pid", string(p.UserID)).Msg("session on first signal")
			return
		}
	}
	if err := c.Peers.Signal(p.UserID, p.Signal); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("pid", string(p.UserID)).Msg("forward signal")
	}
}

func (c *Client) onHangUp(p HangUpPayload) {
	if c.Peers.LeavePeer(p.UserID) {
		c.Limiter.Forget(p.UserID)
	}
}
