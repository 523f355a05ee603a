package rtc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/voicemesh/internal/app/media"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

var _ core.RemoteTrack = (*remoteTrack)(nil)

// MeterSource hands out packet counters for remote tracks.
type MeterSource interface {
	Meter(pid domain.ParticipantID, trackID, kind string) *media.Meter
}

type packetSource interface {
	ReadRTP() (*rtp.Packet, error)
	SetReadDeadline(time.Time) error
}

type trackReader struct{ src *webrtc.TrackRemote }

func (r trackReader) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.src.ReadRTP()
	return pkt, err
}

func (r trackReader) SetReadDeadline(t time.Time) error { return r.src.SetReadDeadline(t) }

// remoteTrack watches a received track. A track that goes quiet for
// muteAfter counts as muted until packets flow again.
type remoteTrack struct {
	id        string
	kind      string
	src       packetSource
	muteAfter time.Duration
	meter     *media.Meter

	muted atomic.Bool

	mu       sync.Mutex
	onMute   func()
	onUnmute func()
}

func newRemoteTrack(src *webrtc.TrackRemote, muteAfter time.Duration, meter *media.Meter) *remoteTrack {
	return &remoteTrack{
		id:        src.ID(),
		kind:      src.Kind().String(),
		src:       trackReader{src},
		muteAfter: muteAfter,
		meter:     meter,
	}
}

func (t *remoteTrack) ID() string   { return t.id }
func (t *remoteTrack) Kind() string { return t.kind }

func (t *remoteTrack) OnMute(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMute = fn
}

func (t *remoteTrack) OnUnmute(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUnmute = fn
}

// watch reads packets until the track ends or ctx is cancelled.
func (t *remoteTrack) watch(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("track", t.id).Msg("track watcher stopped")
			return
		default:
		}
		if t.muteAfter > 0 {
			_ = t.src.SetReadDeadline(time.Now().Add(t.muteAfter))
		}
		pkt, err := t.src.ReadRTP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.setMuted(true)
				continue
			}
			if errors.Is(err, io.EOF) {
				logger.Debug().Str("track", t.id).Msg("track ended")
			} else {
				logger.Warn().Err(err).Str("track", t.id).Msg("read RTP error, stopping watcher")
			}
			return
		}
		t.setMuted(false)
		if t.meter != nil {
			t.meter.Observe(pkt.MarshalSize())
		}
	}
}

func (t *remoteTrack) setMuted(muted bool) {
	if t.muted.Swap(muted) == muted {
		return
	}
	t.mu.Lock()
	fn := t.onUnmute
	if muted {
		fn = t.onMute
	}
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
