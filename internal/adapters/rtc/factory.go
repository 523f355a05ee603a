package rtc

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicemesh/internal/core"
)

var _ core.TransportFactory = (*Factory)(nil)

type Factory struct {
	// MuteAfter is how long a remote track may stay silent before it counts
	// as muted. Zero disables mute detection.
	MuteAfter time.Duration
	Meters    MeterSource
	// API is optional; nil uses pion's defaults.
	API *webrtc.API
}

func (f *Factory) Create(opts core.TransportOptions, events core.TransportEvents) (core.Transport, error) {
	return newConnection(f.API, opts, events, f.MuteAfter, f.Meters)
}
