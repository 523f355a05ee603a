package media

import (
	"sync/atomic"
	"time"
)

type TrackState int32

const (
	TrackLive TrackState = iota
	TrackMuted
	TrackGone
)

func (s TrackState) String() string {
	switch s {
	case TrackLive:
		return "live"
	case TrackMuted:
		return "muted"
	default:
		return "gone"
	}
}

// Meter counts packets received on one remote track. It outlives mute and
// unmute so the counters keep running across them.
type Meter struct {
	state   atomic.Int32
	packets atomic.Uint64
	bytes   atomic.Uint64
	last    atomic.Int64 // unix nanos
}

func (m *Meter) State() TrackState { return TrackState(m.state.Load()) }

func (m *Meter) MarkLive()  { m.state.Store(int32(TrackLive)) }
func (m *Meter) MarkMuted() { m.state.Store(int32(TrackMuted)) }
func (m *Meter) MarkGone()  { m.state.Store(int32(TrackGone)) }

func (m *Meter) Observe(n int) {
	m.packets.Add(1)
	m.bytes.Add(uint64(n))
	m.last.Store(time.Now().UnixNano())
}

func (m *Meter) Packets() uint64 { return m.packets.Load() }
func (m *Meter) Bytes() uint64   { return m.bytes.Load() }

type TrackView struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Packets    uint64    `json:"packets"`
	Bytes      uint64    `json:"bytes"`
	LastPacket time.Time `json:"lastPacket,omitzero"`
}

func (m *Meter) view(id, kind string) TrackView {
	v := TrackView{
		ID:      id,
		Kind:    kind,
		State:   m.State().String(),
		Packets: m.packets.Load(),
		Bytes:   m.bytes.Load(),
	}
	if ns := m.last.Load(); ns != 0 {
		v.LastPacket = time.Unix(0, ns)
	}
	return v
}
