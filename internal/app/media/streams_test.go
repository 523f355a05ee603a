package media

import (
	"slices"
	"testing"
)

type stubTrack struct{ id, kind string }

func (t stubTrack) ID() string      { return t.id }
func (t stubTrack) Kind() string    { return t.kind }
func (t stubTrack) OnMute(func())   {}
func (t stubTrack) OnUnmute(func()) {}

func TestStreams_Idempotent(t *testing.T) {
	s := NewStreams()
	s.AddStream("b", "s1")
	s.AddStream("b", "s1")
	s.AddTrack("b", "s1", stubTrack{"t1", "audio"})
	s.AddTrack("b", "s1", stubTrack{"t1", "audio"})

	if got := s.Streams("b"); !slices.Equal(got, []string{"s1"}) {
		t.Fatalf("Streams = %v, want [s1]", got)
	}
	snap := s.Snapshot()
	if len(snap) != 1 || len(snap[0].Tracks) != 1 {
		t.Fatalf("Snapshot = %+v", snap)
	}

	s.RemoveStream("b", "s1")
	s.RemoveStream("b", "s1")
	s.RemoveTrack("b", "s1", "t1")
	if got := s.Streams("b"); len(got) != 0 {
		t.Errorf("Streams after remove = %v", got)
	}
}

func TestStreams_MuteKeepsMeter(t *testing.T) {
	s := NewStreams()
	s.AddTrack("b", "s1", stubTrack{"t1", "audio"})
	m := s.Meter("b", "t1", "audio")
	m.Observe(100)

	s.RemoveTrack("b", "s1", "t1")
	if m.State() != TrackMuted {
		t.Errorf("state after mute = %s", m.State())
	}
	if snap := s.Snapshot(); len(snap[0].Tracks) != 0 {
		t.Errorf("muted track still shown: %+v", snap)
	}

	s.AddTrack("b", "s1", stubTrack{"t1", "audio"})
	tv := s.Snapshot()[0].Tracks[0]
	if tv.State != "live" || tv.Packets != 1 || tv.Bytes != 100 {
		t.Errorf("track after unmute = %+v", tv)
	}
	if s.Meter("b", "t1", "audio") != m {
		t.Error("Meter returned a new meter for a known track")
	}
}

func TestStreams_RemoveStreamDropsMutedMeters(t *testing.T) {
	s := NewStreams()
	s.AddTrack("b", "s1", stubTrack{"t1", "audio"})
	old := s.Meter("b", "t1", "audio")
	old.Observe(100)
	s.RemoveTrack("b", "s1", "t1")
	early := s.Meter("b", "t2", "audio")

	s.RemoveStream("b", "s1")
	if old.State() != TrackGone || early.State() != TrackGone {
		t.Errorf("states after remove = %s / %s, want gone", old.State(), early.State())
	}

	// A new session reusing the track id starts from zero.
	fresh := s.Meter("b", "t1", "audio")
	if fresh == old || fresh.Packets() != 0 {
		t.Errorf("meter reused after stream removal: packets=%d", fresh.Packets())
	}
}
