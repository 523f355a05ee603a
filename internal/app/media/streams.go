package media

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

var _ core.StreamSink = (*Streams)(nil)

type track struct {
	kind  string
	meter *Meter
}

type stream struct {
	// tracks holds the tracks currently shown; a muted track is absent.
	tracks map[string]*track
	// known holds every track id ever added, muted ones included.
	known map[string]struct{}
}

type trackKey struct {
	pid domain.ParticipantID
	id  string
}

// Streams is the remote media state per participant. Every mutation is
// idempotent.
type Streams struct {
	mu     sync.RWMutex
	peers  map[domain.ParticipantID]map[string]*stream
	meters map[trackKey]*track
}

func NewStreams() *Streams {
	return &Streams{
		peers:  make(map[domain.ParticipantID]map[string]*stream),
		meters: make(map[trackKey]*track),
	}
}

func (s *Streams) AddStream(pid domain.ParticipantID, streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(pid, streamID)
}

func (s *Streams) ensure(pid domain.ParticipantID, streamID string) *stream {
	byID, ok := s.peers[pid]
	if !ok {
		byID = make(map[string]*stream)
		s.peers[pid] = byID
	}
	st, ok := byID[streamID]
	if !ok {
		st = &stream{tracks: make(map[string]*track), known: make(map[string]struct{})}
		byID[streamID] = st
		log.Info().Str("module", "media.streams").Str("pid", string(pid)).Str("stream", streamID).Msg("stream added")
	}
	return st
}

func (s *Streams) RemoveStream(pid domain.ParticipantID, streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.peers[pid]
	if !ok {
		return
	}
	st, ok := byID[streamID]
	if !ok {
		return
	}
	for id := range st.known {
		s.dropMeter(trackKey{pid, id})
	}
	delete(byID, streamID)
	if len(byID) == 0 {
		delete(s.peers, pid)
		// Meters created ahead of registration have no stream.
		for key := range s.meters {
			if key.pid == pid {
				s.dropMeter(key)
			}
		}
	}
	log.Info().Str("module", "media.streams").Str("pid", string(pid)).Str("stream", streamID).Msg("stream removed")
}

func (s *Streams) dropMeter(key trackKey) {
	if t, ok := s.meters[key]; ok {
		t.meter.MarkGone()
		delete(s.meters, key)
	}
}

// AddTrack shows the track under its stream, creating the stream when
// needed. Re-adding a muted track keeps its meter.
func (s *Streams) AddTrack(pid domain.ParticipantID, streamID string, rt core.RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensure(pid, streamID)
	key := trackKey{pid, rt.ID()}
	t, ok := s.meters[key]
	if !ok {
		t = &track{kind: rt.Kind(), meter: &Meter{}}
		s.meters[key] = t
	}
	t.meter.MarkLive()
	st.tracks[rt.ID()] = t
	st.known[rt.ID()] = struct{}{}
}

// RemoveTrack hides the track. The meter stays so an unmute resumes it.
func (s *Streams) RemoveTrack(pid domain.ParticipantID, streamID, trackID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.peers[pid][streamID]
	if !ok {
		return
	}
	if t, ok := st.tracks[trackID]; ok {
		t.meter.MarkMuted()
		delete(st.tracks, trackID)
	}
}

func (s *Streams) Streams(pid domain.ParticipantID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.peers[pid]))
	for id := range s.peers[pid] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Meter returns the counters for a remote track, creating them for tracks
// not shown yet so packets read before registration still count.
func (s *Streams) Meter(pid domain.ParticipantID, trackID, kind string) *Meter {
	key := trackKey{pid, trackID}
	s.mu.RLock()
	t, ok := s.meters[key]
	s.mu.RUnlock()
	if ok {
		return t.meter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.meters[key]; !ok {
		t = &track{kind: kind, meter: &Meter{}}
		t.meter.MarkMuted()
		s.meters[key] = t
	}
	return t.meter
}

type StreamView struct {
	Participant domain.ParticipantID `json:"participantId"`
	Stream      string               `json:"stream"`
	Tracks      []TrackView          `json:"tracks"`
}

func (s *Streams) Snapshot() []StreamView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StreamView
	for pid, byID := range s.peers {
		for sid, st := range byID {
			v := StreamView{Participant: pid, Stream: sid, Tracks: make([]TrackView, 0, len(st.tracks))}
			for id, t := range st.tracks {
				v.Tracks = append(v.Tracks, t.meter.view(id, t.kind))
			}
			sort.Slice(v.Tracks, func(i, j int) bool { return v.Tracks[i].ID < v.Tracks[j].ID })
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Participant != out[j].Participant {
			return out[i].Participant < out[j].Participant
		}
		return out[i].Stream < out[j].Stream
	})
	return out
}
