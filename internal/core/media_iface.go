package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicemesh/internal/domain"
)

// LocalStream is the media captured locally and offered to every peer.
type LocalStream struct {
	ID     string
	Tracks []webrtc.TrackLocal
}

func (s *LocalStream) Empty() bool {
	return s == nil || len(s.Tracks) == 0
}

// StreamSink keeps the remote media state shown to the user. All methods
// are idempotent.
type StreamSink interface {
	AddStream(pid domain.ParticipantID, streamID string)
	RemoveStream(pid domain.ParticipantID, streamID string)
	AddTrack(pid domain.ParticipantID, streamID string, track RemoteTrack)
	RemoveTrack(pid domain.ParticipantID, streamID string, trackID string)
	// Streams lists the stream ids attributed to pid.
	Streams(pid domain.ParticipantID) []string
}
