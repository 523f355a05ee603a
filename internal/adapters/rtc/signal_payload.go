package rtc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

const (
	signalOffer       = "offer"
	signalAnswer      = "answer"
	signalCandidate   = "candidate"
	signalRenegotiate = "renegotiate"
)

var ErrUnknownSignal = errors.New("unknown signal type")

// SignalPayload is what a Connection puts on the rendezvous channel. The
// core passes it through without looking inside.
type SignalPayload struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func parseSignal(raw json.RawMessage) (SignalPayload, error) {
	var p SignalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse signal: %w", err)
	}
	switch p.Type {
	case signalOffer, signalAnswer:
		if p.SDP == "" {
			return p, fmt.Errorf("%s without sdp", p.Type)
		}
	case signalCandidate:
		if p.Candidate == nil {
			return p, errors.New("candidate signal without candidate")
		}
	case signalRenegotiate:
	default:
		return p, fmt.Errorf("%q: %w", p.Type, ErrUnknownSignal)
	}
	return p, nil
}

func (p SignalPayload) description() webrtc.SessionDescription {
	sdpType := webrtc.SDPTypeOffer
	if p.Type == signalAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: sdpType, SDP: p.SDP}
}
