package rtc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseSignal(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"offer", `{"type":"offer","sdp":"v=0"}`, false},
		{"answer", `{"type":"answer","sdp":"v=0"}`, false},
		{"candidate", `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}}`, false},
		{"renegotiate", `{"type":"renegotiate"}`, false},
		{"offer without sdp", `{"type":"offer"}`, true},
		{"candidate without body", `{"type":"candidate"}`, true},
		{"unknown", `{"type":"bye"}`, true},
		{"not json", `nope`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSignal(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Errorf("parseSignal(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}

	_, err := parseSignal(json.RawMessage(`{"type":"bye"}`))
	if !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("unknown type error = %v", err)
	}
}

func TestSignalPayload_Description(t *testing.T) {
	p := SignalPayload{Type: signalAnswer, SDP: "v=0"}
	if d := p.description(); d.Type != webrtc.SDPTypeAnswer || d.SDP != "v=0" {
		t.Errorf("description = %+v", d)
	}
	p.Type = signalOffer
	if d := p.description(); d.Type != webrtc.SDPTypeOffer {
		t.Errorf("description type = %s", d.Type)
	}
}
