package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrInvalidUTF8 = errors.New("payload is not valid utf-8")
	ErrNotObject   = errors.New("frame is not a json object")
)

// DecodeError reports an inbound frame that could not be parsed. It never
// affects the session the frame arrived on.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "protocol: decode: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

type wireEnvelope struct {
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Encode(env Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("protocol: encode: nil envelope")
	}
	if u, ok := env.(Unknown); ok {
		return json.Marshal(wireEnvelope{Type: u.Kind, Payload: u.Payload})
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", env.Type(), err)
	}
	return json.Marshal(wireEnvelope{Type: string(env.Type()), Payload: payload})
}

// Decode parses a frame. Unknown or missing types, and text payloads that
// are not strings, decode to Unknown.
func Decode(data []byte) (Envelope, error) {
	if !utf8.Valid(data) {
		return nil, &DecodeError{Err: ErrInvalidUTF8}
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Err: ErrNotObject}
	}
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch Type(w.Type) {
	case TypeText:
		var t Text
		if err := decodePayload(w.Payload, &t); err != nil {
			// Shown as raw text rather than dropped.
			return Unknown{Kind: w.Type, Payload: w.Payload}, nil
		}
		return t, nil
	case TypeFile:
		var f File
		if err := decodePayload(w.Payload, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeNickname:
		var n Nickname
		if err := decodePayload(w.Payload, &n); err != nil {
			return nil, err
		}
		return n, nil
	case TypeRoom:
		var r Room
		if err := decodePayload(w.Payload, &r); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return Unknown{Kind: w.Type, Payload: w.Payload}, nil
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}
