// Package protocol defines the envelopes exchanged over a peer's data
// channel and their JSON framing.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/base64x"

	"github.com/dkeye/voicemesh/internal/domain"
)

type Type string

const (
	TypeText     Type = "text"
	TypeFile     Type = "file"
	TypeNickname Type = "nickname"
	TypeRoom     Type = "room"
)

// Envelope is one of Text, File, Nickname, Room or Unknown.
type Envelope interface {
	Type() Type
	sealed()
}

type Text string

// File carries the whole file as a data URL in a single frame.
type File struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"type"`
	Data     string `json:"data"`
}

type Nickname struct {
	Nickname string `json:"nickname"`
}

// Room announces a room assignment. ParticipantID is in the sender's
// framing: domain.Me names the sender itself.
type Room struct {
	Room          domain.RoomName      `json:"room"`
	ParticipantID domain.ParticipantID `json:"userId"`
}

// Unknown holds an envelope whose type this client does not know. It is
// displayed as text.
type Unknown struct {
	Kind    string
	Payload json.RawMessage
}

func (Text) Type() Type     { return TypeText }
func (File) Type() Type     { return TypeFile }
func (Nickname) Type() Type { return TypeNickname }
func (Room) Type() Type     { return TypeRoom }
func (u Unknown) Type() Type {
	return Type(u.Kind)
}

func (Text) sealed()     {}
func (File) sealed()     {}
func (Nickname) sealed() {}
func (Room) sealed()     {}
func (Unknown) sealed()  {}

// Text renders the payload the way a text message would be shown.
func (u Unknown) Text() string {
	if len(u.Payload) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(u.Payload, &s); err == nil {
		return s
	}
	return string(u.Payload)
}

// NewFile builds a file envelope with its content encoded as a data URL.
func NewFile(name, mimeType string, content []byte) File {
	return File{
		Name:     name,
		Size:     int64(len(content)),
		MimeType: mimeType,
		Data:     "data:" + mimeType + ";base64," + base64x.StdEncoding.EncodeToString(content),
	}
}

// Content decodes the data URL back into bytes.
func (f File) Content() ([]byte, error) {
	_, encoded, ok := strings.Cut(f.Data, ";base64,")
	if !ok {
		return nil, fmt.Errorf("file %q: not a base64 data url", f.Name)
	}
	b, err := base64x.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("file %q: %w", f.Name, err)
	}
	return b, nil
}
