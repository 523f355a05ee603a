package app

import (
	"context"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dkeye/voicemesh/internal/protocol"
)

// FileLoader reads a local file into a file envelope. It runs off the
// event loop: reading is the one place the client waits on I/O.
type FileLoader struct {
	// MaxSize caps how much is read into memory; zero means no cap.
	MaxSize int64
}

func (l FileLoader) Load(ctx context.Context, name, mimeType string, r io.Reader) (protocol.File, error) {
	if err := ctx.Err(); err != nil {
		return protocol.File{}, err
	}
	if l.MaxSize > 0 {
		r = io.LimitReader(r, l.MaxSize+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return protocol.File{}, fmt.Errorf("read %q: %w", name, err)
	}
	if l.MaxSize > 0 && int64(len(content)) > l.MaxSize {
		return protocol.File{}, fmt.Errorf("%q: %w (limit %d bytes)", name, ErrFileTooLarge, l.MaxSize)
	}
	if err := ctx.Err(); err != nil {
		return protocol.File{}, err
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(content).String()
	}
	return protocol.NewFile(name, mimeType, content), nil
}
