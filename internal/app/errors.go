package app

import "errors"

var (
	ErrNoSession             = errors.New("no session for participant")
	ErrUnsupportedCapability = errors.New("capability not supported")
	ErrFileTooLarge          = errors.New("file too large")
	ErrClosed                = errors.New("event loop closed")
)
