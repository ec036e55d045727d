package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrMalformedLength  = errors.New("protocol: malformed length")
	ErrFrameTooShort    = errors.New("protocol: frame too short")
	ErrPayloadTooLarge  = errors.New("protocol: payload too large")
	ErrBadMarker        = errors.New("protocol: missing start of frame")
	ErrBadEscape        = errors.New("protocol: invalid escape sequence")
	ErrCommandRange     = errors.New("protocol: command out of range")
)

// DecodeError describes a window that could not be decoded into a frame.
// It never leaves the parser; callers of Decode can use it to log the
// offending bytes.
type DecodeError struct {
	Framing string // Framer name
	Raw     []byte // The window that failed
	Err     error  // One of the sentinel errors above
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode (%d bytes): %v", e.Framing, len(e.Raw), e.Err)
}

// Unwrap returns the underlying sentinel for errors.Is
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeError(framing string, raw []byte, err error) *DecodeError {
	return &DecodeError{Framing: framing, Raw: raw, Err: err}
}
