package protocol

import (
	"fmt"
)

// Frame is one decoded protocol message. Frames handed out by the parser
// must be treated as read-only.
type Frame struct {
	Length  int    // Raw wire length of the frame, including framing bytes
	Command uint16 // Discriminator: UNPI cmd0<<8|cmd1, SLIP command byte
	Payload []byte // Message payload (no header, no checksum)
	Valid   bool   // Checksum verified
}

// Framer is one framing discipline: how a frame is encoded, decoded and
// located inside a buffered byte stream.
type Framer interface {
	// Name identifies the framing in logs ("unpi", "slip").
	Name() string

	// Encode serializes f into its wire representation.
	Encode(f *Frame) ([]byte, error)

	// Decode parses exactly one complete wire frame. On checksum failure it
	// returns the frame with Valid=false together with a *DecodeError.
	Decode(window []byte) (*Frame, error)

	// Scan locates the next frame in buf. skip is the number of leading
	// bytes that can never be part of a frame and must be discarded; n is
	// the length of the complete frame at buf[skip:], or 0 when more bytes
	// are needed.
	Scan(buf []byte) (skip, n int)

	// MaxFrameSize is the largest wire frame this framing can produce.
	MaxFrameSize() int
}

// NewFramer returns the framer registered under name.
func NewFramer(name string) (Framer, error) {
	switch name {
	case "", "unpi", "znp":
		return UNPI{}, nil
	case "slip", "deconz":
		return SLIP{}, nil
	default:
		return nil, fmt.Errorf("unknown framing %q (expected unpi or slip)", name)
	}
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Payload = append([]byte(nil), f.Payload...)
	return &c
}

// String returns a debug representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{cmd=0x%04x, len=%d, payload=%d bytes, valid=%v}",
		f.Command, f.Length, len(f.Payload), f.Valid)
}
