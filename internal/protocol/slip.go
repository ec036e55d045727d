package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SLIP (RFC 1055) framing as spoken by deCONZ radios. The frame body is
//
//	[0]      command
//	[1..n]   payload
//	[n+1..]  crc (uint16, little-endian) = two's complement of the byte sum
//
// and is wrapped as END | escaped(body) | END.
const (
	SLIPEnd    = 0xC0
	SLIPEsc    = 0xDB
	SLIPEscEnd = 0xDC
	SLIPEscEsc = 0xDD

	MaxSLIPPayload = 512
)

// SLIP implements Framer for delimiter-terminated, byte-stuffed frames.
type SLIP struct{}

func (SLIP) Name() string { return "slip" }

// MaxFrameSize assumes every body byte is escaped.
func (SLIP) MaxFrameSize() int { return 2*(1+MaxSLIPPayload+2) + 2 }

// Encode escapes the body and terminates it with END. A leading END flushes
// any line noise the radio may have accumulated.
func (SLIP) Encode(f *Frame) ([]byte, error) {
	if len(f.Payload) > MaxSLIPPayload {
		return nil, fmt.Errorf("slip encode: %w: %d bytes (max %d)", ErrPayloadTooLarge, len(f.Payload), MaxSLIPPayload)
	}
	// deCONZ commands are a single byte.
	if f.Command > 0xFF {
		return nil, fmt.Errorf("slip encode: %w: 0x%04x (max 0xff)", ErrCommandRange, f.Command)
	}

	body := make([]byte, 0, len(f.Payload)+3)
	body = append(body, byte(f.Command))
	body = append(body, f.Payload...)
	body = binary.LittleEndian.AppendUint16(body, slipChecksum(body))

	out := make([]byte, 0, 2*len(body)+2)
	out = append(out, SLIPEnd)
	for _, b := range body {
		switch b {
		case SLIPEnd:
			out = append(out, SLIPEsc, SLIPEscEnd)
		case SLIPEsc:
			out = append(out, SLIPEsc, SLIPEscEsc)
		default:
			out = append(out, b)
		}
	}
	out = append(out, SLIPEnd)
	return out, nil
}

// Decode unescapes one window up to its terminating END and verifies the crc.
func (SLIP) Decode(window []byte) (*Frame, error) {
	body := make([]byte, 0, len(window))
	for i := 0; i < len(window); i++ {
		b := window[i]
		switch b {
		case SLIPEnd:
			if len(body) == 0 {
				continue
			}
			i = len(window)
		case SLIPEsc:
			if i+1 >= len(window) {
				return nil, decodeError("slip", window, ErrBadEscape)
			}
			i++
			switch window[i] {
			case SLIPEscEnd:
				body = append(body, SLIPEnd)
			case SLIPEscEsc:
				body = append(body, SLIPEsc)
			default:
				return nil, decodeError("slip", window, ErrBadEscape)
			}
		default:
			body = append(body, b)
		}
	}

	if len(body) < 3 {
		return nil, decodeError("slip", window, ErrFrameTooShort)
	}
	if len(body) > 1+MaxSLIPPayload+2 {
		return nil, decodeError("slip", window, ErrPayloadTooLarge)
	}

	crcPosition := len(body) - 2
	frame := &Frame{
		Length:  len(window),
		Command: uint16(body[0]),
		Payload: body[1:crcPosition],
	}
	frame.Valid = slipChecksum(body[:crcPosition]) == binary.LittleEndian.Uint16(body[crcPosition:])
	if !frame.Valid {
		return frame, decodeError("slip", window, ErrChecksumMismatch)
	}
	return frame, nil
}

// Scan drops delimiter runs and reports the window up to and including the
// next END. Without an END the bytes stay buffered.
func (SLIP) Scan(buf []byte) (skip, n int) {
	for skip < len(buf) && buf[skip] == SLIPEnd {
		skip++
	}
	if skip == len(buf) {
		return skip, 0
	}

	index := bytes.IndexByte(buf[skip:], SLIPEnd)
	if index == -1 {
		return skip, 0
	}
	return skip, index + 1
}

func slipChecksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return ^sum + 1
}
