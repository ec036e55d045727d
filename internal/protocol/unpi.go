package protocol

import (
	"bytes"
	"fmt"
)

// UNPI frame constants (Z-Stack unified network processor interface).
//
//	[0]     0xFE           Start of frame
//	[1]     len            Data length
//	[2]     cmd0           Message type (bits 7-5) | subsystem (bits 4-0)
//	[3]     cmd1           Command ID
//	[4..]   data           len bytes
//	[4+len] fcs            XOR of bytes 1 .. 3+len
const (
	SOF                = 0xFE
	PositionDataLength = 1
	PositionCmd0       = 2
	PositionCmd1       = 3
	DataStart          = 4
	MinMessageLength   = 5
	MaxDataSize        = 250
)

// MessageType is the UNPI type carried in the top three bits of cmd0.
type MessageType uint8

const (
	POLL MessageType = 0
	SREQ MessageType = 1
	AREQ MessageType = 2
	SRSP MessageType = 3
)

// Subsystem is the UNPI subsystem carried in the low five bits of cmd0.
type Subsystem uint8

const (
	SubsystemRES0       Subsystem = 0
	SubsystemSYS        Subsystem = 1
	SubsystemMAC        Subsystem = 2
	SubsystemNWK        Subsystem = 3
	SubsystemAF         Subsystem = 4
	SubsystemZDO        Subsystem = 5
	SubsystemSAPI       Subsystem = 6
	SubsystemUTIL       Subsystem = 7
	SubsystemDEBUG      Subsystem = 8
	SubsystemAPP        Subsystem = 9
	SubsystemAPPCNF     Subsystem = 15
	SubsystemGREENPOWER Subsystem = 21
)

// UNPI implements Framer for length-prefixed, XOR-checksummed frames.
type UNPI struct{}

// UNPICommand packs type, subsystem and command id into a Frame.Command.
func UNPICommand(typ MessageType, subsystem Subsystem, id uint8) uint16 {
	cmd0 := uint8(typ)<<5 | uint8(subsystem)&0x1F
	return uint16(cmd0)<<8 | uint16(id)
}

// NewUNPIFrame builds a frame ready for UNPI.Encode.
func NewUNPIFrame(typ MessageType, subsystem Subsystem, id uint8, payload []byte) *Frame {
	return &Frame{
		Length:  MinMessageLength + len(payload),
		Command: UNPICommand(typ, subsystem, id),
		Payload: payload,
		Valid:   true,
	}
}

// Type returns the UNPI message type of a frame decoded by UNPI.
func (f *Frame) Type() MessageType {
	return MessageType(f.Command >> 13)
}

// Subsystem returns the UNPI subsystem of a frame decoded by UNPI.
func (f *Frame) Subsystem() Subsystem {
	return Subsystem(f.Command>>8) & 0x1F
}

// ID returns the UNPI command id of a frame decoded by UNPI.
func (f *Frame) ID() uint8 {
	return uint8(f.Command)
}

func (UNPI) Name() string { return "unpi" }

func (UNPI) MaxFrameSize() int { return MinMessageLength + 0xFF }

// Encode serializes f as SOF | len | cmd0 | cmd1 | data | fcs.
func (UNPI) Encode(f *Frame) ([]byte, error) {
	if len(f.Payload) > MaxDataSize {
		return nil, fmt.Errorf("unpi encode: %w: %d bytes (max %d)", ErrPayloadTooLarge, len(f.Payload), MaxDataSize)
	}

	dataLength := len(f.Payload)
	buf := make([]byte, MinMessageLength+dataLength)
	buf[0] = SOF
	buf[PositionDataLength] = byte(dataLength)
	buf[PositionCmd0] = byte(f.Command >> 8)
	buf[PositionCmd1] = byte(f.Command)
	copy(buf[DataStart:], f.Payload)

	fcsPosition := DataStart + dataLength
	buf[fcsPosition] = CalculateFCS(buf[PositionDataLength:fcsPosition])
	return buf, nil
}

// Decode parses one complete UNPI window. The declared length is taken from
// the window size, so a corrupted length byte surfaces as a checksum error.
func (UNPI) Decode(window []byte) (*Frame, error) {
	if len(window) < MinMessageLength {
		return nil, decodeError("unpi", window, ErrFrameTooShort)
	}
	return DecodeUNPI(window, len(window)-MinMessageLength)
}

// DecodeUNPI decodes window as a frame carrying dataLength data bytes.
func DecodeUNPI(window []byte, dataLength int) (*Frame, error) {
	if len(window) < MinMessageLength {
		return nil, decodeError("unpi", window, ErrFrameTooShort)
	}
	if window[0] != SOF {
		return nil, decodeError("unpi", window, ErrBadMarker)
	}
	fcsPosition := DataStart + dataLength
	if dataLength < 0 || len(window) != fcsPosition+1 {
		return nil, decodeError("unpi", window, ErrMalformedLength)
	}

	frame := &Frame{
		Length:  len(window),
		Command: uint16(window[PositionCmd0])<<8 | uint16(window[PositionCmd1]),
		Payload: append([]byte(nil), window[DataStart:fcsPosition]...),
	}

	frame.Valid = CalculateFCS(window[PositionDataLength:fcsPosition]) == window[fcsPosition]
	if !frame.Valid {
		return frame, decodeError("unpi", window, ErrChecksumMismatch)
	}
	return frame, nil
}

// Scan skips to the next SOF and reports a complete frame once the declared
// length is fully buffered. A SOF announcing more than MaxDataSize bytes
// cannot start a frame and is skipped.
func (UNPI) Scan(buf []byte) (skip, n int) {
	if len(buf) == 0 {
		return 0, 0
	}

	if buf[0] != SOF {
		index := bytes.IndexByte(buf, SOF)
		if index == -1 {
			return len(buf), 0
		}
		skip = index
	}

	rest := buf[skip:]
	if len(rest) < MinMessageLength {
		return skip, 0
	}

	dataLength := int(rest[PositionDataLength])
	if dataLength > MaxDataSize {
		return skip + 1, 0
	}

	frameLength := DataStart + dataLength + 1
	if len(rest) < frameLength {
		return skip, 0
	}
	return skip, frameLength
}

// CalculateFCS returns the XOR of all bytes in data.
func CalculateFCS(data []byte) byte {
	var fcs byte
	for _, b := range data {
		fcs ^= b
	}
	return fcs
}

// String names the message type the way Z-Stack logs do.
func (t MessageType) String() string {
	switch t {
	case POLL:
		return "POLL"
	case SREQ:
		return "SREQ"
	case AREQ:
		return "AREQ"
	case SRSP:
		return "SRSP"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

func (s Subsystem) String() string {
	switch s {
	case SubsystemRES0:
		return "RES0"
	case SubsystemSYS:
		return "SYS"
	case SubsystemMAC:
		return "MAC"
	case SubsystemNWK:
		return "NWK"
	case SubsystemAF:
		return "AF"
	case SubsystemZDO:
		return "ZDO"
	case SubsystemSAPI:
		return "SAPI"
	case SubsystemUTIL:
		return "UTIL"
	case SubsystemDEBUG:
		return "DEBUG"
	case SubsystemAPP:
		return "APP"
	case SubsystemAPPCNF:
		return "APP_CNF"
	case SubsystemGREENPOWER:
		return "GREENPOWER"
	default:
		return fmt.Sprintf("Subsystem(%d)", uint8(s))
	}
}
