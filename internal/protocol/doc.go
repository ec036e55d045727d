// Package protocol implements the byte-level framing used between zradio and
// a Zigbee coordinator.
//
// This package turns a chunked serial byte stream into discrete frames and
// back. It performs no I/O of its own: bytes come in through Parser.Feed and
// go out through a Sink supplied to Writer.
//
// # Framing Disciplines
//
// Two independent Framer implementations are provided:
//
// UNPI (Z-Stack ZNP), length-prefixed with an XOR checksum:
//   - Start of frame: 0xFE
//   - Data length: 1 byte
//   - cmd0: message type (3 bits) and subsystem (5 bits)
//   - cmd1: command id
//   - Data: Variable length (max 250 bytes)
//   - FCS: 1 byte (XOR of length, cmd0, cmd1 and data)
//
// SLIP (deCONZ), delimiter-terminated with byte stuffing:
//   - End of frame: 0xC0, escape 0xDB
//   - 0xC0 in the body is sent as 0xDB 0xDC, 0xDB as 0xDB 0xDD
//   - Body: command byte, payload, 16-bit two's complement sum (little-endian)
//
// # Parsing
//
//	parser := protocol.NewParser(protocol.UNPI{}, protocol.DefaultMaxBuffer)
//	parser.OnFrame(func(f *protocol.Frame) {
//	    fmt.Printf("%s %s 0x%02x\n", f.Type(), f.Subsystem(), f.ID())
//	})
//	parser.Feed(chunk)
//
// The parser discards bytes that cannot start a frame, keeps partial frames
// buffered until the rest arrives, and drops complete windows that fail
// their checksum without stalling on them. The buffer is capped; when the
// cap is exceeded the buffered bytes are dropped and counted in Stats.
//
// # Writing
//
//	writer := protocol.NewWriter(protocol.UNPI{}, port, protocol.DefaultHighWaterMark)
//	_ = writer.WriteFrame(protocol.NewUNPIFrame(protocol.SREQ, protocol.SubsystemSYS, 0x01, nil))
//	if !writer.CanAcceptMore() {
//	    _ = writer.Flush()
//	}
//	_ = writer.Flush()
//
// # Error Handling
//
// Decode failures are reported as *DecodeError wrapping one of the sentinel
// errors (ErrChecksumMismatch, ErrMalformedLength, ErrBadEscape, ...). The
// parser logs and drops them; they never reach frame handlers.
//
// # Thread Safety
//
// Codecs are stateless. Parser and Writer guard their buffers with a mutex,
// but a Parser still expects its chunks in arrival order from one reader.
package protocol
