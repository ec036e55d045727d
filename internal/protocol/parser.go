package protocol

import (
	"errors"
	"sync"

	"github.com/muurk/zradio/internal/logging"
	"go.uber.org/zap"
)

// DefaultMaxBuffer is the parse buffer ceiling used when none is configured.
const DefaultMaxBuffer = 4096

// FrameHandler receives every successfully decoded frame.
type FrameHandler func(*Frame)

// ParserStats counts what the parser did with the bytes it was fed.
type ParserStats struct {
	Frames         uint64 // Frames decoded and emitted
	Dropped        uint64 // Complete windows that failed to decode
	DiscardedBytes uint64 // Garbage skipped while resynchronizing
	Overflows      uint64 // Times the buffer exceeded its ceiling and was dropped
}

// Parser turns a chunked byte stream into frames. Feed must be called with
// chunks in arrival order; one Parser belongs to one connection.
type Parser struct {
	framer    Framer
	maxBuffer int
	log       *zap.Logger

	mu       sync.Mutex
	buffer   []byte
	stats    ParserStats
	handlers []FrameHandler
}

// NewParser creates a parser for framer. maxBuffer bounds the bytes held
// while waiting for a frame to complete; values below the framer's largest
// frame are raised to it, zero selects DefaultMaxBuffer.
func NewParser(framer Framer, maxBuffer int) *Parser {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	if maxBuffer < framer.MaxFrameSize() {
		maxBuffer = framer.MaxFrameSize()
	}
	return &Parser{
		framer:    framer,
		maxBuffer: maxBuffer,
		log:       logging.Named("parser").With(zap.String("framing", framer.Name())),
	}
}

// OnFrame registers a handler. Handlers run in registration order on the
// goroutine calling Feed, after the parser has released its lock.
func (p *Parser) OnFrame(h FrameHandler) {
	p.mu.Lock()
	p.handlers = append(p.handlers, h)
	p.mu.Unlock()
}

// Write implements io.Writer so a transport can be copied straight into the
// parser. It never fails.
func (p *Parser) Write(chunk []byte) (int, error) {
	p.Feed(chunk)
	return len(chunk), nil
}

// Feed appends chunk to the parse buffer and emits every frame that is now
// complete. Undecodable windows are dropped; partial frames stay buffered.
func (p *Parser) Feed(chunk []byte) {
	p.mu.Lock()
	if p.log.Core().Enabled(zap.DebugLevel) {
		p.log.Debug("<-- chunk", zap.String("hex", logging.HexDump(chunk)))
	}
	p.buffer = append(p.buffer, chunk...)
	frames := p.parseLocked()
	handlers := p.handlers
	p.mu.Unlock()

	for _, frame := range frames {
		for _, h := range handlers {
			h(frame)
		}
	}
}

func (p *Parser) parseLocked() []*Frame {
	var frames []*Frame

	for len(p.buffer) > 0 {
		skip, n := p.framer.Scan(p.buffer)
		if skip > 0 {
			p.stats.DiscardedBytes += uint64(skip)
			p.buffer = p.buffer[skip:]
		}
		if n == 0 {
			if skip > 0 {
				continue
			}
			break
		}

		window := p.buffer[:n]
		frame, err := p.framer.Decode(window)
		p.buffer = p.buffer[n:]

		if err != nil {
			p.stats.Dropped++
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				p.log.Debug("--> dropped window",
					zap.Error(decodeErr.Err),
					zap.String("hex", logging.HexDump(decodeErr.Raw)),
				)
			}
			continue
		}

		p.stats.Frames++
		p.log.Debug("--> parsed", zap.Stringer("frame", frame))
		frames = append(frames, frame)
	}

	if len(p.buffer) > p.maxBuffer {
		p.log.Warn("parse buffer overflow, dropping buffered bytes",
			zap.Int("buffered", len(p.buffer)),
			zap.Int("max", p.maxBuffer),
		)
		p.stats.Overflows++
		p.stats.DiscardedBytes += uint64(len(p.buffer))
		p.buffer = nil
	}

	// Compact so a long-lived connection does not pin an ever-growing array.
	if len(p.buffer) == 0 {
		p.buffer = nil
	} else if cap(p.buffer) > 2*p.maxBuffer {
		p.buffer = append([]byte(nil), p.buffer...)
	}

	return frames
}

// Buffered returns the number of bytes waiting for a frame to complete.
func (p *Parser) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Stats returns a snapshot of the parser counters.
func (p *Parser) Stats() ParserStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Reset discards buffered bytes, e.g. after the transport reconnects.
func (p *Parser) Reset() {
	p.mu.Lock()
	p.buffer = nil
	p.mu.Unlock()
}
