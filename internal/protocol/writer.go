package protocol

import (
	"fmt"
	"io"
	"sync"

	"github.com/muurk/zradio/internal/logging"
	"go.uber.org/zap"
)

// DefaultHighWaterMark is the pending byte count at which a Writer stops
// accepting more data until flushed.
const DefaultHighWaterMark = 256

// Sink receives batches of encoded bytes. Implementations perform the actual
// serial I/O and must not block indefinitely.
type Sink interface {
	Accept(p []byte) error
}

// ReadySink is a Sink that can report it is currently saturated.
type ReadySink interface {
	Sink
	Ready() bool
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(p []byte) error

func (f SinkFunc) Accept(p []byte) error { return f(p) }

// WriterSink adapts an io.Writer to the Sink interface.
func WriterSink(w io.Writer) Sink {
	return SinkFunc(func(p []byte) error {
		_, err := w.Write(p)
		return err
	})
}

// Writer accumulates encoded frames and hands them to its sink in batches.
type Writer struct {
	framer        Framer
	sink          Sink
	highWaterMark int
	log           *zap.Logger

	mu      sync.Mutex
	pending []byte
}

// NewWriter creates a Writer encoding with framer and flushing into sink.
func NewWriter(framer Framer, sink Sink, highWaterMark int) *Writer {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	return &Writer{
		framer:        framer,
		sink:          sink,
		highWaterMark: highWaterMark,
		log:           logging.Named("writer").With(zap.String("framing", framer.Name())),
	}
}

// WriteFrame encodes f and appends it to the pending bytes.
func (w *Writer) WriteFrame(f *Frame) error {
	data, err := w.framer.Encode(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	w.log.Debug("--> frame", zap.Stringer("frame", f), zap.String("hex", logging.HexDump(data)))

	w.mu.Lock()
	w.pending = append(w.pending, data...)
	w.mu.Unlock()
	return nil
}

// WriteByte appends one raw byte.
func (w *Writer) WriteByte(b byte) error {
	w.mu.Lock()
	w.pending = append(w.pending, b)
	w.mu.Unlock()
	return nil
}

// Write appends raw, already framed bytes.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.pending = append(w.pending, p...)
	w.mu.Unlock()
	return len(p), nil
}

// CanAcceptMore reports whether producers may keep writing. When it returns
// false the caller should stop and Flush.
func (w *Writer) CanAcceptMore() bool {
	if rs, ok := w.sink.(ReadySink); ok && !rs.Ready() {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) < w.highWaterMark
}

// Flush hands all pending bytes to the sink in a single Accept call. It is a
// no-op when nothing is pending. Bytes are cleared even if the sink fails;
// a half-written frame cannot be retried meaningfully.
func (w *Writer) Flush() error {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	w.log.Debug(">>>> flush", zap.Int("length", len(batch)))
	if err := w.sink.Accept(batch); err != nil {
		return fmt.Errorf("failed to flush %d bytes: %w", len(batch), err)
	}
	return nil
}

// Pending returns the number of bytes waiting for Flush.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
