package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/muurk/zradio/internal/logging"
	"github.com/muurk/zradio/internal/protocol"
	"github.com/muurk/zradio/internal/queue"
	"github.com/muurk/zradio/internal/waitress"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed driver.
var ErrClosed = errors.New("driver: closed")

// Config controls one driver instance.
type Config struct {
	Framing        string        // "unpi" or "slip"
	MaxBuffer      int           // Parser buffer ceiling in bytes
	HighWaterMark  int           // Writer pending bytes before an early flush
	Concurrency    int           // Requests in flight at once
	RequestTimeout time.Duration // Time to wait for a matching response
	Retry          RetryPolicies
}

// DefaultConfig returns the configuration used for a Z-Stack coordinator.
func DefaultConfig() Config {
	return Config{
		Framing:        "unpi",
		MaxBuffer:      protocol.DefaultMaxBuffer,
		HighWaterMark:  protocol.DefaultHighWaterMark,
		Concurrency:    2,
		RequestTimeout: 6 * time.Second,
		Retry:          DefaultRetryPolicies(),
	}
}

// Publisher receives every decoded frame, e.g. to forward it to a broker.
type Publisher interface {
	Publish(f *protocol.Frame) error
}

// Rejecter inspects a response frame and returns a non-empty reason when it
// reports a failure. Such frames reject their waiters instead of resolving them.
type Rejecter func(f *protocol.Frame) string

// Matcher selects the response a request is waiting for.
type Matcher struct {
	Description string
	Match       func(f *protocol.Frame) bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithPublisher forwards decoded frames to p.
func WithPublisher(p Publisher) Option {
	return func(d *Driver) { d.publisher = p }
}

// WithRejecter installs r for incoming frames.
func WithRejecter(r Rejecter) Option {
	return func(d *Driver) { d.rejecter = r }
}

// WithClock replaces the clock used for timeouts and retry delays.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Driver) { d.clock = clock }
}

// Driver wires one connection: a parser fed by the read loop, a writer
// flushing into the port, a queue bounding requests and a waitress
// matching responses.
type Driver struct {
	port      io.ReadWriteCloser
	name      string
	cfg       Config
	framer    protocol.Framer
	parser    *protocol.Parser
	writer    *protocol.Writer
	queue     *queue.Queue
	waitress  *waitress.Waitress[*protocol.Frame, Matcher]
	publisher Publisher
	rejecter  Rejecter
	clock     clockwork.Clock
	log       *zap.Logger

	writeMu sync.Mutex

	subMu       sync.RWMutex
	subscribers []func(*protocol.Frame)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	errMu     sync.Mutex
	err       error
}

// New creates a driver on port. A port implementing protocol.Sink receives
// writer batches directly; any other port is written with Write.
func New(port io.ReadWriteCloser, cfg Config, opts ...Option) (*Driver, error) {
	framer, err := protocol.NewFramer(cfg.Framing)
	if err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	name := "port"
	if s, ok := port.(fmt.Stringer); ok {
		name = s.String()
	}

	d := &Driver{
		port:   port,
		name:   name,
		cfg:    cfg,
		framer: framer,
		clock:  clockwork.NewRealClock(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	sink, ok := port.(protocol.Sink)
	if !ok {
		sink = protocol.WriterSink(port)
	}

	d.log = logging.Named("driver").With(zap.String("port", name), zap.String("framing", framer.Name()))
	d.parser = protocol.NewParser(framer, cfg.MaxBuffer)
	d.writer = protocol.NewWriter(framer, sink, cfg.HighWaterMark)
	d.queue = queue.New(cfg.Concurrency)
	d.waitress = waitress.New[*protocol.Frame, Matcher](
		func(f *protocol.Frame, m Matcher) bool { return m.Match(f) },
		func(m Matcher, timeout time.Duration) string {
			return fmt.Sprintf("timeout waiting for %s after %dms", m.Description, timeout.Milliseconds())
		},
		waitress.WithClock(d.clock),
	)
	d.parser.OnFrame(d.dispatch)

	return d, nil
}

// Start launches the read loop. The loop ends when ctx is done, the driver
// is closed, or the port fails; Done reports that.
func (d *Driver) Start(ctx context.Context) error {
	select {
	case <-d.done:
		return ErrClosed
	default:
	}

	logging.LogConnection(d.name, "open")

	d.wg.Add(1)
	go d.readLoop()

	go func() {
		select {
		case <-ctx.Done():
			_ = d.Close()
		case <-d.done:
		}
	}()
	return nil
}

func (d *Driver) readLoop() {
	defer d.wg.Done()

	buf := make([]byte, 1024)
	for {
		n, err := d.port.Read(buf)
		if n > 0 {
			d.parser.Feed(buf[:n])
		}
		if err == nil {
			continue
		}

		select {
		case <-d.done:
			return
		default:
		}
		if !errors.Is(err, io.EOF) {
			d.log.Error("read failed", zap.Error(err))
		}
		d.fail(fmt.Errorf("read from %s: %w", d.name, err))
		return
	}
}

func (d *Driver) fail(err error) {
	d.errMu.Lock()
	if d.err == nil {
		d.err = err
	}
	d.errMu.Unlock()
	go func() { _ = d.Close() }()
}

func (d *Driver) dispatch(f *protocol.Frame) {
	if d.rejecter != nil {
		if reason := d.rejecter(f); reason != "" {
			d.waitress.Reject(f, reason)
		} else {
			d.waitress.Resolve(f)
		}
	} else {
		d.waitress.Resolve(f)
	}

	d.subMu.RLock()
	subscribers := d.subscribers
	d.subMu.RUnlock()
	for _, fn := range subscribers {
		fn(f)
	}

	if d.publisher != nil {
		if err := d.publisher.Publish(f); err != nil {
			d.log.Warn("publish failed", zap.Stringer("frame", f), zap.Error(err))
		}
	}
}

// Subscribe registers fn for every decoded frame, responses included.
func (d *Driver) Subscribe(fn func(*protocol.Frame)) {
	d.subMu.Lock()
	d.subscribers = append(d.subscribers, fn)
	d.subMu.Unlock()
}

// Send writes f and flushes it.
func (d *Driver) Send(f *protocol.Frame) error {
	return d.SendBatch(f)
}

// SendBatch writes frames as few port writes as the high-water mark allows.
func (d *Driver) SendBatch(frames ...*protocol.Frame) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	select {
	case <-d.done:
		return ErrClosed
	default:
	}

	for _, f := range frames {
		if !d.writer.CanAcceptMore() {
			if err := d.writer.Flush(); err != nil {
				return err
			}
		}
		if err := d.writer.WriteFrame(f); err != nil {
			return err
		}
	}
	return d.writer.Flush()
}

// Request sends req through the queue and waits for the frame selected by
// m. Requests sharing a non-empty key are never in flight together. Failed
// attempts are retried according to the configured RetryPolicies.
func (d *Driver) Request(ctx context.Context, req *protocol.Frame, m Matcher, key string) (*protocol.Frame, error) {
	return queue.Do(ctx, d.queue, key, func(ctx context.Context) (*protocol.Frame, error) {
		return d.withRetry(ctx, m.Description, func(ctx context.Context) (*protocol.Frame, error) {
			return d.exchange(ctx, req, m)
		})
	})
}

func (d *Driver) exchange(ctx context.Context, req *protocol.Frame, m Matcher) (*protocol.Frame, error) {
	handle := d.waitress.WaitFor(m, d.cfg.RequestTimeout)

	if err := d.Send(req); err != nil {
		d.waitress.Remove(handle.ID)
		if errors.Is(err, ErrClosed) || errors.Is(err, protocol.ErrPayloadTooLarge) || errors.Is(err, protocol.ErrCommandRange) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errSendFailed, err)
	}

	wait := handle.Start()
	select {
	case <-wait.Done():
		return wait.Wait(context.Background())
	case <-ctx.Done():
		wait.Cancel()
		return nil, ctx.Err()
	case <-d.done:
		wait.Cancel()
		return nil, ErrClosed
	}
}

// Framing returns the name of the framing this driver speaks.
func (d *Driver) Framing() string {
	return d.framer.Name()
}

// ResponseFor returns the matcher a plain request/response exchange uses
// for req: SRSPFor on UNPI, CommandFor on SLIP.
func (d *Driver) ResponseFor(req *protocol.Frame) Matcher {
	if d.framer.Name() == "unpi" {
		return SRSPFor(req)
	}
	return CommandFor(req)
}

// Pending returns the number of requests queued or in flight.
func (d *Driver) Pending() int {
	return d.queue.Count()
}

// Stats returns the parser counters of this connection.
func (d *Driver) Stats() protocol.ParserStats {
	return d.parser.Stats()
}

// Done is closed once the driver has stopped.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Err returns the error that stopped the read loop, if any.
func (d *Driver) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

// Close stops the read loop and closes the port. It is safe to call more
// than once.
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		err = d.port.Close()
		d.wg.Wait()
		logging.LogConnection(d.name, "closed")
	})
	return err
}

// SRSPFor matches the synchronous response to a UNPI request: same
// subsystem and command id, type SRSP.
func SRSPFor(req *protocol.Frame) Matcher {
	want := protocol.UNPICommand(protocol.SRSP, req.Subsystem(), req.ID())
	return Matcher{
		Description: fmt.Sprintf("SRSP %s 0x%02x", req.Subsystem(), req.ID()),
		Match: func(f *protocol.Frame) bool {
			return f.Command == want
		},
	}
}

// AREQFor matches an asynchronous UNPI indication by subsystem and id.
func AREQFor(subsystem protocol.Subsystem, id uint8) Matcher {
	want := protocol.UNPICommand(protocol.AREQ, subsystem, id)
	return Matcher{
		Description: fmt.Sprintf("AREQ %s 0x%02x", subsystem, id),
		Match: func(f *protocol.Frame) bool {
			return f.Command == want
		},
	}
}

// CommandFor matches a response carrying the same command as req, the way
// SLIP radios answer.
func CommandFor(req *protocol.Frame) Matcher {
	return Matcher{
		Description: fmt.Sprintf("command 0x%02x", req.Command),
		Match: func(f *protocol.Frame) bool {
			return f.Command == req.Command
		},
	}
}
