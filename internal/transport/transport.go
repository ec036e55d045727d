package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muurk/zradio/internal/discovery"
	"github.com/muurk/zradio/internal/logging"
	"go.uber.org/zap"
)

// DefaultBaudRate is the serial speed used when Config.BaudRate is zero.
const DefaultBaudRate = 115200

// DefaultDialTimeout bounds TCP and WebSocket connection setup.
const DefaultDialTimeout = 10 * time.Second

// ErrInvalidPath is returned for an empty or malformed transport path.
var ErrInvalidPath = errors.New("transport: invalid path")

// Port is an open byte stream to a coordinator. Accept writes a whole batch,
// which lets a port serve directly as a protocol.Writer sink.
type Port interface {
	io.ReadWriteCloser
	Accept(p []byte) error
	String() string
}

// Config selects and tunes a transport.
type Config struct {
	// Path is a serial device ("/dev/ttyUSB0", "COM3"), "tcp://host:port",
	// "ws://host/path", "wss://host/path" or "mdns://<service>".
	Path string

	// BaudRate applies to serial devices only
	BaudRate int

	// RTSCTS asserts RTS on serial devices, for adapters wired for
	// hardware flow control
	RTSCTS bool

	// DialTimeout applies to network transports
	DialTimeout time.Duration

	// Scanner resolves mdns:// paths; nil uses discovery.NewScanner()
	Scanner *discovery.Scanner
}

// Kind names the transport a path selects.
type Kind string

const (
	KindSerial    Kind = "serial"
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "websocket"
	KindMDNS      Kind = "mdns"
)

// Parse splits a transport path into its kind and the address the kind
// dials: the device path, host:port, the full ws URL or the mDNS service.
func Parse(path string) (Kind, string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", "", ErrInvalidPath
	}

	scheme, rest, ok := strings.Cut(path, "://")
	if !ok {
		return KindSerial, path, nil
	}

	if rest == "" {
		return "", "", fmt.Errorf("%w: %q has no address", ErrInvalidPath, path)
	}

	switch strings.ToLower(scheme) {
	case "tcp":
		return KindTCP, rest, nil
	case "ws", "wss":
		return KindWebSocket, path, nil
	case "mdns":
		return KindMDNS, strings.Trim(rest, "/"), nil
	case "serial":
		return KindSerial, rest, nil
	default:
		return "", "", fmt.Errorf("%w: unknown scheme %q", ErrInvalidPath, scheme)
	}
}

// Open connects to the coordinator named by cfg.Path.
func Open(ctx context.Context, cfg Config) (Port, error) {
	kind, addr, err := Parse(cfg.Path)
	if err != nil {
		return nil, err
	}

	log := logging.Named("transport").With(zap.String("kind", string(kind)), zap.String("address", addr))
	log.Debug("opening port")

	var port Port
	switch kind {
	case KindSerial:
		port, err = openSerial(addr, cfg)
	case KindTCP:
		port, err = dialTCP(ctx, addr, cfg.dialTimeout())
	case KindWebSocket:
		port, err = dialWebSocket(ctx, addr, cfg.dialTimeout())
	case KindMDNS:
		port, err = openMDNS(ctx, addr, cfg)
	}
	if err != nil {
		return nil, err
	}

	log.Info("port open", zap.Stringer("port", port))
	return port, nil
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return DefaultDialTimeout
	}
	return c.DialTimeout
}

func openMDNS(ctx context.Context, service string, cfg Config) (Port, error) {
	scanner := cfg.Scanner
	if scanner == nil {
		scanner = discovery.NewScanner()
	}

	coordinator, err := scanner.Lookup(ctx, service)
	if err != nil {
		return nil, err
	}
	logging.Named("transport").Info("coordinator resolved", zap.Stringer("coordinator", coordinator))

	return dialTCP(ctx, coordinator.Address(), cfg.dialTimeout())
}

// writeAll is the Accept half of every port.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
