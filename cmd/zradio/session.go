package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/muurk/zradio/internal/config"
	"github.com/muurk/zradio/internal/driver"
	"github.com/muurk/zradio/internal/events"
	"github.com/muurk/zradio/internal/logging"
	"github.com/muurk/zradio/internal/transport"
	"github.com/muurk/zradio/internal/ui"
)

// session is an open radio: the port, its driver and the optional NATS link.
type session struct {
	cfg      *config.Config
	port     transport.Port
	driver   *driver.Driver
	nc       *nats.Conn
	downlink *events.Downlink
}

// openSession opens the configured port and builds a driver on it. When
// NATS is configured, every received frame is published. The driver is
// not started yet so callers can subscribe first.
func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	port, err := transport.Open(ctx, cfg.TransportConfig())
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, port: port}

	var opts []driver.Option
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		s.nc = nc
		opts = append(opts, driver.WithPublisher(
			events.NewNATSPublisher(nc, cfg.NATS.Prefix, port.String(), cfg.Driver.Framing),
		))
	}

	d, err := driver.New(port, cfg.DriverConfig(), opts...)
	if err != nil {
		s.closeNATS()
		_ = port.Close()
		return nil, err
	}
	s.driver = d
	return s, nil
}

// Start runs the driver and, when enabled, the NATS downlink consumer.
func (s *session) Start(ctx context.Context) error {
	if err := s.driver.Start(ctx); err != nil {
		return err
	}
	if s.nc != nil && s.cfg.NATS.Downlink {
		downlink := events.NewDownlink(s.driver, s.port.String())
		if _, err := downlink.Subscribe(s.nc, s.cfg.NATS.Prefix); err != nil {
			return fmt.Errorf("failed to start downlink: %w", err)
		}
		s.downlink = downlink
	}
	return nil
}

// Close stops NATS and the driver, which closes the port. Downlink
// commands still in flight fail with driver.ErrClosed.
func (s *session) Close() error {
	s.closeNATS()
	err := s.driver.Close()
	if s.downlink != nil {
		s.downlink.Wait()
	}

	stats := s.driver.Stats()
	logging.Named("session").Debug("session closed",
		zap.String("port", s.port.String()),
		zap.Uint64("frames", stats.Frames),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("discarded_bytes", stats.DiscardedBytes),
		zap.Uint64("overflows", stats.Overflows),
	)
	return err
}

func (s *session) closeNATS() {
	if s.nc == nil {
		return
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
	}
}

// portFields describes the configured radio for command headers.
func portFields(cfg *config.Config) []ui.Field {
	fields := []ui.Field{
		{Key: "Port", Value: cfg.Transport.Path},
		{Key: "Framing", Value: cfg.Driver.Framing},
	}
	if kind, _, err := transport.Parse(cfg.Transport.Path); err == nil && kind == transport.KindSerial {
		fields = append(fields, ui.Field{Key: "Baud rate", Value: fmt.Sprint(cfg.Transport.BaudRate)})
	}
	if cfg.NATS.URL != "" {
		fields = append(fields, ui.Field{Key: "NATS", Value: cfg.NATS.URL + " (" + cfg.NATS.Prefix + ")"})
	}
	return fields
}

// portTroubleshooting is shown when a radio cannot be opened or does not answer.
var portTroubleshooting = []string{
	"Check the radio path with --port (serial device, tcp://host:port or mdns://service)",
	"Make sure no other program (e.g. Zigbee2MQTT) holds the port",
	"Serial sticks: check --baud; most Z-Stack firmware runs at 115200",
	"Check --framing: Z-Stack radios use unpi, ConBee and RaspBee use slip",
}
