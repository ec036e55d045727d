package events

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/muurk/zradio/internal/logging"
	"github.com/muurk/zradio/internal/protocol"
	"github.com/muurk/zradio/internal/version"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultPrefix is the subject prefix used when none is configured
const DefaultPrefix = "zradio"

// FrameEvent is the JSON document published for every decoded frame
type FrameEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Port      string    `json:"port"`
	Framing   string    `json:"framing"`
	Command   string    `json:"command"`
	Type      string    `json:"type,omitempty"`
	Subsystem string    `json:"subsystem,omitempty"`
	ID        *uint8    `json:"id,omitempty"`
	Length    int       `json:"length"`
	Payload   string    `json:"payload"`
}

// NewFrameEvent describes f as received on port.
func NewFrameEvent(port, framing string, f *protocol.Frame) FrameEvent {
	ev := FrameEvent{
		Timestamp: time.Now().UTC(),
		Port:      port,
		Framing:   framing,
		Command:   CommandHex(f.Command),
		Length:    f.Length,
		Payload:   hex.EncodeToString(f.Payload),
	}
	if framing == "unpi" {
		id := f.ID()
		ev.Type = f.Type().String()
		ev.Subsystem = f.Subsystem().String()
		ev.ID = &id
	}
	return ev
}

// CommandHex formats a frame command the way subjects carry it, e.g. "6102".
func CommandHex(command uint16) string {
	return fmt.Sprintf("%04x", command)
}

// Subject returns "<prefix>.<command hex>".
func Subject(prefix string, command uint16) string {
	return normalizePrefix(prefix) + "." + CommandHex(command)
}

// AllSubject returns "<prefix>.all", which carries every frame.
func AllSubject(prefix string) string {
	return normalizePrefix(prefix) + ".all"
}

// DownlinkSubject returns "<prefix>.downlink", where frames to send arrive.
func DownlinkSubject(prefix string) string {
	return normalizePrefix(prefix) + ".downlink"
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, ". ")
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Connect dials the NATS server at url with reconnects logged.
func Connect(url string) (*nats.Conn, error) {
	log := logging.Named("events")
	nc, err := nats.Connect(url,
		nats.Name(version.UserAgent()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	log.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// NATSPublisher publishes decoded frames as FrameEvents. It implements
// driver.Publisher.
type NATSPublisher struct {
	conn    Conn
	prefix  string
	port    string
	framing string
	log     *zap.Logger
}

// NewNATSPublisher publishes frames received on port under prefix.
func NewNATSPublisher(conn Conn, prefix, port, framing string) *NATSPublisher {
	prefix = normalizePrefix(prefix)
	return &NATSPublisher{
		conn:    conn,
		prefix:  prefix,
		port:    port,
		framing: framing,
		log:     logging.Named("events").With(zap.String("prefix", prefix)),
	}
}

// Publish sends f to its command subject and to the all subject.
func (p *NATSPublisher) Publish(f *protocol.Frame) error {
	data, err := json.Marshal(NewFrameEvent(p.port, p.framing, f))
	if err != nil {
		return fmt.Errorf("failed to marshal frame event: %w", err)
	}

	subject := Subject(p.prefix, f.Command)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	if err := p.conn.Publish(AllSubject(p.prefix), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", AllSubject(p.prefix), err)
	}

	p.log.Debug("Published frame", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}
