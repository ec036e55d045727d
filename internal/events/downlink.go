package events

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/muurk/zradio/internal/driver"
	"github.com/muurk/zradio/internal/logging"
	"github.com/muurk/zradio/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultDownlinkTimeout bounds one awaited downlink request.
const DefaultDownlinkTimeout = 10 * time.Second

// Sender is the part of *driver.Driver the downlink consumer uses.
type Sender interface {
	Send(f *protocol.Frame) error
	Request(ctx context.Context, req *protocol.Frame, m driver.Matcher, key string) (*protocol.Frame, error)
	ResponseFor(req *protocol.Frame) driver.Matcher
	Framing() string
}

// DownlinkCommand is the JSON document accepted on the downlink subject.
// With Await set and a reply subject on the message, the response frame is
// sent back as a FrameEvent.
type DownlinkCommand struct {
	Command   string `json:"command"`           // hex, e.g. "2102"
	Payload   string `json:"payload,omitempty"` // hex
	Await     bool   `json:"await,omitempty"`
	Key       string `json:"key,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// DownlinkReply answers an awaited DownlinkCommand.
type DownlinkReply struct {
	Frame *FrameEvent `json:"frame,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Frame decodes the command into a frame ready to send.
func (c DownlinkCommand) Frame() (*protocol.Frame, error) {
	cmd, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(c.Command), "0x"), 16, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid command %q: %w", c.Command, err)
	}
	payload, err := hex.DecodeString(c.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return &protocol.Frame{Command: uint16(cmd), Payload: payload, Valid: true}, nil
}

func (c DownlinkCommand) timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return DefaultDownlinkTimeout
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Downlink consumes DownlinkCommands and writes them to a radio.
type Downlink struct {
	sender Sender
	port   string
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewDownlink creates a consumer writing to sender, labelled port in replies.
func NewDownlink(sender Sender, port string) *Downlink {
	return &Downlink{
		sender: sender,
		port:   port,
		log:    logging.Named("events").With(zap.String("port", port)),
	}
}

// Subscribe listens on the downlink subject of prefix.
func (d *Downlink) Subscribe(nc *nats.Conn, prefix string) (*nats.Subscription, error) {
	subject := DownlinkSubject(prefix)
	sub, err := nc.Subscribe(subject, d.dispatch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	d.log.Info("Listening for downlink commands", zap.String("subject", subject))
	return sub, nil
}

// dispatch handles msg on its own goroutine so an awaited request does not
// hold up delivery. Concurrency is bounded by the driver's queue.
func (d *Downlink) dispatch(msg *nats.Msg) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.respond(msg)
	}()
}

func (d *Downlink) respond(msg *nats.Msg) {
	reply := d.Handle(context.Background(), msg.Data)
	if msg.Reply == "" || reply == nil {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		d.log.Error("Failed to marshal downlink reply", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		d.log.Warn("Failed to respond to downlink", zap.Error(err))
	}
}

// Wait blocks until every dispatched command has finished.
func (d *Downlink) Wait() {
	d.wg.Wait()
}

// Handle executes one encoded DownlinkCommand. It returns a reply for
// awaited commands and for failures, nil for a successful fire-and-forget
// send.
func (d *Downlink) Handle(ctx context.Context, data []byte) *DownlinkReply {
	var cmd DownlinkCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		d.log.Warn("Failed to unmarshal downlink command", zap.Error(err))
		return &DownlinkReply{Error: err.Error()}
	}

	req, err := cmd.Frame()
	if err != nil {
		d.log.Warn("Invalid downlink command", zap.Error(err))
		return &DownlinkReply{Error: err.Error()}
	}

	if !cmd.Await {
		if err := d.sender.Send(req); err != nil {
			d.log.Error("Failed to send downlink frame", zap.String("command", cmd.Command), zap.Error(err))
			return &DownlinkReply{Error: err.Error()}
		}
		d.log.Debug("Downlink frame sent", zap.String("command", cmd.Command))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.timeout())
	defer cancel()

	resp, err := d.sender.Request(ctx, req, d.sender.ResponseFor(req), cmd.Key)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			d.log.Warn("Downlink request failed", zap.String("command", cmd.Command), zap.Error(err))
		}
		return &DownlinkReply{Error: err.Error()}
	}

	ev := NewFrameEvent(d.port, d.sender.Framing(), resp)
	return &DownlinkReply{Frame: &ev}
}
