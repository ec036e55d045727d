package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketPort carries the byte stream in binary messages. Message
// boundaries mean nothing: the parser reframes whatever arrives.
type WebSocketPort struct {
	conn *websocket.Conn
	name string

	reader io.Reader // current message; only the read loop touches it

	writeMu sync.Mutex
}

func dialWebSocket(ctx context.Context, url string, timeout time.Duration) (Port, error) {
	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (HTTP %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return NewWebSocketPort(conn, url), nil
}

// NewWebSocketPort wraps an established WebSocket connection.
func NewWebSocketPort(conn *websocket.Conn, name string) *WebSocketPort {
	return &WebSocketPort{conn: conn, name: name}
}

// Read returns bytes from consecutive binary messages. Text messages are
// skipped.
func (p *WebSocketPort) Read(b []byte) (int, error) {
	for {
		if p.reader == nil {
			msgType, r, err := p.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				if errors.Is(err, net.ErrClosed) {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			p.reader = r
		}

		n, err := p.reader.Read(b)
		if errors.Is(err, io.EOF) {
			p.reader = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

// Write sends b as one binary message.
func (p *WebSocketPort) Write(b []byte) (int, error) {
	if err := p.Accept(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *WebSocketPort) Accept(b []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.BinaryMessage, b)
}

// Close sends a close frame and closes the connection.
func (p *WebSocketPort) Close() error {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.writeMu.Unlock()
	return p.conn.Close()
}

// SetWriteDeadline bounds the next writes.
func (p *WebSocketPort) SetWriteDeadline(t time.Time) error {
	return p.conn.SetWriteDeadline(t)
}

func (p *WebSocketPort) String() string { return p.name }
