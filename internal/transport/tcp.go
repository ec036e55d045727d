package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

type tcpPort struct {
	net.Conn
	addr string
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration) (Port, error) {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &tcpPort{Conn: conn, addr: addr}, nil
}

// NewConnPort wraps an established connection, e.g. one accepted by a bridge.
func NewConnPort(conn net.Conn) Port {
	return &tcpPort{Conn: conn, addr: conn.RemoteAddr().String()}
}

func (p *tcpPort) Accept(b []byte) error { return writeAll(p.Conn, b) }

func (p *tcpPort) String() string { return "tcp://" + p.addr }
