package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/zradio/internal/logging"
	"github.com/muurk/zradio/internal/protocol"
	"github.com/muurk/zradio/internal/transport"
	"go.uber.org/zap"
)

// Time allowed to write a chunk to a client
const writeWait = 10 * time.Second

// Config holds the bridge configuration
type Config struct {
	Listen     string // Raw TCP listen address (e.g. ":6638"), empty disables
	HTTPListen string // WebSocket listen address (e.g. ":8080"), empty disables
	CertPath   string // TLS certificate for both listeners (optional)
	KeyPath    string // TLS private key
	Framing    string // Framing used to decode captured traffic
	CaptureDir string // Directory for JSONL frame captures (empty = disabled)
	Advertise  string // mDNS service name to advertise (empty = disabled)
}

// Server shares one upstream radio port with any number of TCP and
// WebSocket clients. Bytes from the radio go to every client; bytes from
// any client go to the radio.
type Server struct {
	config    *Config
	upstream  transport.Port
	tlsConfig *tls.Config
	framer    protocol.Framer
	capture   *Capture
	log       *zap.Logger

	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	mdns         *zeroconf.Server

	upMu sync.Mutex // serializes client writes to the radio

	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[string]transport.Port

	fromRadio atomic.Uint64
	toRadio   atomic.Uint64

	closing  atomic.Bool
	shutOnce sync.Once
	errChan  chan error
}

// New creates a bridge for upstream. The server owns upstream and closes it
// on shutdown.
func New(upstream transport.Port, config *Config) (*Server, error) {
	if config.Listen == "" && config.HTTPListen == "" {
		return nil, errors.New("no listen address configured")
	}

	framer, err := protocol.NewFramer(config.Framing)
	if err != nil {
		return nil, err
	}

	var tlsConfig *tls.Config
	if config.CertPath != "" || config.KeyPath != "" {
		tlsConfig, err = NewTLSConfig(config.CertPath, config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	var capture *Capture
	if config.CaptureDir != "" {
		capture, err = OpenCapture(config.CaptureDir, framer.Name(), time.Now())
		if err != nil {
			return nil, err
		}
	}

	return &Server{
		config:      config,
		upstream:    upstream,
		tlsConfig:   tlsConfig,
		framer:      framer,
		capture:     capture,
		log:         logging.Named("server").With(zap.Stringer("upstream", upstream)),
		activeConns: make(map[string]transport.Port),
		errChan:     make(chan error, 3),
	}, nil
}

// Start binds the listeners and serves until ctx is done or the radio
// fails.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		_ = s.upstream.Close()
		_ = s.capture.Close()
		return err
	}
	return s.Serve(ctx)
}

// Listen binds the configured listeners.
func (s *Server) Listen() error {
	if s.config.Listen != "" {
		ln, err := s.listen(s.config.Listen)
		if err != nil {
			return fmt.Errorf("failed to create TCP listener: %w", err)
		}
		s.listener = ln
	}

	if s.config.HTTPListen != "" {
		ln, err := s.listen(s.config.HTTPListen)
		if err != nil {
			if s.listener != nil {
				_ = s.listener.Close()
			}
			return fmt.Errorf("failed to create WebSocket listener: %w", err)
		}
		s.httpListener = ln
	}
	return nil
}

func (s *Server) listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	return ln, nil
}

// Serve runs the bridge on listeners bound by Listen.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("Starting radio bridge",
		zap.String("tcp", addrString(s.listener)),
		zap.String("websocket", addrString(s.httpListener)),
		zap.Any("tls_info", GetTLSInfo(s.tlsConfig)),
		zap.String("capture", s.capture.Path()),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pumpUpstream()
	}()

	if s.listener != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptConnections()
		}()
	}

	if s.httpListener != nil {
		s.httpServer = &http.Server{
			Handler:           s.newMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.errChan <- fmt.Errorf("websocket listener: %w", err)
			}
		}()
	}

	if s.config.Advertise != "" {
		mdns, err := s.advertise()
		if err != nil {
			s.log.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			s.mdns = mdns
		}
	}

	var err error
	select {
	case <-ctx.Done():
		s.log.Info("Shutdown requested, stopping bridge...")
	case err = <-s.errChan:
		s.log.Error("Bridge failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := s.Shutdown(shutdownCtx); err == nil {
		err = shutdownErr
	}
	return err
}

// pumpUpstream copies radio output to every client
func (s *Server) pumpUpstream() {
	var parser *protocol.Parser
	if s.capture != nil {
		parser = protocol.NewParser(s.framer, 0)
		upstream := s.upstream.String()
		parser.OnFrame(func(f *protocol.Frame) { s.capture.Record(upstream, FromRadio, f) })
	}

	buf := make([]byte, 4096)
	for {
		n, err := s.upstream.Read(buf)
		if n > 0 {
			s.fromRadio.Add(uint64(n))
			if parser != nil {
				parser.Feed(buf[:n])
			}
			s.broadcast(buf[:n])
		}
		if err != nil {
			if !s.closing.Load() {
				s.errChan <- fmt.Errorf("upstream %s: %w", s.upstream, err)
			}
			return
		}
	}
}

func (s *Server) broadcast(chunk []byte) {
	s.mu.Lock()
	clients := make([]transport.Port, 0, len(s.activeConns))
	for _, c := range s.activeConns {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if d, ok := c.(interface{ SetWriteDeadline(time.Time) error }); ok {
			_ = d.SetWriteDeadline(time.Now().Add(writeWait))
		}
		if err := c.Accept(chunk); err != nil {
			s.log.Info("Dropping slow or closed client",
				zap.Stringer("remote_addr", c),
				zap.Error(err),
			)
			// The client's read loop sees the close and untracks it.
			_ = c.Close()
		}
	}
}

func (s *Server) writeUpstream(p []byte) error {
	s.upMu.Lock()
	defer s.upMu.Unlock()
	// Counted before the write so the radio never observes bytes Status
	// has not yet reported.
	n := uint64(len(p))
	s.toRadio.Add(n)
	if err := s.upstream.Accept(p); err != nil {
		s.toRadio.Add(^(n - 1))
		return err
	}
	return nil
}

// acceptConnections accepts and handles incoming raw TCP connections
func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("Failed to accept connection", zap.Error(err))
			continue
		}

		// Handle connection in goroutine
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection handles a single raw TCP client
func (s *Server) handleConnection(conn net.Conn) {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		// Force TLS handshake
		if err := tlsConn.Handshake(); err != nil {
			s.log.Error("TLS handshake failed",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.Error(err),
			)
			_ = conn.Close()
			return
		}
	}
	s.serveClient(transport.NewConnPort(conn))
}

// serveClient forwards everything the client sends to the radio until the
// client goes away.
func (s *Server) serveClient(client transport.Port) {
	remoteAddr := client.String()

	// Track active connection
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = client.Close()
		return
	}
	s.activeConns[remoteAddr] = client
	s.mu.Unlock()

	defer func() {
		_ = client.Close()
		s.mu.Lock()
		delete(s.activeConns, remoteAddr)
		s.mu.Unlock()
		logging.LogConnection(remoteAddr, "connection_closed")
	}()

	logging.LogConnection(remoteAddr, "connection_accepted")

	var parser *protocol.Parser
	if s.capture != nil {
		parser = protocol.NewParser(s.framer, 0)
		parser.OnFrame(func(f *protocol.Frame) { s.capture.Record(remoteAddr, ToRadio, f) })
	}

	buf := make([]byte, 1024)
	for {
		n, err := client.Read(buf)
		if n > 0 {
			if parser != nil {
				parser.Feed(buf[:n])
			}
			if werr := s.writeUpstream(buf[:n]); werr != nil {
				s.log.Error("Failed to write to radio",
					zap.String("remote_addr", remoteAddr),
					zap.Error(werr),
				)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutOnce.Do(func() {
		err = s.shutdown(ctx)
	})
	return err
}

func (s *Server) shutdown(ctx context.Context) error {
	s.log.Info("Shutting down bridge...")
	s.mu.Lock()
	s.closing.Store(true)
	s.mu.Unlock()

	if s.mdns != nil {
		s.mdns.Shutdown()
	}

	// Close listeners to stop accepting new connections
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.log.Error("Error closing listener", zap.Error(err))
		}
	}
	if s.httpServer != nil {
		// Hijacked WebSocket connections are closed below with the rest.
		_ = s.httpServer.Close()
	} else if s.httpListener != nil {
		_ = s.httpListener.Close()
	}

	// Close all active connections
	s.mu.Lock()
	for addr, conn := range s.activeConns {
		s.log.Info("Closing active connection", zap.String("remote_addr", addr))
		_ = conn.Close()
	}
	s.mu.Unlock()

	// Unblocks the upstream pump.
	upErr := s.upstream.Close()

	// Wait for all goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("All connections closed gracefully")
	case <-ctx.Done():
		s.log.Warn("Shutdown timeout, forcing close")
	}

	if err := s.capture.Close(); err != nil {
		s.log.Error("Error closing capture", zap.Error(err))
	}

	logging.Sync()
	return upErr
}

// GetActiveConnections returns the number of active connections
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

// Addr returns the raw TCP listener address, nil before Listen.
func (s *Server) Addr() net.Addr { return addrOf(s.listener) }

// HTTPAddr returns the WebSocket listener address, nil before Listen.
func (s *Server) HTTPAddr() net.Addr { return addrOf(s.httpListener) }

func addrOf(ln net.Listener) net.Addr {
	if ln == nil {
		return nil
	}
	return ln.Addr()
}

func addrString(ln net.Listener) string {
	if ln == nil {
		return "disabled"
	}
	return ln.Addr().String()
}
