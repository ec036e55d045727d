package server

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/zradio/internal/discovery"
	"go.uber.org/zap"
)

// advertise registers the raw TCP listener over mDNS so that
// "mdns://<service>" finds this bridge.
func (s *Server) advertise() (*zeroconf.Server, error) {
	if s.listener == nil {
		return nil, errors.New("mDNS advertisement needs the TCP listener")
	}
	tcpAddr, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected listener address %s", s.listener.Addr())
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "zradio"
	}
	instance := fmt.Sprintf("zradio on %s", host)

	txt := advertisedText(s.framer.Name())
	server, err := zeroconf.Register(instance, discovery.ServiceType(s.config.Advertise),
		discovery.ServiceDomain, tcpAddr.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.log.Info("Advertising bridge over mDNS",
		zap.String("service", discovery.ServiceType(s.config.Advertise)),
		zap.String("instance", instance),
		zap.Int("port", tcpAddr.Port),
	)
	return server, nil
}

// advertisedText builds the TXT records discovery reads back
func advertisedText(framing string) []string {
	radio := "znp"
	if framing == "slip" {
		radio = "deconz"
	}
	return []string{
		"radio_type=" + radio,
		"framing=" + framing,
		"websocket_path=" + RadioPath,
	}
}
