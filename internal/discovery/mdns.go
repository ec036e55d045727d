package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/zradio/internal/logging"
	"go.uber.org/zap"
)

const (
	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for coordinator discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is the serial bridge port most coordinators use
	DefaultPort = 6638
)

// KnownServices lists the mDNS services advertised by common network
// coordinators, with the radio they ship when TXT records say nothing.
var KnownServices = map[string]string{
	"slzb-06":    "znp",
	"zigstar_gw": "znp",
	"uzg-01":     "znp",
	"tube_zb_gw": "znp",
}

// ErrNotFound is returned by Lookup when nothing answered in time.
var ErrNotFound = errors.New("discovery: no coordinator found")

// ServiceType returns the DNS-SD service type for a service name,
// e.g. "slzb-06" -> "_slzb-06._tcp".
func ServiceType(service string) string {
	return "_" + strings.TrimPrefix(service, "_") + "._tcp"
}

// Scanner handles mDNS coordinator discovery
type Scanner struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan lists every coordinator advertising service until the timeout.
func (s *Scanner) Scan(ctx context.Context, service string) ([]*Coordinator, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	var (
		mu           sync.Mutex
		coordinators []*Coordinator
	)
	err := s.browse(ctx, service, func(c *Coordinator) bool {
		mu.Lock()
		coordinators = append(coordinators, c)
		mu.Unlock()
		return true
	})
	if err != nil {
		return nil, err
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return coordinators, nil
}

// Lookup returns the first coordinator advertising service.
func (s *Scanner) Lookup(ctx context.Context, service string) (*Coordinator, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	found := make(chan *Coordinator, 1)
	err := s.browse(ctx, service, func(c *Coordinator) bool {
		select {
		case found <- c:
		default:
		}
		cancel()
		return false
	})
	if err != nil {
		return nil, err
	}

	select {
	case c := <-found:
		return c, nil
	case <-ctx.Done():
		select {
		case c := <-found:
			return c, nil
		default:
		}
		return nil, fmt.Errorf("%w: %s within %s", ErrNotFound, ServiceType(service), s.timeout())
	}
}

// browse starts a resolver and calls fn for every usable entry until fn
// returns false or ctx ends.
func (s *Scanner) browse(ctx context.Context, service string, fn func(*Coordinator) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	log := logging.Named("discovery").With(zap.String("service", ServiceType(service)))
	entries := make(chan *zeroconf.ServiceEntry)

	go func() {
		for entry := range entries {
			c := parseServiceEntry(service, entry)
			if c == nil {
				continue
			}
			log.Debug("coordinator found", zap.Stringer("coordinator", c))
			if !fn(c) {
				// Keep draining until the resolver closes the channel.
				fn = func(*Coordinator) bool { return false }
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType(service), ServiceDomain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	return nil
}

func (s *Scanner) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultScanTimeout
	}
	return s.Timeout
}

// parseServiceEntry converts a zeroconf service entry to a Coordinator.
// Returns nil if the entry carries no address.
func parseServiceEntry(service string, entry *zeroconf.ServiceEntry) *Coordinator {
	// Get IP address (prefer IPv4)
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	}

	// Fallback to IPv6 if no IPv4
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}

	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	// Parse TXT records into metadata
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		// TXT records are in "key=value" format
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			// Key without value
			metadata[parts[0]] = ""
		}
	}

	radio := metadata["radio_type"]
	if radio == "" {
		radio = KnownServices[service]
	}
	baud, _ := strconv.Atoi(metadata["baud_rate"])

	return &Coordinator{
		Service:      service,
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		RadioType:    radio,
		BaudRate:     baud,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
