package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Coordinator represents a network-attached Zigbee coordinator found via mDNS
type Coordinator struct {
	// Service is the mDNS service name without decoration (e.g., "slzb-06")
	Service string

	// Instance is the advertised instance name (e.g., "SLZB-06 Kitchen")
	Instance string

	// Hostname is the mDNS hostname (e.g., "slzb-06.local.")
	Hostname string

	// IP is the IPv4 address, or IPv6 when no IPv4 was advertised
	IP string

	// Port is the TCP port of the serial bridge (typically 6638)
	Port int

	// RadioType is the radio firmware family from the TXT records
	// ("znp", "deconz", "ember", "zigate"); empty when not advertised
	RadioType string

	// BaudRate is the serial speed behind the bridge, 0 when not advertised
	BaudRate int

	// Metadata contains all mDNS TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the coordinator was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the coordinator
func (c *Coordinator) String() string {
	radio := c.RadioType
	if radio == "" {
		radio = "unknown radio"
	}
	return fmt.Sprintf("%s %q (%s) at %s", c.Service, c.Instance, radio, c.Address())
}

// Address returns host:port suitable for net.Dial
func (c *Coordinator) Address() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// URL returns the tcp:// transport path for the coordinator
func (c *Coordinator) URL() string {
	return "tcp://" + c.Address()
}

// Framing maps the advertised radio type to a framing name, or "" when the
// radio speaks neither UNPI nor SLIP.
func (c *Coordinator) Framing() string {
	switch strings.ToLower(c.RadioType) {
	case "znp", "zstack", "z-stack":
		return "unpi"
	case "deconz", "conbee":
		return "slip"
	default:
		return ""
	}
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (c *Coordinator) GetMetadata(key string) string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[key]
}
