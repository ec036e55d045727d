// Package discovery provides mDNS-based discovery of network-attached Zigbee
// coordinators.
//
// Network coordinators (SLZB-06, ZigStar, UZG-01, Tube's gateways) expose the
// radio's serial port over TCP and advertise it as "_<service>._tcp". TXT
// records usually carry radio_type and baud_rate; when they do not, the radio
// family is taken from KnownServices.
//
// # Usage Example
//
//	scanner := discovery.NewScanner()
//	coordinator, err := scanner.Lookup(ctx, "slzb-06")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("Found: %s, framing %s\n", coordinator, coordinator.Framing())
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Coordinators must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
