package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func entry(instance string, port int, ipv4 string, text ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, "_slzb-06._tcp", ServiceDomain)
	e.HostName = "slzb-06.local."
	e.Port = port
	if ipv4 != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ipv4)}
	}
	e.Text = text
	return e
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name      string
		service   string
		entry     *zeroconf.ServiceEntry
		wantNil   bool
		wantIP    string
		wantPort  int
		wantRadio string
		wantBaud  int
	}{
		{
			name:      "advertised radio type and baud rate",
			service:   "slzb-06",
			entry:     entry("SLZB-06", 6638, "192.168.1.40", "radio_type=ezsp", "baud_rate=115200"),
			wantIP:    "192.168.1.40",
			wantPort:  6638,
			wantRadio: "ezsp",
			wantBaud:  115200,
		},
		{
			name:      "known service without TXT records",
			service:   "zigstar_gw",
			entry:     entry("ZigStar", 6638, "10.0.0.7"),
			wantIP:    "10.0.0.7",
			wantPort:  6638,
			wantRadio: "znp",
		},
		{
			name:      "no port defaults to the serial bridge port",
			service:   "uzg-01",
			entry:     entry("UZG-01", 0, "172.16.0.1"),
			wantIP:    "172.16.0.1",
			wantPort:  DefaultPort,
			wantRadio: "znp",
		},
		{
			name:      "unknown service keeps radio empty",
			service:   "my-bridge",
			entry:     entry("Bridge", 8888, "192.168.1.2", "flag"),
			wantIP:    "192.168.1.2",
			wantPort:  8888,
			wantRadio: "",
		},
		{
			name:    "no address",
			service: "slzb-06",
			entry:   entry("SLZB-06", 6638, ""),
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseServiceEntry(tt.service, tt.entry)
			if tt.wantNil {
				if got != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("parseServiceEntry() = nil")
			}
			if got.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", got.IP, tt.wantIP)
			}
			if got.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", got.Port, tt.wantPort)
			}
			if got.RadioType != tt.wantRadio {
				t.Errorf("RadioType = %v, want %v", got.RadioType, tt.wantRadio)
			}
			if got.BaudRate != tt.wantBaud {
				t.Errorf("BaudRate = %v, want %v", got.BaudRate, tt.wantBaud)
			}
			if got.Service != tt.service {
				t.Errorf("Service = %v, want %v", got.Service, tt.service)
			}
			if time.Since(got.DiscoveredAt) > time.Minute {
				t.Error("DiscoveredAt not set")
			}
		})
	}
}

func TestParseServiceEntry_IPv6Fallback(t *testing.T) {
	e := entry("SLZB-06", 6638, "")
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	got := parseServiceEntry("slzb-06", e)
	if got == nil {
		t.Fatal("parseServiceEntry() = nil")
	}
	if got.IP != "fe80::1" {
		t.Errorf("IP = %v, want fe80::1", got.IP)
	}
	if got.Address() != "[fe80::1]:6638" {
		t.Errorf("Address() = %v, want [fe80::1]:6638", got.Address())
	}
}

func TestParseServiceEntry_Metadata(t *testing.T) {
	got := parseServiceEntry("slzb-06", entry("SLZB-06", 6638, "192.168.1.40", "board=SLZB-06", "empty=", "flag"))
	if got == nil {
		t.Fatal("parseServiceEntry() = nil")
	}

	tests := map[string]string{"board": "SLZB-06", "empty": "", "flag": "", "missing": ""}
	for key, want := range tests {
		if v := got.GetMetadata(key); v != want {
			t.Errorf("GetMetadata(%q) = %q, want %q", key, v, want)
		}
	}
}

func TestServiceType(t *testing.T) {
	tests := map[string]string{
		"slzb-06":    "_slzb-06._tcp",
		"_uzg-01":    "_uzg-01._tcp",
		"tube_zb_gw": "_tube_zb_gw._tcp",
	}
	for in, want := range tests {
		if got := ServiceType(in); got != want {
			t.Errorf("ServiceType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()
	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("NewScanner().Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
	if (&Scanner{}).timeout() != DefaultScanTimeout {
		t.Error("zero Timeout should fall back to DefaultScanTimeout")
	}
}
