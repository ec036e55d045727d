package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/muurk/zradio/internal/discovery"
	"github.com/muurk/zradio/internal/protocol"
)

func TestFrameName(t *testing.T) {
	tests := []struct {
		name    string
		framing string
		frame   *protocol.Frame
		want    string
	}{
		{
			name:    "unpi srsp",
			framing: "unpi",
			frame:   protocol.NewUNPIFrame(protocol.SRSP, protocol.SubsystemSYS, 0x02, nil),
			want:    "SRSP SYS 0x02",
		},
		{
			name:    "unpi areq",
			framing: "unpi",
			frame:   protocol.NewUNPIFrame(protocol.AREQ, protocol.SubsystemZDO, 0xC0, []byte{0x09}),
			want:    "AREQ ZDO 0xc0",
		},
		{
			name:    "slip",
			framing: "slip",
			frame:   &protocol.Frame{Command: 0x0D},
			want:    "cmd 0x0d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FrameName(tt.framing, tt.frame); got != tt.want {
				t.Errorf("FrameName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		max     int
		want    string
	}{
		{name: "empty", payload: nil, max: 4, want: "(empty)"},
		{name: "short", payload: []byte{0x02, 0x00}, max: 4, want: "02 00"},
		{name: "truncated", payload: []byte{1, 2, 3, 4, 5, 6}, max: 4, want: "01 02 03 04 …(+2)"},
		{name: "no limit", payload: []byte{1, 2, 3}, max: 0, want: "01 02 03"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatPayload(tt.payload, tt.max); got != tt.want {
				t.Errorf("FormatPayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatFrame(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 45, 123_000_000, time.UTC)
	f := protocol.NewUNPIFrame(protocol.SRSP, protocol.SubsystemSYS, 0x02, []byte{0x02, 0x00})

	line := FormatFrame(at, Rx, "unpi", f)
	for _, want := range []string{"12:30:45.123", RxMarker, "SRSP SYS 0x02", "02 00"} {
		if !strings.Contains(line, want) {
			t.Errorf("FormatFrame() = %q, missing %q", line, want)
		}
	}
	if strings.Contains(line, "BAD FCS") {
		t.Errorf("valid frame flagged: %q", line)
	}

	bad := f.Clone()
	bad.Valid = false
	if line := FormatFrame(at, Tx, "unpi", bad); !strings.Contains(line, TxMarker) || !strings.Contains(line, "BAD FCS") {
		t.Errorf("FormatFrame(invalid, Tx) = %q", line)
	}
}

func TestHeader_Render(t *testing.T) {
	out := NewHeader("monitor", "zradio monitor",
		Field{Key: "Port", Value: "/dev/ttyUSB0@115200"},
		Field{Key: "Framing", Value: "unpi"},
	).SetWidth(80).Render()

	for _, want := range []string{"MONITOR", "zradio monitor", "Port:", "/dev/ttyUSB0@115200", "Framing:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Header.Render() missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Port:") > strings.Index(out, "Framing:") {
		t.Error("params should render in the given order")
	}
}

func TestResult_Render(t *testing.T) {
	ok := NewSuccessResult("SRSP SYS 0x02", Field{Key: "Payload", Value: "02 00"}).SetWidth(80).Render()
	if !strings.Contains(ok, "SUCCESS") || !strings.Contains(ok, "Payload:") {
		t.Errorf("success box:\n%s", ok)
	}

	failed := NewFailureResult("SYS_VERSION", errors.New("timeout waiting for SRSP"), "Check the baud rate").SetWidth(80).Render()
	for _, want := range []string{"FAILED", "timeout waiting for SRSP", "Troubleshooting:", "Check the baud rate"} {
		if !strings.Contains(failed, want) {
			t.Errorf("failure box missing %q:\n%s", want, failed)
		}
	}

	warn := NewWarningResult("No coordinators found").AddDetail("Service", "_slzb-06._tcp").SetWidth(80).Render()
	if !strings.Contains(warn, "WARNING") || !strings.Contains(warn, "_slzb-06._tcp") {
		t.Errorf("warning box:\n%s", warn)
	}
}

func TestRenderCoordinators(t *testing.T) {
	if got := RenderCoordinators(nil); got != "" {
		t.Errorf("RenderCoordinators(nil) = %q, want empty", got)
	}

	out := RenderCoordinators([]*discovery.Coordinator{{
		Service:   "slzb-06",
		Instance:  "SLZB-06 Kitchen",
		IP:        "192.168.1.40",
		Port:      6638,
		RadioType: "znp",
		BaudRate:  115200,
	}})
	for _, want := range []string{"1. SLZB-06 Kitchen", "tcp://192.168.1.40:6638", "_slzb-06._tcp", "znp", "unpi", "115200"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderCoordinators() missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter(t *testing.T) {
	var buf strings.Builder
	p := &Printer{out: &buf, width: 80}

	p.Header("request", "zradio request", Field{Key: "Port", Value: "tcp://10.0.0.2:6638"})
	p.PleaseWait("Waiting for SRSP", "6s")
	p.Failure("SYS_PING", errors.New("port closed"))

	out := buf.String()
	for _, want := range []string{"REQUEST", "tcp://10.0.0.2:6638", "Waiting for SRSP", "(6s)", "FAILED", "port closed"} {
		if !strings.Contains(out, want) {
			t.Errorf("printer output missing %q:\n%s", want, out)
		}
	}
}
