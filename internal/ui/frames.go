package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/zradio/internal/discovery"
	"github.com/muurk/zradio/internal/protocol"
)

// MaxPayloadBytes caps the payload bytes shown on one monitor line
const MaxPayloadBytes = 48

// Direction of a monitored frame
type Direction int

const (
	Rx Direction = iota // From the radio
	Tx                  // To the radio
)

// FrameName describes f for display: "SRSP SYS 0x02" for UNPI frames,
// "cmd 0x0d" for SLIP.
func FrameName(framing string, f *protocol.Frame) string {
	if framing == "unpi" {
		return fmt.Sprintf("%s %s 0x%02x", f.Type(), f.Subsystem(), f.ID())
	}
	return fmt.Sprintf("cmd 0x%02x", f.Command)
}

// FormatPayload renders payload as spaced hex, truncated to max bytes.
func FormatPayload(payload []byte, max int) string {
	if len(payload) == 0 {
		return "(empty)"
	}
	shown := payload
	if max > 0 && len(shown) > max {
		shown = shown[:max]
	}
	s := fmt.Sprintf("% x", shown)
	if len(shown) < len(payload) {
		s += fmt.Sprintf(" …(+%d)", len(payload)-len(shown))
	}
	return s
}

// FormatFrame renders one monitor line.
func FormatFrame(at time.Time, dir Direction, framing string, f *protocol.Frame) string {
	marker := RxStyle.Render(RxMarker)
	if dir == Tx {
		marker = TxStyle.Render(TxMarker)
	}

	line := TimestampStyle.Render(at.Format("15:04:05.000")) + " " +
		marker + " " +
		CommandStyle.Render(FrameName(framing, f)) + " " +
		PayloadStyle.Render(FormatPayload(f.Payload, MaxPayloadBytes))

	if !f.Valid {
		line += " " + InvalidFrameStyle.Render("BAD FCS")
	}
	return line
}

// RenderCoordinators renders discovered coordinators as an aligned list.
func RenderCoordinators(coordinators []*discovery.Coordinator) string {
	if len(coordinators) == 0 {
		return ""
	}

	nameStyle := lipgloss.NewStyle().Foreground(TextColor).Bold(true)
	keyStyle := lipgloss.NewStyle().Foreground(MutedColor).PaddingLeft(4).Width(14)

	var b strings.Builder
	for i, c := range coordinators {
		if i > 0 {
			b.WriteString("\n")
		}
		name := c.Instance
		if name == "" {
			name = c.Hostname
		}
		b.WriteString(nameStyle.Render(fmt.Sprintf("%d. %s", i+1, name)))
		b.WriteString("\n")

		radio := c.RadioType
		if radio == "" {
			radio = "unknown"
		}
		rows := []Field{
			{Key: "Path", Value: c.URL()},
			{Key: "Service", Value: discovery.ServiceType(c.Service)},
			{Key: "Radio", Value: radio},
		}
		if framing := c.Framing(); framing != "" {
			rows = append(rows, Field{Key: "Framing", Value: framing})
		}
		if c.BaudRate > 0 {
			rows = append(rows, Field{Key: "Baud rate", Value: fmt.Sprint(c.BaudRate)})
		}
		for _, r := range rows {
			b.WriteString(keyStyle.Render(r.Key+":") + " " + r.Value + "\n")
		}
	}
	return b.String()
}
