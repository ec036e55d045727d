package transport

import (
	"fmt"

	"go.bug.st/serial"
)

type serialPort struct {
	serial.Port
	name string
}

func openSerial(name string, cfg Config) (Port, error) {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	// Most USB sticks reset or stall when DTR drops.
	if err := p.SetDTR(true); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to set DTR on %s: %w", name, err)
	}
	if err := p.SetRTS(cfg.RTSCTS); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to set RTS on %s: %w", name, err)
	}

	return &serialPort{Port: p, name: fmt.Sprintf("%s@%d", name, baud)}, nil
}

func (p *serialPort) Accept(b []byte) error { return writeAll(p.Port, b) }

func (p *serialPort) String() string { return p.name }
