package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestSLIP_EncodeKnownVector(t *testing.T) {
	got, err := SLIP{}.Encode(&Frame{Command: 0x01})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	// sum = 0x0001, crc = 0xFFFF
	want := []byte{SLIPEnd, 0x01, 0xFF, 0xFF, SLIPEnd}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestSLIP_EncodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		want  error
	}{
		{name: "wide command", frame: &Frame{Command: 0x1234}, want: ErrCommandRange},
		{name: "command 0x100", frame: &Frame{Command: 0x0100, Payload: []byte{0x01}}, want: ErrCommandRange},
		{name: "oversized payload", frame: &Frame{Command: 0x0D, Payload: make([]byte, MaxSLIPPayload+1)}, want: ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SLIP{}.Encode(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Encode() error = %v, want %v", err, tt.want)
			}
			if got != nil {
				t.Errorf("Encode() = % x, want nil", got)
			}
		})
	}

	if _, err := (SLIP{}).Encode(&Frame{Command: 0xFF}); err != nil {
		t.Errorf("Encode(0xFF) error = %v", err)
	}
}

func TestSLIP_EscapesReservedBytes(t *testing.T) {
	got, err := SLIP{}.Encode(&Frame{Command: 0x0A, Payload: []byte{SLIPEnd, SLIPEsc, 0x00}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	inner := got[1 : len(got)-1]
	if bytes.IndexByte(inner, SLIPEnd) != -1 {
		t.Fatalf("encoded body contains a bare END: % x", got)
	}
	if !bytes.HasPrefix(inner, []byte{0x0A, SLIPEsc, SLIPEscEnd, SLIPEsc, SLIPEscEsc, 0x00}) {
		t.Errorf("unexpected escaping: % x", inner)
	}
}

func TestSLIP_RoundTrip(t *testing.T) {
	frames := []*Frame{
		{Command: 0x0D, Payload: nil},
		{Command: 0x12, Payload: []byte{0x01, 0x00, 0x00, 0x09, 0x00, 0x02}},
		{Command: SLIPEnd, Payload: []byte{SLIPEnd, SLIPEnd, SLIPEsc, SLIPEscEnd, SLIPEscEsc}},
		{Command: 0x17, Payload: bytes.Repeat([]byte{SLIPEsc}, MaxSLIPPayload)},
	}

	for _, f := range frames {
		t.Run(f.String(), func(t *testing.T) {
			data, err := SLIP{}.Encode(f)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := SLIP{}.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			want := &Frame{Length: len(data), Command: f.Command, Payload: f.Payload, Valid: true}
			assertSameFrame(t, got, want)
		})
	}
}

func TestSLIP_DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		window  []byte
		wantErr error
	}{
		{name: "dangling escape", window: []byte{0x01, 0xFF, 0xFF, SLIPEsc}, wantErr: ErrBadEscape},
		{name: "invalid escape", window: []byte{0x01, SLIPEsc, 0x00, 0xFF, 0xFF, SLIPEnd}, wantErr: ErrBadEscape},
		{name: "too short", window: []byte{0x01, 0xFF, SLIPEnd}, wantErr: ErrFrameTooShort},
		{name: "bad checksum", window: []byte{0x01, 0xFF, 0xFE, SLIPEnd}, wantErr: ErrChecksumMismatch},
		{name: "only delimiters", window: []byte{SLIPEnd, SLIPEnd}, wantErr: ErrFrameTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SLIP{}.Decode(tt.window)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSLIP_Scan(t *testing.T) {
	tests := []struct {
		name     string
		buf      []byte
		wantSkip int
		wantN    int
	}{
		{name: "empty", buf: nil, wantSkip: 0, wantN: 0},
		{name: "delimiters only", buf: []byte{SLIPEnd, SLIPEnd}, wantSkip: 2, wantN: 0},
		{name: "leading END then frame", buf: []byte{SLIPEnd, 0x01, 0xFF, 0xFF, SLIPEnd}, wantSkip: 1, wantN: 4},
		{name: "unterminated", buf: []byte{SLIPEnd, 0x01, 0xFF}, wantSkip: 1, wantN: 0},
		{name: "noise before END", buf: []byte{0x33, 0x44, SLIPEnd, 0x01}, wantSkip: 0, wantN: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skip, n := SLIP{}.Scan(tt.buf)
			if skip != tt.wantSkip || n != tt.wantN {
				t.Errorf("Scan() = (%d, %d), want (%d, %d)", skip, n, tt.wantSkip, tt.wantN)
			}
		})
	}
}
