package server

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/muurk/zradio/internal/logging"
	"github.com/muurk/zradio/internal/protocol"
	"go.uber.org/zap"
)

// Capture directions
const (
	FromRadio = "radio->client"
	ToRadio   = "client->radio"
)

// CaptureRecord is one decoded frame written to the capture file
type CaptureRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Seq          int       `json:"seq"`
	Peer         string    `json:"peer"`
	Direction    string    `json:"direction"`
	Framing      string    `json:"framing"`
	Command      string    `json:"command"`
	Length       int       `json:"length"`
	Valid        bool      `json:"valid"`
	PayloadHex   string    `json:"payload_hex"`
	PayloadASCII string    `json:"payload_ascii"`
}

// Capture appends decoded frames to a JSON Lines file. A nil *Capture
// records nothing.
type Capture struct {
	mu      sync.Mutex
	file    *os.File
	enc     *json.Encoder
	seq     int
	path    string
	framing string
}

// OpenCapture creates capture-<timestamp>.jsonl in dir for frames in the
// given framing.
func OpenCapture(dir, framing string, now time.Time) (*Capture, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("capture-%s.jsonl", now.Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	return &Capture{file: f, enc: json.NewEncoder(f), path: path, framing: framing}, nil
}

// Path returns the capture file path
func (c *Capture) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

// Record appends one frame.
func (c *Capture) Record(peer, direction string, f *protocol.Frame) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return
	}

	c.seq++
	rec := CaptureRecord{
		Timestamp:    time.Now(),
		Seq:          c.seq,
		Peer:         peer,
		Direction:    direction,
		Framing:      c.framing,
		Command:      fmt.Sprintf("0x%04x", f.Command),
		Length:       f.Length,
		Valid:        f.Valid,
		PayloadHex:   hex.EncodeToString(f.Payload),
		PayloadASCII: toASCII(f.Payload),
	}

	// Encode writes one JSON object followed by a newline
	if err := c.enc.Encode(rec); err != nil {
		logging.Error("Failed to write capture record",
			zap.String("filename", c.path),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the file. Later records are dropped.
func (c *Capture) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// Frame rebuilds the protocol frame the record was written from.
func (r *CaptureRecord) Frame() (*protocol.Frame, error) {
	cmd, err := strconv.ParseUint(strings.TrimPrefix(r.Command, "0x"), 16, 16)
	if err != nil {
		return nil, fmt.Errorf("record %d: invalid command %q: %w", r.Seq, r.Command, err)
	}
	payload, err := hex.DecodeString(r.PayloadHex)
	if err != nil {
		return nil, fmt.Errorf("record %d: invalid payload: %w", r.Seq, err)
	}
	return &protocol.Frame{Length: r.Length, Command: uint16(cmd), Payload: payload, Valid: r.Valid}, nil
}

// ReadCapture decodes a capture file written by Capture.
func ReadCapture(r io.Reader) ([]CaptureRecord, error) {
	var records []CaptureRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec CaptureRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return records, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// CaptureSummary counts the frames of a capture per direction and command.
type CaptureSummary struct {
	Frames    int
	Invalid   int
	FromRadio map[string]int // Keyed by CaptureRecord.Command
	ToRadio   map[string]int
	Peers     []string
	First     time.Time
	Last      time.Time
}

// SummarizeCapture tallies records.
func SummarizeCapture(records []CaptureRecord) CaptureSummary {
	sum := CaptureSummary{
		FromRadio: make(map[string]int),
		ToRadio:   make(map[string]int),
	}
	peers := make(map[string]bool)
	for _, rec := range records {
		sum.Frames++
		if !rec.Valid {
			sum.Invalid++
		}
		switch rec.Direction {
		case FromRadio:
			sum.FromRadio[rec.Command]++
		case ToRadio:
			sum.ToRadio[rec.Command]++
		}
		if !peers[rec.Peer] {
			peers[rec.Peer] = true
			sum.Peers = append(sum.Peers, rec.Peer)
		}
		if sum.First.IsZero() || rec.Timestamp.Before(sum.First) {
			sum.First = rec.Timestamp
		}
		if rec.Timestamp.After(sum.Last) {
			sum.Last = rec.Timestamp
		}
	}
	sort.Strings(sum.Peers)
	return sum
}

// toASCII converts bytes to ASCII string (non-printable chars become '.')
func toASCII(data []byte) string {
	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}
