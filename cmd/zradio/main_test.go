package main

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/muurk/zradio/internal/protocol"
)

// execute runs the CLI with args, resetting flags left over from earlier runs.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		for _, fs := range []*pflag.FlagSet{c.PersistentFlags(), c.Flags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				if sv, ok := f.Value.(pflag.SliceValue); ok {
					_ = sv.Replace(nil)
				} else {
					_ = f.Value.Set(f.DefValue)
				}
				f.Changed = false
			})
		}
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "path", "--config", path)
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(out) != path {
		t.Errorf("config path = %q, want %q", out, path)
	}

	if _, err := execute(t, "config", "init", "--config", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := execute(t, "config", "init", "--config", path); err == nil {
		t.Error("second config init should refuse to overwrite")
	}

	out, err = execute(t, "config", "show", "--config", path, "--port", "tcp://10.0.0.2:6638", "--framing", "slip")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"path: tcp://10.0.0.2:6638", "framing: slip"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "config", "show", "--config", path, "--framing", "hdlc"); err == nil {
		t.Error("unknown framing should fail validation")
	}
	if _, err := execute(t, "config", "show", "--config", path, "--coordinator", "attic"); err == nil {
		t.Error("unknown coordinator should fail")
	}
}

// fakeZStack answers every SREQ with an SRSP carrying payload, followed by
// any indications.
func fakeZStack(t *testing.T, payload []byte, indications ...*protocol.Frame) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				framer := protocol.UNPI{}
				parser := protocol.NewParser(framer, 0)
				parser.OnFrame(func(f *protocol.Frame) {
					if f.Type() != protocol.SREQ {
						return
					}
					resp, _ := framer.Encode(protocol.NewUNPIFrame(protocol.SRSP, f.Subsystem(), f.ID(), payload))
					for _, ind := range indications {
						data, _ := framer.Encode(ind)
						resp = append(resp, data...)
					}
					_, _ = conn.Write(resp)
				})
				buf := make([]byte, 256)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						parser.Feed(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return "tcp://" + ln.Addr().String()
}

func TestRequestCommand(t *testing.T) {
	port := fakeZStack(t, []byte{0x79, 0x01})
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "request", "--config", cfgPath, "--port", port, "--command", "2101")
	if err != nil {
		t.Fatalf("request: %v\n%s", err, out)
	}
	for _, want := range []string{"SREQ SYS 0x01", "SRSP SYS 0x01", "79 01", "SUCCESS"} {
		if !strings.Contains(out, want) {
			t.Errorf("request output missing %q:\n%s", want, out)
		}
	}
}

func TestRequestCommand_AwaitAREQ(t *testing.T) {
	stateChange := protocol.NewUNPIFrame(protocol.AREQ, protocol.SubsystemZDO, 0xC0, []byte{0x09})
	port := fakeZStack(t, []byte{0x00}, stateChange)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "request", "--config", cfgPath, "--port", port, "--command", "2540", "--payload", "6400", "--areq", "45c0")
	if err != nil {
		t.Fatalf("request --areq: %v\n%s", err, out)
	}
	for _, want := range []string{"AREQ ZDO 0xc0", "09", "SUCCESS"} {
		if !strings.Contains(out, want) {
			t.Errorf("request output missing %q:\n%s", want, out)
		}
	}
}

func TestAREQMatcher(t *testing.T) {
	tests := []struct {
		name    string
		framing string
		command string
		want    string
		wantErr bool
	}{
		{name: "unset", framing: "unpi"},
		{name: "state change", framing: "unpi", command: "45c0", want: "AREQ ZDO 0xc0"},
		{name: "0x prefix", framing: "unpi", command: "0x4481", want: "AREQ AF 0x81"},
		{name: "srsp is not an areq", framing: "unpi", command: "6101", wantErr: true},
		{name: "slip framing", framing: "slip", command: "45c0", wantErr: true},
		{name: "bad hex", framing: "unpi", command: "zz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := areqMatcher(tt.framing, tt.command)
			if tt.wantErr {
				if err == nil {
					t.Fatal("areqMatcher() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("areqMatcher() error = %v", err)
			}
			if tt.want == "" {
				if m != nil {
					t.Errorf("areqMatcher() = %+v, want nil", m)
				}
				return
			}
			if m == nil || m.Description != tt.want {
				t.Fatalf("areqMatcher() = %+v, want %s", m, tt.want)
			}
		})
	}
}

func TestRequestCommand_InvalidCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := execute(t, "request", "--config", cfgPath, "--port", "tcp://127.0.0.1:1", "--command", "zz"); err == nil {
		t.Error("invalid hex command should fail before opening the port")
	}
}

func TestRequestCommand_RadioUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	out, err := execute(t, "request", "--config", cfgPath, "--port", "tcp://"+addr, "--command", "2101")
	if err == nil {
		t.Fatal("expected an error for a closed port")
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) && !strings.Contains(out, "Cannot open radio") {
		t.Errorf("unexpected failure: %v\n%s", err, out)
	}
}

func TestServeCommand_RequiresCertAndKey(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	_, err := execute(t, "serve", "--config", cfgPath, "--cert", "cert.pem")
	if err == nil || !strings.Contains(err.Error(), "--cert and --key") {
		t.Errorf("serve with only --cert: err = %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, `"version"`) || !strings.Contains(out, `"go_version"`) {
		t.Errorf("version --json = %s", out)
	}
}

func TestCaptureCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	data := `{"timestamp":"2024-05-01T12:00:00Z","seq":1,"peer":"tcp://10.0.0.5:50000","direction":"client->radio","framing":"unpi","command":"0x2102","length":5,"valid":true,"payload_hex":""}
{"timestamp":"2024-05-01T12:00:00.020Z","seq":2,"peer":"tcp://pipe","direction":"radio->client","framing":"unpi","command":"0x6102","length":7,"valid":true,"payload_hex":"0200"}
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "capture", path)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	for _, want := range []string{"SREQ SYS 0x02", "SRSP SYS 0x02", "02 00", "0x2102×1", "0x6102×1", "20ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("capture output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "capture", "--summary", path)
	if err != nil {
		t.Fatalf("capture --summary: %v", err)
	}
	if strings.Contains(out, "SREQ SYS 0x02") {
		t.Errorf("--summary printed frames:\n%s", out)
	}
}

func TestFormatCounts(t *testing.T) {
	got := formatCounts(map[string]int{"0x6102": 1, "0x4580": 12, "0x2102": 1})
	if want := "0x4580×12, 0x2102×1, 0x6102×1"; got != want {
		t.Errorf("formatCounts() = %q, want %q", got, want)
	}
	if got := formatCounts(nil); got != "none" {
		t.Errorf("formatCounts(nil) = %q", got)
	}
}
