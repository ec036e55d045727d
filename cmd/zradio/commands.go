package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/zradio/internal/config"
	"github.com/muurk/zradio/internal/discovery"
	"github.com/muurk/zradio/internal/driver"
	"github.com/muurk/zradio/internal/events"
	"github.com/muurk/zradio/internal/protocol"
	"github.com/muurk/zradio/internal/server"
	"github.com/muurk/zradio/internal/transport"
	"github.com/muurk/zradio/internal/ui"
)

func init() {
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(serveCmd)
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// --- monitor ---

var (
	monitorDuration time.Duration
	monitorJSON     bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print every frame the radio sends",
	Long: `Open the radio and print each decoded frame until interrupted.

With NATS configured, frames are also published to <prefix>.<command> and
<prefix>.all, and with nats.downlink enabled, frames sent to
<prefix>.downlink are written to the radio.`,
	Example: `  # Watch a local Z-Stack stick
  zradio monitor --port /dev/ttyUSB0

  # One minute of deCONZ traffic as JSON lines
  zradio monitor --port /dev/ttyACM0 --framing slip --duration 1m --json`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", 0, "Stop after this long (0 = until interrupted)")
	monitorCmd.Flags().BoolVar(&monitorJSON, "json", false, "Print frames as JSON lines")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	// Piped output gets frame lines only.
	decorate := !monitorJSON && ui.IsTerminal()
	if decorate {
		p.Header("monitor", "zradio monitor", portFields(cfg)...)
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		p.Failure("Cannot open radio", err, portTroubleshooting...)
		return err
	}
	defer s.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	s.driver.Subscribe(func(f *protocol.Frame) {
		if monitorJSON {
			_ = enc.Encode(events.NewFrameEvent(s.port.String(), cfg.Driver.Framing, f))
			return
		}
		p.Line(ui.FormatFrame(time.Now(), ui.Rx, cfg.Driver.Framing, f))
	})

	if err := s.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.driver.Done():
		if err := s.driver.Err(); err != nil {
			p.Failure("Radio connection lost", err, portTroubleshooting...)
			return err
		}
	}

	if decorate {
		stats := s.driver.Stats()
		p.Success("Monitor stopped",
			ui.Field{Key: "Frames", Value: fmt.Sprint(stats.Frames)},
			ui.Field{Key: "Bad frames", Value: fmt.Sprint(stats.Dropped)},
			ui.Field{Key: "Discarded bytes", Value: fmt.Sprint(stats.DiscardedBytes)},
			ui.Field{Key: "Overflows", Value: fmt.Sprint(stats.Overflows)},
		)
	}
	return nil
}

// --- request ---

var (
	requestCommand string
	requestPayload string
	requestKey     string
	requestTimeout time.Duration
	requestNoWait  bool
	requestAREQ    string
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Send one command and print the response",
	Long: `Send a command frame and wait for the matching response.

For unpi framing the command is cmd0 and cmd1 as four hex digits and the
answer is the SRSP with the same subsystem and id, or with --areq the
asynchronous indication it names. For slip framing the answer is the next
frame with the same command byte.

Failed attempts are retried according to the retry section of the config.`,
	Example: `  # Z-Stack SYS_PING (SREQ SYS 0x01)
  zradio request --command 2101

  # Z-Stack SYS_OSAL_NV_READ of item 0x0003
  zradio request --command 2108 --payload 030000

  # Start the network and wait for ZDO_STATE_CHANGE_IND
  zradio request --command 2540 --payload 6400 --areq 45c0

  # deCONZ read firmware version, fire and forget
  zradio request --framing slip --command 0d --payload 0100000000 --no-wait`,
	RunE: runRequest,
}

func init() {
	requestCmd.Flags().StringVar(&requestCommand, "command", "", "Command as hex, e.g. 2101 (required)")
	requestCmd.Flags().StringVar(&requestPayload, "payload", "", "Payload as hex")
	requestCmd.Flags().StringVar(&requestKey, "key", "", "Serialize with other requests using the same key")
	requestCmd.Flags().DurationVar(&requestTimeout, "timeout", 30*time.Second, "Overall deadline including retries")
	requestCmd.Flags().BoolVar(&requestNoWait, "no-wait", false, "Send without waiting for a response")
	requestCmd.Flags().StringVar(&requestAREQ, "areq", "", "Wait for this AREQ (cmd0 cmd1 as hex, unpi only) instead of the SRSP")
	_ = requestCmd.MarkFlagRequired("command")
}

func runRequest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	req, err := events.DownlinkCommand{Command: requestCommand, Payload: requestPayload}.Frame()
	if err != nil {
		return err
	}
	areq, err := areqMatcher(cfg.Driver.Framing, requestAREQ)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.Header("request", "zradio request", append(portFields(cfg),
		ui.Field{Key: "Command", Value: ui.FrameName(cfg.Driver.Framing, req)},
		ui.Field{Key: "Payload", Value: ui.FormatPayload(req.Payload, 0)},
	)...)

	s, err := openSession(ctx, cfg)
	if err != nil {
		p.Failure("Cannot open radio", err, portTroubleshooting...)
		return err
	}
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		return err
	}

	title := ui.FrameName(cfg.Driver.Framing, req)
	p.Line(ui.FormatFrame(time.Now(), ui.Tx, cfg.Driver.Framing, req))

	if requestNoWait {
		if err := s.driver.Send(req); err != nil {
			p.Failure(title, err, portTroubleshooting...)
			return err
		}
		p.Success(title, ui.Field{Key: "Sent", Value: fmt.Sprintf("%d payload bytes", len(req.Payload))})
		return nil
	}

	m := s.driver.ResponseFor(req)
	if areq != nil {
		m = *areq
	}
	started := time.Now()
	resp, err := s.driver.Request(ctx, req, m, requestKey)
	if err != nil {
		p.Failure(title, err, portTroubleshooting...)
		return err
	}
	p.Line(ui.FormatFrame(time.Now(), ui.Rx, cfg.Driver.Framing, resp))

	p.Success(m.Description,
		ui.Field{Key: "Payload", Value: ui.FormatPayload(resp.Payload, 0)},
		ui.Field{Key: "Length", Value: fmt.Sprintf("%d bytes", len(resp.Payload))},
		ui.Field{Key: "Round trip", Value: time.Since(started).Round(time.Millisecond).String()},
	)
	return nil
}

// areqMatcher parses --areq. It returns nil when the flag is unset.
func areqMatcher(framing, command string) (*driver.Matcher, error) {
	if command == "" {
		return nil, nil
	}
	if framing != "unpi" {
		return nil, fmt.Errorf("--areq needs unpi framing, not %s", framing)
	}
	ind, err := events.DownlinkCommand{Command: command}.Frame()
	if err != nil {
		return nil, fmt.Errorf("--areq: %w", err)
	}
	if ind.Type() != protocol.AREQ {
		return nil, fmt.Errorf("--areq %s is a %s, not an AREQ", command, ind.Type())
	}
	m := driver.AREQFor(ind.Subsystem(), ind.ID())
	return &m, nil
}

// --- discover ---

var (
	discoverServices []string
	discoverTimeout  time.Duration
	discoverSave     string
	discoverUse      bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find network coordinators over mDNS",
	Long: `Browse the local network for Zigbee coordinators behind serial bridges
(SLZB-06, ZigStar, UZG-01 and similar).

Use --save to remember the first coordinator found under a name; later
commands can select it with --coordinator <name>.`,
	Example: `  # Browse every known coordinator service
  zradio discover

  # Only SLZB-06, for 10 seconds, and remember it as "kitchen"
  zradio discover --service slzb-06 --timeout 10s --save kitchen

  # Remember it and make it the default port
  zradio discover --save kitchen --use`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringSliceVar(&discoverServices, "service", nil, "mDNS service names to browse (default: all known)")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", discovery.DefaultScanTimeout, "How long to listen")
	discoverCmd.Flags().StringVar(&discoverSave, "save", "", "Remember the first coordinator under this name")
	discoverCmd.Flags().BoolVar(&discoverUse, "use", false, "With --save, also make it the configured port")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}

	services := discoverServices
	if len(services) == 0 {
		for name := range discovery.KnownServices {
			services = append(services, name)
		}
		sort.Strings(services)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PleaseWait("Scanning for coordinators", discoverTimeout.String())

	found, err := scanServices(ctx, services, discoverTimeout)
	if err != nil {
		p.Failure("Discovery failed", err,
			"Check that multicast is allowed on this network interface",
			"Containers need host networking for mDNS",
		)
		return err
	}

	if len(found) == 0 {
		p.Warning("No coordinators found",
			ui.Field{Key: "Services", Value: fmt.Sprint(services)},
			ui.Field{Key: "Timeout", Value: discoverTimeout.String()},
		)
		return nil
	}

	p.Line(ui.RenderCoordinators(found))

	if discoverSave == "" {
		p.Line("Use 'zradio discover --save <name>' to remember a coordinator")
		return nil
	}

	// Reload so flag overrides are not written back to the file.
	stored, err := config.Load(configPath)
	if err != nil {
		return err
	}
	entry := stored.RememberCoordinator(discoverSave, found[0])
	if discoverUse {
		if err := stored.UseCoordinator(discoverSave); err != nil {
			return err
		}
	}
	if err := stored.Save(configPath); err != nil {
		p.Failure("Cannot save coordinator", err)
		return err
	}

	p.Success("Coordinator saved",
		ui.Field{Key: "Name", Value: discoverSave},
		ui.Field{Key: "Path", Value: entry.Path()},
		ui.Field{Key: "Default port", Value: fmt.Sprint(discoverUse)},
	)
	return nil
}

// scanServices browses all services at once and returns the coordinators
// ordered by service then instance.
func scanServices(ctx context.Context, services []string, timeout time.Duration) ([]*discovery.Coordinator, error) {
	scanner := discovery.NewScanner()
	scanner.Timeout = timeout

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		found []*discovery.Coordinator
		errs  []error
	)
	for _, service := range services {
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			list, err := scanner.Scan(ctx, service)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", discovery.ServiceType(service), err))
				return
			}
			found = append(found, list...)
		}(service)
	}
	wg.Wait()

	if len(found) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Service != found[j].Service {
			return found[i].Service < found[j].Service
		}
		return found[i].Instance < found[j].Instance
	})
	return found, nil
}

// --- serve ---

var (
	serveListen     string
	serveHTTPListen string
	serveCert       string
	serveKey        string
	serveCaptureDir string
	serveAdvertise  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Share the radio with several network clients",
	Long: `Open the radio and bridge it to TCP and WebSocket clients, like ser2net.

Bytes from the radio go to every client; bytes from any client go to the
radio. GET /status on the HTTP listener reports clients and byte counts,
and /radio accepts WebSocket clients.

With --capture-dir, every frame in both directions is appended to a JSON
lines file for protocol analysis.`,
	Example: `  # Share a local stick on the standard port
  zradio serve --port /dev/ttyUSB0

  # TLS, capture and mDNS advertising as an SLZB-06 compatible bridge
  zradio serve --cert cert.pem --key key.pem --capture-dir ./captures --advertise slzb-06`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "TCP listen address (default from config, :6638)")
	serveCmd.Flags().StringVar(&serveHTTPListen, "http-listen", "", "HTTP/WebSocket listen address (default from config, :8080)")
	serveCmd.Flags().StringVar(&serveCert, "cert", "", "TLS certificate file (requires --key)")
	serveCmd.Flags().StringVar(&serveKey, "key", "", "TLS private key file (requires --cert)")
	serveCmd.Flags().StringVar(&serveCaptureDir, "capture-dir", "", "Write frame captures to this directory")
	serveCmd.Flags().StringVar(&serveAdvertise, "advertise", "", "Advertise the bridge over mDNS as this service, e.g. slzb-06")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Bridge.Listen = serveListen
	}
	if flags.Changed("http-listen") {
		cfg.Bridge.HTTPListen = serveHTTPListen
	}
	if flags.Changed("cert") {
		cfg.Bridge.CertPath = serveCert
	}
	if flags.Changed("key") {
		cfg.Bridge.KeyPath = serveKey
	}
	if flags.Changed("capture-dir") {
		cfg.Bridge.CaptureDir = serveCaptureDir
	}
	if flags.Changed("advertise") {
		cfg.Bridge.Advertise = serveAdvertise
	}
	if (cfg.Bridge.CertPath == "") != (cfg.Bridge.KeyPath == "") {
		return fmt.Errorf("both --cert and --key must be provided together, or neither")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.Header("serve", "zradio serve", append(portFields(cfg),
		ui.Field{Key: "TCP", Value: orDisabled(cfg.Bridge.Listen)},
		ui.Field{Key: "HTTP", Value: orDisabled(cfg.Bridge.HTTPListen)},
		ui.Field{Key: "TLS", Value: fmt.Sprint(cfg.Bridge.CertPath != "")},
		ui.Field{Key: "Capture", Value: orDisabled(cfg.Bridge.CaptureDir)},
	)...)

	upstream, err := transport.Open(ctx, cfg.TransportConfig())
	if err != nil {
		p.Failure("Cannot open radio", err, portTroubleshooting...)
		return err
	}

	srv, err := server.New(upstream, cfg.ServerConfig())
	if err != nil {
		_ = upstream.Close()
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		p.Failure("Bridge stopped", err, portTroubleshooting...)
		return err
	}
	return nil
}

func orDisabled(s string) string {
	if s == "" {
		return "disabled"
	}
	return s
}
