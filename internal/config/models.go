package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/muurk/zradio/internal/discovery"
	"github.com/muurk/zradio/internal/driver"
	"github.com/muurk/zradio/internal/logging"
	"github.com/muurk/zradio/internal/protocol"
	"github.com/muurk/zradio/internal/server"
	"github.com/muurk/zradio/internal/transport"
)

// CurrentVersion is the only config file version this build reads.
const CurrentVersion = 1

// Config represents the entire user configuration file.
type Config struct {
	Version      int                     `yaml:"version"`
	Transport    TransportConfig         `yaml:"transport"`
	Driver       DriverConfig            `yaml:"driver"`
	Retry        map[string]RetryConfig  `yaml:"retry,omitempty"` // Keyed by failure class: send, timeout, rejected
	Logging      LoggingConfig           `yaml:"logging"`
	NATS         NATSConfig              `yaml:"nats"`
	Bridge       BridgeConfig            `yaml:"bridge"`
	Coordinators map[string]*Coordinator `yaml:"coordinators,omitempty"` // Keyed by user-chosen name
}

// TransportConfig selects the port a driver opens.
type TransportConfig struct {
	Path        string        `yaml:"path"`                   // Device path, tcp://, ws://, wss:// or mdns:// URL
	BaudRate    int           `yaml:"baud_rate"`              // Serial speed
	RTSCTS      bool          `yaml:"rtscts"`                 // Assert RTS for hardware flow control
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"` // Network connect timeout
}

// DriverConfig tunes framing, buffering and request handling.
type DriverConfig struct {
	Framing        string        `yaml:"framing"`         // unpi or slip
	MaxBuffer      int           `yaml:"max_buffer"`      // Parser buffer ceiling in bytes
	HighWaterMark  int           `yaml:"high_water_mark"` // Writer bytes before an early flush
	Concurrency    int           `yaml:"concurrency"`     // Requests in flight at once
	RequestTimeout time.Duration `yaml:"request_timeout"` // Wait for a matching response
}

// RetryConfig is the policy for one failure class.
type RetryConfig struct {
	Attempts    int           `yaml:"attempts"`               // Total attempts including the first
	Interval    time.Duration `yaml:"interval,omitempty"`     // Delay before the first retry
	MaxInterval time.Duration `yaml:"max_interval,omitempty"` // Exponential growth cap
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"` // debug, info, warn, error; empty = silent
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// NATSConfig enables frame publishing when URL is set.
type NATSConfig struct {
	URL      string `yaml:"url,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Downlink bool   `yaml:"downlink,omitempty"` // Accept frames to send on <prefix>.downlink
}

// BridgeConfig configures "zradio serve".
type BridgeConfig struct {
	Listen     string `yaml:"listen,omitempty"`
	HTTPListen string `yaml:"http_listen,omitempty"`
	CertPath   string `yaml:"cert,omitempty"`
	KeyPath    string `yaml:"key,omitempty"`
	CaptureDir string `yaml:"capture_dir,omitempty"`
	Advertise  string `yaml:"advertise,omitempty"`
}

// Coordinator remembers a coordinator found by discovery.
type Coordinator struct {
	Service   string    `yaml:"service,omitempty"`    // mDNS service, e.g. slzb-06
	Address   string    `yaml:"address"`              // host:port
	RadioType string    `yaml:"radio_type,omitempty"` // znp, deconz, ...
	BaudRate  int       `yaml:"baud_rate,omitempty"`
	LastSeen  time.Time `yaml:"last_seen,omitempty"`
}

// Path returns the transport path that reaches the coordinator.
func (c *Coordinator) Path() string {
	return "tcp://" + c.Address
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	d := driver.DefaultConfig()
	return &Config{
		Version: CurrentVersion,
		Transport: TransportConfig{
			Path:     "/dev/ttyUSB0",
			BaudRate: transport.DefaultBaudRate,
		},
		Driver: DriverConfig{
			Framing:        d.Framing,
			MaxBuffer:      d.MaxBuffer,
			HighWaterMark:  d.HighWaterMark,
			Concurrency:    d.Concurrency,
			RequestTimeout: d.RequestTimeout,
		},
		Retry:        retryToConfig(d.Retry),
		NATS:         NATSConfig{Prefix: "zradio"},
		Bridge:       BridgeConfig{Listen: ":6638", HTTPListen: ":8080"},
		Coordinators: make(map[string]*Coordinator),
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion)
	}
	if _, err := protocol.NewFramer(c.Driver.Framing); err != nil {
		return fmt.Errorf("driver.framing: %w", err)
	}
	if c.Driver.Concurrency < 1 {
		return fmt.Errorf("driver.concurrency must be positive, got %d", c.Driver.Concurrency)
	}
	if c.Driver.MaxBuffer < 0 || c.Driver.HighWaterMark < 0 {
		return fmt.Errorf("driver.max_buffer and driver.high_water_mark must not be negative")
	}
	for name, policy := range c.Retry {
		if _, ok := failureByName(name); !ok {
			return fmt.Errorf("retry.%s: unknown failure class (expected send, timeout or rejected)", name)
		}
		if policy.Attempts < 0 {
			return fmt.Errorf("retry.%s.attempts must not be negative", name)
		}
	}
	return nil
}

// DriverConfig converts the driver and retry sections.
func (c *Config) DriverConfig() driver.Config {
	policies := make(driver.RetryPolicies, len(c.Retry))
	for name, rc := range c.Retry {
		if f, ok := failureByName(name); ok {
			policies[f] = driver.RetryPolicy{
				Attempts:    rc.Attempts,
				Interval:    rc.Interval,
				MaxInterval: rc.MaxInterval,
			}
		}
	}
	return driver.Config{
		Framing:        c.Driver.Framing,
		MaxBuffer:      c.Driver.MaxBuffer,
		HighWaterMark:  c.Driver.HighWaterMark,
		Concurrency:    c.Driver.Concurrency,
		RequestTimeout: c.Driver.RequestTimeout,
		Retry:          policies,
	}
}

// TransportConfig converts the transport section.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		Path:        c.Transport.Path,
		BaudRate:    c.Transport.BaudRate,
		RTSCTS:      c.Transport.RTSCTS,
		DialTimeout: c.Transport.DialTimeout,
	}
}

// LoggingOptions converts the logging section.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
	}
}

// ServerConfig converts the bridge section.
func (c *Config) ServerConfig() *server.Config {
	return &server.Config{
		Listen:     c.Bridge.Listen,
		HTTPListen: c.Bridge.HTTPListen,
		CertPath:   c.Bridge.CertPath,
		KeyPath:    c.Bridge.KeyPath,
		Framing:    c.Driver.Framing,
		CaptureDir: c.Bridge.CaptureDir,
		Advertise:  c.Bridge.Advertise,
	}
}

// GetCoordinator retrieves a remembered coordinator by name.
// Returns nil if no coordinator has that name.
func (c *Config) GetCoordinator(name string) *Coordinator {
	return c.Coordinators[name]
}

// RememberCoordinator stores a discovered coordinator under name, replacing
// any previous entry.
func (c *Config) RememberCoordinator(name string, found *discovery.Coordinator) *Coordinator {
	if c.Coordinators == nil {
		c.Coordinators = make(map[string]*Coordinator)
	}
	entry := &Coordinator{
		Service:   found.Service,
		Address:   found.Address(),
		RadioType: found.RadioType,
		BaudRate:  found.BaudRate,
		LastSeen:  found.DiscoveredAt,
	}
	c.Coordinators[name] = entry
	return entry
}

// UseCoordinator points the transport at a remembered coordinator and picks
// the framing its radio speaks.
func (c *Config) UseCoordinator(name string) error {
	entry := c.GetCoordinator(name)
	if entry == nil {
		return fmt.Errorf("no coordinator named %q in config", name)
	}
	c.Transport.Path = entry.Path()
	if framing := (&discovery.Coordinator{RadioType: entry.RadioType}).Framing(); framing != "" {
		c.Driver.Framing = framing
	}
	return nil
}

func failureByName(name string) (driver.Failure, bool) {
	switch strings.ToLower(name) {
	case driver.FailureSend.String():
		return driver.FailureSend, true
	case driver.FailureTimeout.String():
		return driver.FailureTimeout, true
	case driver.FailureRejected.String():
		return driver.FailureRejected, true
	default:
		return 0, false
	}
}

func retryToConfig(policies driver.RetryPolicies) map[string]RetryConfig {
	out := make(map[string]RetryConfig, len(policies))
	for f, p := range policies {
		out[f.String()] = RetryConfig{Attempts: p.Attempts, Interval: p.Interval, MaxInterval: p.MaxInterval}
	}
	return out
}
