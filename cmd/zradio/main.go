// Zradio talks to Zigbee coordinator radios over serial, TCP or WebSocket.
//
// It frames Z-Stack (UNPI) and deCONZ (SLIP) traffic, runs requests
// against the radio with retries, finds network coordinators over mDNS,
// publishes frames to NATS and shares one radio with several clients.
//
// Usage:
//
//	zradio [command] [flags]
//
// See 'zradio --help' for available commands.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/zradio/internal/config"
	"github.com/muurk/zradio/internal/logging"
	"github.com/muurk/zradio/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath      string
	portPath        string
	baudRate        int
	framing         string
	coordinatorName string
	logLevel        string
	logFile         string
)

var rootCmd = &cobra.Command{
	Use:   "zradio",
	Short: "Zigbee coordinator radio utility",
	Long: `Talk to Zigbee coordinator radios: Z-Stack sticks over UNPI, ConBee and
RaspBee over SLIP, either on a local serial port or behind a network bridge.

Settings come from the config file (see 'zradio config path') and can be
overridden per command with the global flags below.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Example: `  # Watch everything a local stick sends
  zradio monitor --port /dev/ttyUSB0

  # Ping a Z-Stack coordinator behind an SLZB-06
  zradio request --port tcp://192.168.1.40:6638 --command 2101

  # Find network coordinators and remember the first one
  zradio discover --save kitchen

  # Share a stick with several clients
  zradio serve --port /dev/ttyACM0 --listen :6638`,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default: $"+config.ConfigPathEnvVar+" or the user config dir)")
	flags.StringVarP(&portPath, "port", "p", "", "Radio path: /dev/ttyUSB0, tcp://host:port, ws://host/path or mdns://service")
	flags.IntVar(&baudRate, "baud", 0, "Serial baud rate")
	flags.StringVar(&framing, "framing", "", "Frame format: unpi (Z-Stack) or slip (deCONZ)")
	flags.StringVarP(&coordinatorName, "coordinator", "c", "", "Use a coordinator saved by 'zradio discover --save'")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); empty = quiet")
	flags.StringVar(&logFile, "log-file", "", "Also write JSON logs to this file, rotated")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file, applies the coordinator selection and
// flag overrides, and initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if coordinatorName != "" {
		if err := cfg.UseCoordinator(coordinatorName); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Transport.Path = portPath
	}
	if flags.Changed("baud") {
		cfg.Transport.BaudRate = baudRate
	}
	if flags.Changed("framing") {
		cfg.Driver.Framing = framing
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-file") {
		cfg.Logging.File = logFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.InitializeWithOptions(cfg.LoggingOptions()); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(version.Get())
		}
		info := version.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "zradio %s (commit: %s, %s, %s)\n", info.Version, info.Commit, info.GoVersion, info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
}
