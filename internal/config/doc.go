// Package config provides the zradio configuration file.
//
// The file is YAML and only needs the settings that differ from the
// defaults; Parse decodes over NewConfig(). Conversions hand each section to
// the package that consumes it (DriverConfig, TransportConfig,
// LoggingOptions, ServerConfig).
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/zradio/config.yaml or $HOME/.config/zradio/config.yaml
//   - macOS: $HOME/.config/zradio/config.yaml
//   - Windows: %LOCALAPPDATA%\zradio\config.yaml
//
// ZRADIO_CONFIG or the --config flag override the location.
//
// # Example
//
//	version: 1
//	transport:
//	  path: /dev/ttyUSB0
//	  baud_rate: 115200
//	driver:
//	  framing: unpi
//	  concurrency: 2
//	  request_timeout: 6s
//	retry:
//	  send:
//	    attempts: 3
//	    interval: 50ms
//	    max_interval: 500ms
//	  timeout:
//	    attempts: 2
//	nats:
//	  url: nats://localhost:4222
//	  prefix: zradio
//	coordinators:
//	  kitchen:
//	    service: slzb-06
//	    address: 192.168.1.40:6638
//	    radio_type: znp
//
// # Thread Safety
//
// Save is protected by a mutex and writes atomically through a temporary
// file. A *Config itself is not safe for concurrent mutation.
package config
