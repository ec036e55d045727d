// Package logging provides structured logging for zradio.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used by the radio runtime: transport lifecycle events, raw byte
// dumps of serial traffic, and per-component child loggers.
//
// # Log Levels
//
//   - Debug: Byte-level traffic (chunks fed to the parser, frames written)
//   - Info: Connection lifecycle, requests and responses
//   - Warn: Dropped frames, parser buffer overflows, retried requests
//   - Error: Transport failures
//
// # Configuration
//
// Logging is silent unless a level is given explicitly or through the
// ZRADIO_LOG_LEVEL environment variable:
//
//	if err := logging.InitializeWithOptions(logging.Options{
//	    Level: "debug",
//	    File:  "/var/log/zradio.log",
//	}); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When File is set, JSON lines are additionally written to that file and
// rotated by lumberjack.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use, including Initialize and
// SetLogger, which swap the global logger atomically.
package logging
