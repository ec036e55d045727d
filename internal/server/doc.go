// Package server implements the radio bridge: one local coordinator shared
// with network clients, like ser2net but with WebSocket support.
//
// Bytes read from the radio are copied to every connected client; bytes from
// any client are written to the radio in arrival order. The bridge does not
// arbitrate between clients, so normally one driver is connected while other
// clients only watch.
//
// # Endpoints
//
//   - Raw TCP on Config.Listen (what "tcp://host:port" dials)
//   - WebSocket on Config.HTTPListen at /radio, binary messages
//   - JSON status on Config.HTTPListen at /status
//
// Both listeners use TLS when CertPath and KeyPath are set. With Advertise
// set, the TCP listener is registered over mDNS so "mdns://<service>" finds it.
//
// # Capture
//
// With CaptureDir set, traffic in both directions is decoded with the
// configured framing and appended to capture-<timestamp>.jsonl, one
// CaptureRecord per line. ReadCapture and SummarizeCapture read it back.
//
// # Usage Example
//
//	port, err := transport.Open(ctx, transport.Config{Path: "/dev/ttyUSB0"})
//	if err != nil {
//	    return err
//	}
//	srv, err := server.New(port, &server.Config{
//	    Listen:     ":6638",
//	    HTTPListen: ":8080",
//	    Framing:    "unpi",
//	})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx)
package server
