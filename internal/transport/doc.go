// Package transport opens the byte stream a driver talks over.
//
// The path decides the transport:
//
//	/dev/ttyUSB0                 local serial device (go.bug.st/serial)
//	tcp://192.168.1.40:6638      network coordinator or ser2net bridge
//	ws://host:8080/radio         zradio bridge over WebSocket
//	mdns://slzb-06               first coordinator advertising _slzb-06._tcp
//
// Every Port also implements Accept, so it can be handed to
// protocol.NewWriter as the sink.
package transport
