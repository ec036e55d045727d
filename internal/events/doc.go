// Package events bridges a driver to NATS.
//
// Every decoded frame is published as a FrameEvent to two subjects:
//
//	<prefix>.<command hex>   e.g. zradio.45c0 for ZDO_STATE_CHANGE_IND
//	<prefix>.all
//
// Frames to send are accepted on <prefix>.downlink as DownlinkCommands.
// A command with "await": true is sent as a request and, when the message
// has a reply subject, the response is returned as a DownlinkReply:
//
//	nats req zradio.downlink '{"command":"2102","await":true}'
package events
