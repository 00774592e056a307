// Package api implements the HTTP control surface and WebSocket feed for the
// device fleet.
//
// This package provides:
//   - REST endpoints to browse announced devices and their latest snapshots
//   - Command listing and sending, driven entirely by the loaded schema
//   - Level, interval and background sender control per device
//   - Recent device log and the persisted event journal
//   - WebSocket hub relaying device log events and registry changes
//
// # Architecture
//
// The server never touches MQTT directly. Commands go through a
// CommandSender (the command dispatcher), the periodic sender through a
// SenderControl, and everything the operator should see is emitted on the
// event bus. The Hub subscribes to that bus like any other sink.
//
// # WebSocket protocol
//
// Clients send {"type":"subscribe","payload":{"channels":[...]}} and then
// receive {"type":"event","event_type":channel,...} messages. Channels are
// "registry.changed", "device.log" and "device.log:<serial>".
//
// # Graceful Degradation
//
// The server operates without a broker connection: reads and WebSocket
// connections work, only command sends fail with 502. Without a journal
// the journal endpoint answers 503.
package api
