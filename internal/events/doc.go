// Package events is the notification hook between the device core and
// whatever presents it.
//
// Components report through an Emitter (serial, message, severity). The
// Bus stamps each event and hands it to every Sink: the structured log,
// the per-device Recent history, the SQLite journal and the WebSocket hub.
// Registry changes are signalled separately through device.Registry.Changes.
package events
