// Package journal persists device log events to SQLite and serves them
// back with filtering and pagination.
//
// A Sink subscribes to the event bus and hands events to a single
// background writer, so a slow disk never stalls message handling.
package journal
