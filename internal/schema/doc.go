// Package schema resolves the externally supplied protobuf descriptors that
// define device payloads.
//
// Descriptors are loaded at start-up from a FileDescriptorSet, so adding a
// device family or changing a payload needs a new descriptor file and a
// config change, not a rebuild. The Catalog maps each role (announcement,
// info, per-family telemetry, command request and command response) to a
// message descriptor and lists the commands each family can receive.
//
// A family with no telemetry or command-response descriptor is valid;
// callers skip decoding for it.
package schema
