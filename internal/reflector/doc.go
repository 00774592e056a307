// Package reflector walks protobuf messages using only their descriptors.
//
// Dump renders a decoded message as an indented, sparse text block for
// device logs. EnumerateFields lists a schema's fields in declaration
// order to drive command forms. Flatten extracts numeric telemetry.
//
// All walks are depth-bounded, so self-referential schemas terminate.
package reflector
