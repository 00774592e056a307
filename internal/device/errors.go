package device

import "errors"

// Domain errors for the device package.
//
// Registry operations themselves never fail for an unknown serial; these
// are returned by components that need an announced device to act on.
var (
	// ErrDeviceNotFound is returned when a serial has never announced.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUnknownFamily is returned when a device's category matches no family.
	ErrUnknownFamily = errors.New("device: unknown family")
)
