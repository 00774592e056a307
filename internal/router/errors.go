package router

import "errors"

// Domain errors for the router package.
var (
	// ErrDecode is returned when a payload does not match its schema.
	ErrDecode = errors.New("router: decode failed")
)
