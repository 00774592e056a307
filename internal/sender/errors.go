package sender

import "errors"

// Domain errors for the sender package.
var (
	// ErrInvalidLevel is returned when a level value is not an integer or
	// does not fit the device's level field.
	ErrInvalidLevel = errors.New("sender: invalid level value")

	// ErrInvalidInterval is returned for intervals below one second.
	ErrInvalidInterval = errors.New("sender: invalid interval")
)
