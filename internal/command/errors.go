package command

import "errors"

// Domain errors for the command package.
var (
	// ErrInvalidCommand is returned when a command descriptor cannot be built.
	ErrInvalidCommand = errors.New("command: invalid command")

	// ErrCoercion is returned in strict mode when raw values fail to coerce.
	ErrCoercion = errors.New("command: invalid value")

	// ErrLevelOutOfRange is returned when a level cannot be represented by
	// the level parameter of the device's schema.
	ErrLevelOutOfRange = errors.New("command: level out of range")

	// ErrCommandNotFound is returned when a family has no such command.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrNoPublisher is returned when the dispatcher has no transport.
	ErrNoPublisher = errors.New("command: no publisher")
)
