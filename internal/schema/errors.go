package schema

import "errors"

// Domain errors for the schema package.
var (
	// ErrMessageNotFound is returned when a configured message name is not
	// present in the descriptor set.
	ErrMessageNotFound = errors.New("schema: message not found")

	// ErrInvalidGroup is returned when a command group is missing or is not
	// a singular message field.
	ErrInvalidGroup = errors.New("schema: invalid command group")

	// ErrInvalidIdentity is returned when the announcement lacks a
	// configured identity field.
	ErrInvalidIdentity = errors.New("schema: invalid identity field")

	// ErrDescriptorSet is returned when the descriptor set cannot be read or parsed.
	ErrDescriptorSet = errors.New("schema: invalid descriptor set")
)
