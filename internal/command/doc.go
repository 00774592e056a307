// Package command builds and publishes device commands.
//
// A command is a message field of a family's request schema. Builder fills
// the command's parameter message from loosely typed strings (form input,
// API bodies) by walking the parameter schema in declaration order:
//
//	integer   base-10 parse; failure leaves the field unset
//	float     decimal parse; failure leaves the field unset
//	bool      true for "true", "1", "yes", "on" (any case)
//	enum      value name or number
//	repeated  split on commas, trimmed, empties dropped, each piece coerced
//	marker    a parameterless command is sent as present
//
// The permissive policy is deliberate: a single bad field does not block
// the command. WithStrictCoercion turns failures into ErrCoercion.
//
// Every request gets a fresh UUID in its transaction field. Responses are
// not matched against requests.
package command
