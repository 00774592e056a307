package schema

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Command is one sendable action: a message-typed field of a request
// message, optionally nested under a group field.
//
//	SanitizerCommandRequest
//	  command_uuid
//	  sanitizer (Group)
//	    set_sanitizer_output_percentage (Field) → SetOutputPercentage (Params)
type Command struct {
	Group protoreflect.Name
	Name  protoreflect.Name

	Request    protoreflect.MessageDescriptor
	GroupField protoreflect.FieldDescriptor // nil when commands are direct fields of Request
	Field      protoreflect.FieldDescriptor
}

// Key identifies the command as "group/name", or "name" when ungrouped.
func (c Command) Key() string {
	if c.Group == "" {
		return string(c.Name)
	}
	return string(c.Group) + "/" + string(c.Name)
}

// Params is the descriptor of the command's parameter message.
func (c Command) Params() protoreflect.MessageDescriptor {
	return c.Field.Message()
}

// IsMarker reports whether the command carries no parameters and is sent
// only by being present.
func (c Command) IsMarker() bool {
	return c.Field.Message().Fields().Len() == 0
}

// commandsOf lists the commands under group in req. With an empty group
// every singular message field of req is a command.
func commandsOf(req protoreflect.MessageDescriptor, group protoreflect.Name) ([]Command, error) {
	holder := req
	var gf protoreflect.FieldDescriptor

	if group != "" {
		gf = req.Fields().ByName(group)
		if gf == nil || gf.Kind() != protoreflect.MessageKind || gf.IsList() || gf.IsMap() {
			return nil, fmt.Errorf("%w: %s.%s", ErrInvalidGroup, req.FullName(), group)
		}
		holder = gf.Message()
	}

	var cmds []Command
	fields := holder.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Kind() != protoreflect.MessageKind || fd.IsList() || fd.IsMap() {
			continue
		}
		cmds = append(cmds, Command{
			Group:      group,
			Name:       fd.Name(),
			Request:    req,
			GroupField: gf,
			Field:      fd,
		})
	}
	return cmds, nil
}
