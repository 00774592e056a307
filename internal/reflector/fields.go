package reflector

import (
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Kind is the closed set of value shapes the reflector distinguishes.
// Cardinality is carried separately on Field.
type Kind int

// Field kinds.
const (
	KindInvalid Kind = iota
	KindInteger
	KindFloat
	KindBool
	KindString
	KindBytes
	KindEnum
	KindMessage
)

var kindNames = map[Kind]string{
	KindInvalid: "invalid",
	KindInteger: "integer",
	KindFloat:   "float",
	KindBool:    "bool",
	KindString:  "string",
	KindBytes:   "bytes",
	KindEnum:    "enum",
	KindMessage: "message",
}

// String returns the lower-case kind name.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "invalid"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// KindOf maps a protobuf field kind onto Kind.
func KindOf(fd protoreflect.FieldDescriptor) Kind {
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return KindInteger
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return KindFloat
	case protoreflect.BoolKind:
		return KindBool
	case protoreflect.StringKind:
		return KindString
	case protoreflect.BytesKind:
		return KindBytes
	case protoreflect.EnumKind:
		return KindEnum
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return KindMessage
	default:
		return KindInvalid
	}
}

// Field describes one field of a message schema, independent of any instance.
type Field struct {
	Name     string   `json:"name"`
	Number   int      `json:"number"`
	Kind     Kind     `json:"kind"`
	Repeated bool     `json:"repeated"`
	Map      bool     `json:"map,omitempty"`
	Values   []string `json:"values,omitempty"` // enum value names

	Descriptor protoreflect.FieldDescriptor `json:"-"`
}

// Message returns the nested message descriptor, or nil for non-message fields.
func (f Field) Message() protoreflect.MessageDescriptor {
	if f.Kind != KindMessage {
		return nil
	}
	return f.Descriptor.Message()
}

// EnumerateFields lists the fields of md in declaration order. The order
// is stable and is what callers use to lay out and match input values.
func EnumerateFields(md protoreflect.MessageDescriptor) []Field {
	fields := md.Fields()
	out := make([]Field, 0, fields.Len())
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		f := Field{
			Name:       string(fd.Name()),
			Number:     int(fd.Number()),
			Kind:       KindOf(fd),
			Repeated:   fd.IsList() || fd.IsMap(),
			Map:        fd.IsMap(),
			Descriptor: fd,
		}
		if f.Kind == KindEnum {
			vals := fd.Enum().Values()
			for j := 0; j < vals.Len(); j++ {
				f.Values = append(f.Values, string(vals.Get(j).Name()))
			}
		}
		out = append(out, f)
	}
	return out
}
