package reflector

import (
	"strconv"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Flatten collects the populated numeric fields of m as dotted paths, for
// time-series storage. Bools map to 0 or 1 and enums to their number.
// Repeated elements are addressed by index ("zones.0.address").
// Strings, bytes and map fields are skipped.
func Flatten(m protoreflect.Message) map[string]float64 {
	out := make(map[string]float64)
	if m == nil || !m.IsValid() {
		return out
	}
	flatten(m, "", 0, out)
	return out
}

func flatten(m protoreflect.Message, prefix string, depth int, out map[string]float64) {
	if depth >= DefaultMaxDepth {
		return
	}
	fields := m.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.IsMap() || !m.Has(fd) {
			continue
		}
		path := prefix + string(fd.Name())
		v := m.Get(fd)

		if fd.IsList() {
			list := v.List()
			for j := 0; j < list.Len(); j++ {
				elem := path + "." + strconv.Itoa(j)
				if KindOf(fd) == KindMessage {
					flatten(list.Get(j).Message(), elem+".", depth+1, out)
				} else if f, ok := number(fd, list.Get(j)); ok {
					out[elem] = f
				}
			}
			continue
		}

		if KindOf(fd) == KindMessage {
			flatten(v.Message(), path+".", depth+1, out)
			continue
		}
		if f, ok := number(fd, v); ok {
			out[path] = f
		}
	}
}

func number(fd protoreflect.FieldDescriptor, v protoreflect.Value) (float64, bool) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		if v.Bool() {
			return 1, true
		}
		return 0, true
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return float64(v.Int()), true
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return float64(v.Uint()), true
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return v.Float(), true
	case protoreflect.EnumKind:
		return float64(v.Enum()), true
	default:
		return 0, false
	}
}
