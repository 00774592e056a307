package command

import (
	"strconv"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// truthy is the set of strings that coerce to true. Everything else,
// including unrecognised input, is false.
var truthy = map[string]bool{
	"true": true,
	"1":    true,
	"yes":  true,
	"on":   true,
}

// ParseBool reports whether s is one of true, 1, yes, on (any case).
func ParseBool(s string) bool {
	return truthy[strings.ToLower(strings.TrimSpace(s))]
}

// SplitRepeated splits s on commas, trims each piece and drops empty
// pieces. Order is preserved.
func SplitRepeated(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Coerce converts raw to a value for a singular element of fd. The bool
// is false when raw cannot be represented in fd's kind; the field should
// then be left unset. Empty input is never coerced.
func Coerce(raw string, fd protoreflect.FieldDescriptor) (protoreflect.Value, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return protoreflect.Value{}, false
	}

	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := strconv.ParseInt(trimmed, 10, 32)
		if err != nil {
			return protoreflect.Value{}, false
		}
		return protoreflect.ValueOfInt32(int32(n)), true

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return protoreflect.Value{}, false
		}
		return protoreflect.ValueOfInt64(n), true

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := strconv.ParseUint(trimmed, 10, 32)
		if err != nil {
			return protoreflect.Value{}, false
		}
		return protoreflect.ValueOfUint32(uint32(n)), true

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return protoreflect.Value{}, false
		}
		return protoreflect.ValueOfUint64(n), true

	case protoreflect.FloatKind:
		f, err := strconv.ParseFloat(trimmed, 32)
		if err != nil {
			return protoreflect.Value{}, false
		}
		return protoreflect.ValueOfFloat32(float32(f)), true

	case protoreflect.DoubleKind:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return protoreflect.Value{}, false
		}
		return protoreflect.ValueOfFloat64(f), true

	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(ParseBool(trimmed)), true

	case protoreflect.EnumKind:
		if ev := fd.Enum().Values().ByName(protoreflect.Name(trimmed)); ev != nil {
			return protoreflect.ValueOfEnum(ev.Number()), true
		}
		n, err := strconv.ParseInt(trimmed, 10, 32)
		if err != nil {
			return protoreflect.Value{}, false
		}
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n)), true

	case protoreflect.StringKind:
		return protoreflect.ValueOfString(raw), true

	case protoreflect.BytesKind:
		return protoreflect.ValueOfBytes([]byte(raw)), true

	default:
		return protoreflect.Value{}, false
	}
}
