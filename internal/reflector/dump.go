package reflector

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const (
	// DefaultIndent is the number of columns each nesting level adds.
	DefaultIndent = 2

	// DefaultMaxDepth bounds recursion into nested messages.
	DefaultMaxDepth = 32

	truncated = "..."
)

// Option configures Dump.
type Option func(*dumper)

// WithIndent sets the indent step per nesting level.
func WithIndent(step int) Option {
	return func(d *dumper) {
		if step >= 0 {
			d.step = step
		}
	}
}

// WithMaxDepth sets the nesting bound. Fields nested deeper are shown as
// "name: ...".
func WithMaxDepth(n int) Option {
	return func(d *dumper) {
		if n > 0 {
			d.maxDepth = n
		}
	}
}

// WithTitleLabels renders field names as Title Case words
// ("ppm_salt" becomes "Ppm Salt").
func WithTitleLabels() Option {
	return func(d *dumper) {
		caser := cases.Title(language.English)
		d.label = func(name protoreflect.Name) string {
			return caser.String(strings.ReplaceAll(string(name), "_", " "))
		}
	}
}

type dumper struct {
	step     int
	maxDepth int
	label    func(protoreflect.Name) string
	lines    []string
}

// Dump renders the populated fields of m as indented "name: value" lines.
//
// Fields appear in declaration order. A nested message is written as
// "name:" followed by its own fields one indent step deeper; each element
// of a repeated message is written as such a block. Repeated scalars are
// written inline as "name: [a, b]". Unset fields produce no output.
func Dump(m protoreflect.Message, opts ...Option) string {
	d := &dumper{
		step:     DefaultIndent,
		maxDepth: DefaultMaxDepth,
		label:    func(n protoreflect.Name) string { return string(n) },
	}
	for _, opt := range opts {
		opt(d)
	}
	if m == nil || !m.IsValid() {
		return ""
	}
	d.message(m, 0, 0)
	return strings.Join(d.lines, "\n")
}

// DumpProto is Dump for a proto.Message; nil yields "".
func DumpProto(m proto.Message, opts ...Option) string {
	if m == nil {
		return ""
	}
	return Dump(m.ProtoReflect(), opts...)
}

func (d *dumper) emit(indent int, s string) {
	d.lines = append(d.lines, strings.Repeat(" ", indent)+s)
}

func (d *dumper) message(m protoreflect.Message, indent, depth int) {
	fields := m.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if !m.Has(fd) {
			continue
		}
		d.field(fd, m.Get(fd), indent, depth)
	}
}

func (d *dumper) field(fd protoreflect.FieldDescriptor, v protoreflect.Value, indent, depth int) {
	name := d.label(fd.Name())

	switch {
	case fd.IsMap():
		d.emit(indent, name+":")
		d.mapEntries(fd, v.Map(), indent+d.step, depth)

	case fd.IsList() && KindOf(fd) == KindMessage:
		if depth+1 >= d.maxDepth {
			d.emit(indent, name+": "+truncated)
			return
		}
		list := v.List()
		d.emit(indent, name+":")
		for j := 0; j < list.Len(); j++ {
			d.message(list.Get(j).Message(), indent+d.step, depth+1)
		}

	case fd.IsList():
		list := v.List()
		parts := make([]string, 0, list.Len())
		for j := 0; j < list.Len(); j++ {
			parts = append(parts, scalar(fd, list.Get(j)))
		}
		d.emit(indent, name+": ["+strings.Join(parts, ", ")+"]")

	case KindOf(fd) == KindMessage:
		if depth+1 >= d.maxDepth {
			d.emit(indent, name+": "+truncated)
			return
		}
		d.emit(indent, name+":")
		d.message(v.Message(), indent+d.step, depth+1)

	default:
		d.emit(indent, name+": "+scalar(fd, v))
	}
}

func (d *dumper) mapEntries(fd protoreflect.FieldDescriptor, m protoreflect.Map, indent, depth int) {
	type entry struct {
		key string
		val protoreflect.Value
	}
	entries := make([]entry, 0, m.Len())
	m.Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		entries = append(entries, entry{key: scalar(fd.MapKey(), k.Value()), val: v})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	vd := fd.MapValue()
	for _, e := range entries {
		if KindOf(vd) != KindMessage {
			d.emit(indent, e.key+": "+scalar(vd, e.val))
			continue
		}
		if depth+1 >= d.maxDepth {
			d.emit(indent, e.key+": "+truncated)
			continue
		}
		d.emit(indent, e.key+":")
		d.message(e.val.Message(), indent+d.step, depth+1)
	}
}

func scalar(fd protoreflect.FieldDescriptor, v protoreflect.Value) string {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return strconv.FormatBool(v.Bool())
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return strconv.FormatInt(v.Int(), 10)
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return strconv.FormatUint(v.Uint(), 10)
	case protoreflect.FloatKind:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case protoreflect.DoubleKind:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case protoreflect.StringKind:
		return v.String()
	case protoreflect.BytesKind:
		return "0x" + hex.EncodeToString(v.Bytes())
	case protoreflect.EnumKind:
		if ev := fd.Enum().Values().ByNumber(v.Enum()); ev != nil {
			return string(ev.Name())
		}
		return strconv.FormatInt(int64(v.Enum()), 10)
	default:
		return fmt.Sprint(v.Interface())
	}
}
