package command

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/nerrad567/poolfleet/internal/reflector"
	"github.com/nerrad567/poolfleet/internal/schema"
)

// Envelope is a built command ready to publish.
type Envelope struct {
	// ID is the transaction id written into the request.
	ID      string
	Command schema.Command
	Message protoreflect.Message
	Payload []byte

	// Topic is set by the Dispatcher when the command is addressed.
	Topic string

	// Skipped lists parameters whose raw value could not be coerced and
	// were left unset.
	Skipped []string
}

// Builder turns raw string input into encoded command requests.
// A Builder is safe for concurrent use.
type Builder struct {
	txnField protoreflect.Name
	strict   bool
	newID    func() string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithStrictCoercion makes Build fail when any raw value cannot be coerced.
func WithStrictCoercion(strict bool) BuilderOption {
	return func(b *Builder) { b.strict = strict }
}

// WithIDGenerator replaces the transaction id source.
func WithIDGenerator(fn func() string) BuilderOption {
	return func(b *Builder) { b.newID = fn }
}

// NewBuilder creates a Builder that writes transaction ids into txnField.
func NewBuilder(txnField protoreflect.Name, opts ...BuilderOption) *Builder {
	b := &Builder{
		txnField: txnField,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build encodes cmd with parameters taken from raw, keyed by parameter name.
//
// Parameters are visited in declaration order. Integer and float inputs
// that fail to parse leave the parameter unset, and the command is still
// built (unless the Builder is strict). Repeated parameters are split on
// commas and each piece coerced separately. Nested message parameters
// cannot be expressed as flat strings and are left unset. A command with
// no parameters is sent as present and raw is ignored.
//
// Every request carries a fresh transaction id.
func (b *Builder) Build(cmd schema.Command, raw map[string]string) (*Envelope, error) {
	if cmd.Request == nil || cmd.Field == nil || cmd.Field.Message() == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, cmd.Key())
	}

	req := dynamicpb.NewMessage(cmd.Request)
	env := &Envelope{ID: b.newID(), Command: cmd, Message: req}

	if tf := cmd.Request.Fields().ByName(b.txnField); tf != nil && tf.Kind() == protoreflect.StringKind && !tf.IsList() {
		req.Set(tf, protoreflect.ValueOfString(env.ID))
	}

	holder := protoreflect.Message(req)
	if cmd.GroupField != nil {
		holder = req.Mutable(cmd.GroupField).Message()
	}
	params := holder.Mutable(cmd.Field).Message()

	if !cmd.IsMarker() {
		env.Skipped = populate(params, raw)
	}

	if b.strict && len(env.Skipped) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrCoercion, cmd.Key(), strings.Join(env.Skipped, ", "))
	}

	payload, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", cmd.Key(), err)
	}
	env.Payload = payload

	return env, nil
}

// populate sets the fields of m from raw and returns the names of fields
// whose input was present but unusable.
func populate(m protoreflect.Message, raw map[string]string) []string {
	var skipped []string

	for _, f := range reflector.EnumerateFields(m.Descriptor()) {
		s, ok := raw[f.Name]
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		fd := f.Descriptor

		switch {
		case f.Kind == reflector.KindMessage:
			skipped = append(skipped, f.Name)

		case f.Repeated:
			list := m.Mutable(fd).List()
			bad := false
			for _, piece := range SplitRepeated(s) {
				if v, ok := Coerce(piece, fd); ok {
					list.Append(v)
				} else {
					bad = true
				}
			}
			if list.Len() == 0 {
				m.Clear(fd)
			}
			if bad {
				skipped = append(skipped, f.Name)
			}

		default:
			if v, ok := Coerce(s, fd); ok {
				m.Set(fd, v)
			} else {
				skipped = append(skipped, f.Name)
			}
		}
	}

	return skipped
}
