package router

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/events"
	"github.com/nerrad567/poolfleet/internal/reflector"
	"github.com/nerrad567/poolfleet/internal/schema"
)

// Registry is the subset of device.Registry the router writes to.
type Registry interface {
	RecordAnnouncement(id device.Identity)
	RecordInfo(serial string, msg proto.Message)
	RecordTelemetry(serial string, msg proto.Message)
	Identity(serial string) (device.Identity, bool)
	ResolveFamily(serial string) (device.Family, bool)
}

// TelemetryWriter stores flattened telemetry, e.g. in InfluxDB.
type TelemetryWriter interface {
	WriteTelemetry(serial, family string, fields map[string]float64)
}

// Logger defines the logging interface used by the Router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Router.
type Options struct {
	Registry  Registry
	Catalog   *schema.Catalog
	Events    events.Emitter
	Telemetry TelemetryWriter // optional
	Logger    Logger          // optional
}

// Router decodes inbound device messages and records them in the registry.
type Router struct {
	registry  Registry
	catalog   *schema.Catalog
	events    events.Emitter
	telemetry TelemetryWriter
	logger    Logger
}

// New validates opts and returns a Router.
func New(opts Options) (*Router, error) {
	if opts.Registry == nil || opts.Catalog == nil {
		return nil, errors.New("router: registry and catalog are required")
	}
	r := &Router{
		registry:  opts.Registry,
		catalog:   opts.Catalog,
		events:    opts.Events,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}
	if r.events == nil {
		r.events = events.Discard{}
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r, nil
}

// Handle routes one inbound message. Malformed topics and unknown kinds are
// dropped silently. Decode failures are reported through the event hook
// and returned; they never affect other messages.
//
// Handle has the signature of an MQTT message handler.
func (r *Router) Handle(topic string, payload []byte) error {
	t, ok := ParseTopic(topic)
	if !ok {
		return nil
	}

	switch t.Kind {
	case KindAnnouncement:
		return r.handleAnnouncement(t, payload)
	case KindInfo:
		return r.handleInfo(t, payload)
	case KindTelemetry:
		return r.handleTelemetry(t, payload)
	case KindCommandResponse:
		return r.handleCommandResponse(t, payload)
	case KindError:
		r.handleDeviceError(t, payload)
		return nil
	default:
		return nil
	}
}

func (r *Router) decode(md protoreflect.MessageDescriptor, t Topic, payload []byte) (*dynamicpb.Message, error) {
	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(payload, msg); err != nil {
		r.events.Emit(t.Serial, fmt.Sprintf("Failed to decode %s: %v", kindLabel(t.Kind), err), events.SeverityError)
		return nil, fmt.Errorf("%w: %s from %s: %v", ErrDecode, t.Kind, t.Serial, err)
	}
	return msg, nil
}

func (r *Router) handleAnnouncement(t Topic, payload []byte) error {
	msg, err := r.decode(r.catalog.Announcement(), t, payload)
	if err != nil {
		return err
	}

	f := r.catalog.IdentityFields()
	id := device.Identity{
		Serial:       stringField(msg, f.Serial),
		Category:     stringField(msg, f.Category),
		ProductName:  stringField(msg, f.ProductName),
		Announcement: msg,
	}
	if id.Serial == "" {
		id.Serial = t.Serial
	}
	if id.Category == "" {
		id.Category = t.Category
	}

	r.registry.RecordAnnouncement(id)
	r.events.Emit(id.Serial, "--- Announcement ---\n"+reflector.Dump(msg), events.SeverityInfo)
	return nil
}

func (r *Router) handleInfo(t Topic, payload []byte) error {
	md := r.catalog.Info()
	if md == nil {
		r.skip(t, "no info schema configured")
		return nil
	}

	msg, err := r.decode(md, t, payload)
	if err != nil {
		return err
	}

	r.registry.RecordInfo(t.Serial, msg)
	r.events.Emit(t.Serial, "--- Device Info ---\n"+reflector.Dump(msg), events.SeverityInfo)
	return nil
}

func (r *Router) handleTelemetry(t Topic, payload []byte) error {
	fam, ok := r.resolve(t)
	if !ok {
		return nil
	}
	md, ok := r.catalog.Telemetry(fam)
	if !ok {
		r.skip(t, "no telemetry schema for family "+fam.String())
		return nil
	}

	msg, err := r.decode(md, t, payload)
	if err != nil {
		return err
	}

	r.registry.RecordTelemetry(t.Serial, msg)
	r.events.Emit(t.Serial, "--- Telemetry ---\n"+reflector.Dump(msg), events.SeverityInfo)

	if r.telemetry != nil {
		if fields := reflector.Flatten(msg); len(fields) > 0 {
			r.telemetry.WriteTelemetry(t.Serial, fam.String(), fields)
		}
	}
	return nil
}

func (r *Router) handleCommandResponse(t Topic, payload []byte) error {
	fam, ok := r.resolve(t)
	if !ok {
		return nil
	}
	md, ok := r.catalog.CommandResponse(fam)
	if !ok {
		r.skip(t, "no command response schema for family "+fam.String())
		return nil
	}

	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(payload, msg); err != nil {
		r.logger.Warn("command response decode failed", "serial", t.Serial, "error", err)
		r.events.Emit(t.Serial, "--- Command Response (Unknown/Parse Error) ---\n"+hex.EncodeToString(payload), events.SeverityWarning)
		return nil
	}

	body := reflector.Dump(msg, reflector.WithTitleLabels())
	if body == "" {
		body = "(No fields in response)"
	}
	r.events.Emit(t.Serial, "--- Command Response ---\n"+body, events.SeverityInfo)
	return nil
}

func (r *Router) handleDeviceError(t Topic, payload []byte) {
	var body string
	if md := r.catalog.DeviceError(); md != nil {
		msg := dynamicpb.NewMessage(md)
		if err := proto.Unmarshal(payload, msg); err == nil {
			body = reflector.Dump(msg)
		}
	}
	if body == "" {
		body = rawText(payload)
	}
	r.events.Emit(t.Serial, "--- Device Error ---\n"+body, events.SeverityError)
}

// resolve finds the family used to decode t. An unannounced serial and an
// unrecognised category are reported separately from a missing schema.
func (r *Router) resolve(t Topic) (device.Family, bool) {
	fam, known := r.registry.ResolveFamily(t.Serial)
	switch {
	case !known:
		r.skip(t, "device has not announced")
		return fam, false
	case fam == device.FamilyUnknown:
		id, _ := r.registry.Identity(t.Serial)
		r.skip(t, fmt.Sprintf("unrecognised device category %q", id.Category))
		return fam, false
	}
	if _, ok := r.catalog.Family(fam); !ok {
		r.skip(t, "no schemas configured for family "+fam.String())
		return fam, false
	}
	return fam, true
}

func (r *Router) skip(t Topic, reason string) {
	r.logger.Info("message skipped", "serial", t.Serial, "kind", string(t.Kind), "reason", reason)
	r.events.Emit(t.Serial, fmt.Sprintf("%s skipped: %s", kindLabel(t.Kind), reason), events.SeverityWarning)
}

func kindLabel(k Kind) string {
	switch k {
	case KindAnnouncement:
		return "announcement"
	case KindInfo:
		return "info"
	case KindTelemetry:
		return "telemetry"
	case KindCommandResponse:
		return "command response"
	case KindError:
		return "device error"
	default:
		return string(k)
	}
}

func stringField(m protoreflect.Message, name protoreflect.Name) string {
	if name == "" {
		return ""
	}
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil || fd.Kind() != protoreflect.StringKind || fd.IsList() {
		return ""
	}
	return m.Get(fd).String()
}

// rawText shows payload as text when it is printable UTF-8, else as hex.
func rawText(payload []byte) string {
	s := string(payload)
	if s != "" && utf8.ValidString(s) && strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsPrint(r) && !unicode.IsSpace(r)
	}) < 0 {
		return s
	}
	return hex.EncodeToString(payload)
}
