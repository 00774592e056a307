package router

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/events"
	"github.com/nerrad567/poolfleet/internal/schema"
	"github.com/nerrad567/poolfleet/internal/schema/schematest"
)

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Emit(serial, message string, severity events.Severity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, events.Event{Serial: serial, Message: message, Severity: severity})
}

func (l *eventLog) last(t *testing.T) events.Event {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		t.Fatal("no events emitted")
	}
	return l.events[len(l.events)-1]
}

func (l *eventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type telemetryLog struct {
	serial, family string
	fields         map[string]float64
}

func (w *telemetryLog) WriteTelemetry(serial, family string, fields map[string]float64) {
	w.serial, w.family, w.fields = serial, family, fields
}

type fixture struct {
	router   *Router
	registry *device.Registry
	events   *eventLog
	tsdb     *telemetryLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := schema.NewCatalog(schematest.Files(), schematest.Config())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	f := &fixture{
		registry: device.NewRegistry(device.NewClassifier(cat.Rules()), device.DefaultRuntime),
		events:   &eventLog{},
		tsdb:     &telemetryLog{},
	}
	f.router, err = New(Options{Registry: f.registry, Catalog: cat, Events: f.events, Telemetry: f.tsdb})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func encode(t *testing.T, name string, values map[string]protoreflect.Value) []byte {
	t.Helper()
	m := dynamicpb.NewMessage(schematest.Message(name))
	for k, v := range values {
		m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(k)), v)
	}
	b, err := proto.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return b
}

func (f *fixture) announce(t *testing.T, serial, category string) {
	t.Helper()
	payload := encode(t, "DeviceInformation", map[string]protoreflect.Value{
		"serial_number": protoreflect.ValueOfString(serial),
		"category":      protoreflect.ValueOfString(category),
		"product_name":  protoreflect.ValueOfString("Unit " + serial),
	})
	if err := f.router.Handle(AsyncTopic(category, serial, KindAnnouncement), payload); err != nil {
		t.Fatalf("Handle(anc) error = %v", err)
	}
}

// ============================================================================
// Scenarios
// ============================================================================

func TestRouter_AnnouncementThenTelemetry(t *testing.T) {
	f := newFixture(t)
	f.announce(t, "SN1", "Sanitizer-X")

	if fam, ok := f.registry.ResolveFamily("SN1"); !ok || fam != device.FamilySanitizer {
		t.Fatalf("ResolveFamily(SN1) = (%v, %v), want (sanitizer, true)", fam, ok)
	}
	id, _ := f.registry.Identity("SN1")
	if id.ProductName != "Unit SN1" || id.Announcement == nil {
		t.Errorf("Identity() = %+v", id)
	}
	if e := f.events.last(t); !strings.HasPrefix(e.Message, "--- Announcement ---\nserial_number: SN1") {
		t.Errorf("announcement event = %q", e.Message)
	}

	payload := encode(t, "SanitizerTelemetry", map[string]protoreflect.Value{
		"ppm_salt": protoreflect.ValueOfInt32(3100),
		"rssi":     protoreflect.ValueOfInt32(-55),
	})
	if err := f.router.Handle("async/pool/SN1/dt", payload); err != nil {
		t.Fatalf("Handle(dt) error = %v", err)
	}

	snap, ok := f.registry.Telemetry("SN1")
	if !ok {
		t.Fatal("Telemetry(SN1) not recorded")
	}
	msg := snap.Message.ProtoReflect()
	if msg.Descriptor().FullName() != "pool.v1.SanitizerTelemetry" {
		t.Errorf("telemetry decoded as %s", msg.Descriptor().FullName())
	}
	if got := msg.Get(msg.Descriptor().Fields().ByName("ppm_salt")).Int(); got != 3100 {
		t.Errorf("ppm_salt = %d, want 3100", got)
	}

	want := "--- Telemetry ---\nrssi: -55\nppm_salt: 3100"
	if e := f.events.last(t); e.Message != want || e.Severity != events.SeverityInfo {
		t.Errorf("telemetry event = %+v, want %q", e, want)
	}

	if f.tsdb.serial != "SN1" || f.tsdb.family != "sanitizer" || f.tsdb.fields["ppm_salt"] != 3100 {
		t.Errorf("telemetry writer got %+v", f.tsdb)
	}
}

func TestRouter_AnnouncementFallsBackToTopic(t *testing.T) {
	f := newFixture(t)

	if err := f.router.Handle("async/Sanitizer-Y/SN7/anc", nil); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	id, ok := f.registry.Identity("SN7")
	if !ok || id.Category != "Sanitizer-Y" {
		t.Errorf("Identity(SN7) = (%+v, %v), want category from topic", id, ok)
	}
}

func TestRouter_Info(t *testing.T) {
	f := newFixture(t)

	payload := encode(t, "DeviceConfiguration", map[string]protoreflect.Value{
		"telemetry_interval": protoreflect.ValueOfUint32(30),
	})
	if err := f.router.Handle("async/pool/SN2/info", payload); err != nil {
		t.Fatalf("Handle(info) error = %v", err)
	}

	if _, ok := f.registry.Info("SN2"); !ok {
		t.Error("Info(SN2) not recorded for an unannounced serial")
	}
	if _, ok := f.registry.Identity("SN2"); ok {
		t.Error("info must not create an identity")
	}
	if e := f.events.last(t); e.Message != "--- Device Info ---\ntelemetry_interval: 30" {
		t.Errorf("info event = %q", e.Message)
	}
}

// ============================================================================
// Skips and failures
// ============================================================================

func TestRouter_DiscardsSilently(t *testing.T) {
	f := newFixture(t)

	for _, topic := range []string{"async/pool/SN1", "garbage", "async/pool/SN1/zzz", "cmd/pool/SN1/req"} {
		if err := f.router.Handle(topic, []byte{0x01}); err != nil {
			t.Errorf("Handle(%q) error = %v", topic, err)
		}
	}
	if n := f.events.count(); n != 0 {
		t.Errorf("emitted %d events for discarded topics, want 0", n)
	}
}

func TestRouter_TelemetrySkips(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*testing.T, *fixture)
		topic    string
		wantText string
	}{
		{
			name:     "not announced",
			setup:    func(*testing.T, *fixture) {},
			topic:    "async/pool/SN1/dt",
			wantText: "telemetry skipped: device has not announced",
		},
		{
			name:     "unrecognised category",
			setup:    func(t *testing.T, f *fixture) { f.announce(t, "SN1", "HeatPump") },
			topic:    "async/pool/SN1/dt",
			wantText: `telemetry skipped: unrecognised device category "HeatPump"`,
		},
		{
			name:     "no command response schema",
			setup:    func(t *testing.T, f *fixture) { f.announce(t, "SN1", "DigitalController") },
			topic:    "async/pool/SN1/cmdr",
			wantText: "command response skipped: no command response schema for family icl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)

			if err := f.router.Handle(tt.topic, []byte{0x08, 0x01}); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			e := f.events.last(t)
			if e.Message != tt.wantText || e.Severity != events.SeverityWarning {
				t.Errorf("event = %+v, want warning %q", e, tt.wantText)
			}
			if _, ok := f.registry.Telemetry("SN1"); ok {
				t.Error("skipped telemetry was recorded")
			}
		})
	}
}

func TestRouter_TelemetryDecodeFailure(t *testing.T) {
	f := newFixture(t)
	f.announce(t, "SN1", "Sanitizer-X")

	err := f.router.Handle("async/pool/SN1/dt", []byte{0xff, 0xff})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Handle() error = %v, want ErrDecode", err)
	}
	e := f.events.last(t)
	if e.Severity != events.SeverityError || !strings.HasPrefix(e.Message, "Failed to decode telemetry") {
		t.Errorf("event = %+v", e)
	}

	// The next message for the device is unaffected.
	payload := encode(t, "SanitizerTelemetry", map[string]protoreflect.Value{"rssi": protoreflect.ValueOfInt32(-1)})
	if err := f.router.Handle("async/pool/SN1/dt", payload); err != nil {
		t.Fatalf("Handle() after failure error = %v", err)
	}
	if _, ok := f.registry.Telemetry("SN1"); !ok {
		t.Error("telemetry not recorded after a previous failure")
	}
}

// ============================================================================
// Command responses and device errors
// ============================================================================

func TestRouter_CommandResponse(t *testing.T) {
	f := newFixture(t)
	f.announce(t, "SN1", "Sanitizer-X")

	m := dynamicpb.NewMessage(schematest.Message("SanitizerCommandResponse"))
	grp := m.Mutable(m.Descriptor().Fields().ByName("sanitizer")).Message()
	resp := grp.Mutable(grp.Descriptor().Fields().ByName("set_sanitizer_output_percentage")).Message()
	resp.Set(resp.Descriptor().Fields().ByName("percentage"), protoreflect.ValueOfInt32(40))
	payload, err := proto.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if err := f.router.Handle("async/Sanitizer-X/SN1/cmdr", payload); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	want := "--- Command Response ---\nSanitizer:\n  Set Sanitizer Output Percentage:\n    Percentage: 40"
	if e := f.events.last(t); e.Message != want {
		t.Errorf("event = %q, want %q", e.Message, want)
	}
}

func TestRouter_CommandResponseEmpty(t *testing.T) {
	f := newFixture(t)
	f.announce(t, "SN1", "Sanitizer-X")

	if err := f.router.Handle("async/Sanitizer-X/SN1/cmdr", nil); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if e := f.events.last(t); e.Message != "--- Command Response ---\n(No fields in response)" {
		t.Errorf("event = %q", e.Message)
	}
}

func TestRouter_CommandResponseHexFallback(t *testing.T) {
	f := newFixture(t)
	f.announce(t, "SN1", "Sanitizer-X")

	if err := f.router.Handle("async/Sanitizer-X/SN1/cmdr", []byte{0xde, 0xad, 0xbe, 0xef}); err != nil {
		t.Fatalf("Handle() error = %v, want nil (hex fallback)", err)
	}

	e := f.events.last(t)
	want := "--- Command Response (Unknown/Parse Error) ---\ndeadbeef"
	if e.Message != want {
		t.Errorf("event = %q, want %q", e.Message, want)
	}
}

func TestRouter_DeviceError(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{
			name: "decoded",
			payload: encode(t, "DeviceError", map[string]protoreflect.Value{
				"code":    protoreflect.ValueOfInt32(3),
				"message": protoreflect.ValueOfString("cell hot"),
			}),
			want: "--- Device Error ---\ncode: 3\nmessage: cell hot",
		},
		{name: "text", payload: []byte("over temp"), want: "--- Device Error ---\nover temp"},
		{name: "binary", payload: []byte{0xff, 0x00}, want: "--- Device Error ---\nff00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.router.Handle("async/pool/SN1/error", tt.payload); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			e := f.events.last(t)
			if e.Message != tt.want || e.Severity != events.SeverityError {
				t.Errorf("event = %+v, want %q", e, tt.want)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() with no registry should fail")
	}
}
