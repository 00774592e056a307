package sender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/poolfleet/internal/command"
	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/events"
	"github.com/nerrad567/poolfleet/internal/schema"
	"github.com/nerrad567/poolfleet/internal/schema/schematest"
)

const waitTimeout = 2 * time.Second

// fakeClock reports each requested sleep and blocks until woken or cancelled.
type fakeClock struct {
	sleeps chan time.Duration
	wake   chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{sleeps: make(chan time.Duration, 16), wake: make(chan struct{})}
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps <- d
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.wake:
		return nil
	}
}

func (c *fakeClock) nextSleep(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.sleeps:
		return d
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for sleep")
		return 0
	}
}

func (c *fakeClock) advance(t *testing.T) {
	t.Helper()
	select {
	case c.wake <- struct{}{}:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waking sleeper")
	}
}

// fakeSender records levels and fails the first failN calls. Levels above
// maxLevel, when set, are out of range.
type fakeSender struct {
	mu       sync.Mutex
	failN    int
	calls    int
	maxLevel int
	onSend   func(calls int)
	sent     chan int
}

func (s *fakeSender) CheckLevel(_ string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxLevel > 0 && level > s.maxLevel {
		return command.ErrLevelOutOfRange
	}
	return nil
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan int, 16)}
}

func (s *fakeSender) SendLevel(serial string, level int) (*command.Envelope, error) {
	s.mu.Lock()
	s.calls++
	calls := s.calls
	fail := calls <= s.failN
	hook := s.onSend
	s.mu.Unlock()

	if hook != nil {
		hook(calls)
	}
	if fail {
		return nil, errors.New("broker unavailable")
	}
	s.sent <- level
	return &command.Envelope{ID: "txn"}, nil
}

func (s *fakeSender) next(t *testing.T) int {
	t.Helper()
	select {
	case l := <-s.sent:
		return l
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for send")
		return 0
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Emit(serial, message string, severity events.Severity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, events.Event{Serial: serial, Message: message, Severity: severity})
}

func (l *eventLog) find(message string) (events.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Message == message {
			return e, true
		}
	}
	return events.Event{}, false
}

type fixture struct {
	manager  *Manager
	registry *device.Registry
	sender   *fakeSender
	clock    *fakeClock
	events   *eventLog
}

func newFixture(t *testing.T, retry RetryPolicy) *fixture {
	t.Helper()
	f := &fixture{
		registry: device.NewRegistry(nil, device.DefaultRuntime),
		sender:   newFakeSender(),
		clock:    newFakeClock(),
		events:   &eventLog{},
	}
	f.registry.RecordAnnouncement(device.Identity{Serial: "SN1", Category: "Sanitizer-X"})

	m, err := NewManager(Options{
		Registry: f.registry,
		Sender:   f.sender,
		Events:   f.events,
		Clock:    f.clock,
		Retry:    retry,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	f.manager = m
	t.Cleanup(m.StopAll)
	return f
}

// ============================================================================
// Start / Stop
// ============================================================================

func TestManager_SendsLevelEveryInterval(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.manager.Start("SN1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := f.sender.next(t); got != 5 {
		t.Errorf("first level = %d, want 5", got)
	}
	if got := f.clock.nextSleep(t); got != 4*time.Second {
		t.Errorf("sleep = %v, want 4s", got)
	}

	f.clock.advance(t)
	if got := f.sender.next(t); got != 5 {
		t.Errorf("second level = %d, want 5", got)
	}
	f.clock.nextSleep(t)

	if _, ok := f.events.find("Background sender: Set power level 5"); !ok {
		t.Error("missing per-send event")
	}
	e, ok := f.events.find("Background sender started.")
	if !ok || e.Severity != events.SeverityNotice {
		t.Errorf("start event = %+v, %v", e, ok)
	}
}

func TestManager_StartMarksSending(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.manager.Start("SN1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.sender.next(t)

	rc := f.registry.RuntimeConfig("SN1")
	if !rc.Sending || rc.Task == nil {
		t.Fatalf("runtime config = %+v, want sending with task", rc)
	}
	if !f.manager.Running("SN1") {
		t.Error("Running() = false")
	}

	f.manager.Stop("SN1")

	rc = f.registry.RuntimeConfig("SN1")
	if rc.Sending || rc.Task != nil {
		t.Errorf("runtime config after stop = %+v", rc)
	}
	if f.manager.Running("SN1") {
		t.Error("Running() after stop = true")
	}
}

func TestManager_StopInterruptsSleep(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.manager.Start("SN1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.sender.next(t)
	f.clock.nextSleep(t)

	// The worker is now parked in Sleep and never woken.
	done := make(chan struct{})
	go func() {
		f.manager.Stop("SN1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Stop() did not return while worker was sleeping")
	}

	if _, ok := f.events.find("Background sender stopped."); !ok {
		t.Error("missing stop event")
	}
	select {
	case l := <-f.sender.sent:
		t.Errorf("send after stop: level %d", l)
	default:
	}
}

func TestManager_DoubleStartKeepsOneWorker(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 2; i++ {
		if err := f.manager.Start("SN1"); err != nil {
			t.Fatalf("Start() #%d error = %v", i+1, err)
		}
	}

	f.sender.next(t)
	f.clock.nextSleep(t)

	select {
	case <-f.sender.sent:
		t.Fatal("second worker is sending")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_StopIdleIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.manager.Stop("SN1")
	f.manager.Stop("unknown")

	if _, ok := f.events.find("Background sender stopped."); ok {
		t.Error("stop event emitted for idle device")
	}
}

func TestManager_RestartAfterStop(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.manager.Start("SN1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.sender.next(t)
	f.clock.nextSleep(t)
	f.manager.Stop("SN1")

	if err := f.manager.Start("SN1"); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	f.sender.next(t)
	if !f.manager.Running("SN1") {
		t.Error("Running() = false after restart")
	}
}

func TestManager_StartUnknownDevice(t *testing.T) {
	f := newFixture(t, nil)

	err := f.manager.Start("ghost")
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("Start() error = %v, want ErrDeviceNotFound", err)
	}
	if f.manager.Running("ghost") {
		t.Error("Running() = true for unknown device")
	}
}

func TestManager_IntervalChangeAppliesToNextSleep(t *testing.T) {
	f := newFixture(t, nil)
	f.sender.onSend = func(calls int) {
		if calls == 1 {
			f.registry.UpdateInterval("SN1", 9)
		}
	}

	if err := f.manager.Start("SN1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.sender.next(t)

	if got := f.clock.nextSleep(t); got != 9*time.Second {
		t.Errorf("sleep = %v, want 9s", got)
	}
}

func TestManager_LevelChangeAppliesToNextSend(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.manager.Start("SN1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.sender.next(t)
	f.clock.nextSleep(t)

	f.registry.UpdateLevel("SN1", 70)
	f.clock.advance(t)

	if got := f.sender.next(t); got != 70 {
		t.Errorf("level = %d, want 70", got)
	}
}

func TestManager_PublishFailureContinues(t *testing.T) {
	f := newFixture(t, nil)
	f.sender.failN = 1

	if err := f.manager.Start("SN1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The failed attempt is not retried; the loop sleeps the normal interval.
	if got := f.clock.nextSleep(t); got != 4*time.Second {
		t.Errorf("sleep = %v, want 4s", got)
	}
	e, ok := f.events.find("Background sender: publish failed: broker unavailable")
	if !ok || e.Severity != events.SeverityError {
		t.Errorf("failure event = %+v, %v", e, ok)
	}

	f.clock.advance(t)
	if got := f.sender.next(t); got != 5 {
		t.Errorf("level = %d, want 5", got)
	}
}

func TestManager_PublishFailureWithRetry(t *testing.T) {
	f := newFixture(t, Backoff{Initial: time.Second, Max: 8 * time.Second, MaxAttempts: 3})
	f.sender.failN = 1

	if err := f.manager.Start("SN1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := f.clock.nextSleep(t); got != time.Second {
		t.Errorf("retry delay = %v, want 1s", got)
	}
	f.clock.advance(t)

	if got := f.sender.next(t); got != 5 {
		t.Errorf("level = %d, want 5", got)
	}
	if got := f.clock.nextSleep(t); got != 4*time.Second {
		t.Errorf("sleep = %v, want 4s", got)
	}
}

// ============================================================================
// SetLevel / SetInterval
// ============================================================================

func TestManager_SetLevel(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr error
	}{
		{name: "integer", raw: "42", want: 42},
		{name: "padded", raw: " 7 ", want: 7},
		{name: "not a number", raw: "abc", want: 5, wantErr: ErrInvalidLevel},
		{name: "fractional", raw: "4.5", want: 5, wantErr: ErrInvalidLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			_, err := f.manager.SetLevel("SN1", tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetLevel() error = %v, want %v", err, tt.wantErr)
			}
			if got := f.registry.RuntimeConfig("SN1").Level; got != tt.want {
				t.Errorf("level = %d, want %d", got, tt.want)
			}

			if tt.wantErr != nil {
				e, ok := f.events.find(`Invalid level value: "` + tt.raw + `"`)
				if !ok || e.Severity != events.SeverityError {
					t.Errorf("invalid level event = %+v, %v", e, ok)
				}
				return
			}
			if got := f.sender.next(t); got != tt.want {
				t.Errorf("sent level = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestManager_SetLevelOutOfRange(t *testing.T) {
	f := newFixture(t, nil)
	f.sender.maxLevel = 100

	_, err := f.manager.SetLevel("SN1", "101")
	if !errors.Is(err, ErrInvalidLevel) || !errors.Is(err, command.ErrLevelOutOfRange) {
		t.Fatalf("SetLevel() error = %v, want ErrInvalidLevel wrapping ErrLevelOutOfRange", err)
	}
	if got := f.registry.RuntimeConfig("SN1").Level; got != 5 {
		t.Errorf("level = %d, want unchanged 5", got)
	}
	if e, ok := f.events.find(`Invalid level value: "101"`); !ok || e.Severity != events.SeverityError {
		t.Errorf("invalid level event = %+v, %v", e, ok)
	}
	f.sender.mu.Lock()
	calls := f.sender.calls
	f.sender.mu.Unlock()
	if calls != 0 {
		t.Errorf("SendLevel called %d times for rejected level", calls)
	}
}

func TestManager_SetLevelUnknownDevice(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.manager.SetLevel("ghost", "10"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("SetLevel() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestManager_SetInterval(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.manager.SetInterval("SN1", 0); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("SetInterval(0) error = %v, want ErrInvalidInterval", err)
	}
	if err := f.manager.SetInterval("ghost", 3); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("SetInterval(ghost) error = %v, want ErrDeviceNotFound", err)
	}
	if err := f.manager.SetInterval("SN1", 12); err != nil {
		t.Fatalf("SetInterval() error = %v", err)
	}
	if got := f.registry.RuntimeConfig("SN1").Interval(); got != 12*time.Second {
		t.Errorf("interval = %v, want 12s", got)
	}
}

// ============================================================================
// Dispatcher integration
// ============================================================================

type publishRecord struct {
	topic   string
	payload []byte
}

type chanPublisher chan publishRecord

func (p chanPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p <- publishRecord{topic: topic, payload: payload}
	return nil
}

func TestManager_PublishesThroughDispatcher(t *testing.T) {
	cat, err := schema.NewCatalog(schematest.Files(), schematest.Config())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	reg := device.NewRegistry(nil, device.DefaultRuntime)
	reg.RecordAnnouncement(device.Identity{Serial: "SN1", Category: "Sanitizer-X"})

	pub := make(chanPublisher, 4)
	d, err := command.NewDispatcher(command.DispatcherOptions{
		Builder:   command.NewBuilder("command_uuid"),
		Catalog:   cat,
		Devices:   reg,
		Publisher: pub,
		Level: command.LevelCommand{
			Group:     "sanitizer",
			Name:      "set_sanitizer_output_percentage",
			Parameter: "target_percentage",
		},
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	m, err := NewManager(Options{Registry: reg, Sender: d, Clock: newFakeClock()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.StopAll()

	if err := m.Start("SN1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case rec := <-pub:
		if rec.topic != "cmd/Sanitizer-X/SN1/req" {
			t.Errorf("topic = %q", rec.topic)
		}
		if len(rec.payload) == 0 {
			t.Error("empty payload")
		}
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for publish")
	}
}

func TestManager_SetLevelRejectsWhatSchemaCannotHold(t *testing.T) {
	cat, err := schema.NewCatalog(schematest.Files(), schematest.Config())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	reg := device.NewRegistry(nil, device.DefaultRuntime)
	reg.RecordAnnouncement(device.Identity{Serial: "SN1", Category: "Sanitizer-X"})

	pub := make(chanPublisher, 4)
	d, err := command.NewDispatcher(command.DispatcherOptions{
		Builder:   command.NewBuilder("command_uuid"),
		Catalog:   cat,
		Devices:   reg,
		Publisher: pub,
		Level: command.LevelCommand{
			Group:     "sanitizer",
			Name:      "set_sanitizer_output_percentage",
			Parameter: "target_percentage",
		},
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	m, err := NewManager(Options{Registry: reg, Sender: d, Clock: newFakeClock()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if _, err := m.SetLevel("SN1", "9999999999"); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("SetLevel() error = %v, want ErrInvalidLevel", err)
	}
	if got := reg.RuntimeConfig("SN1").Level; got != 5 {
		t.Errorf("stored level = %d, want unchanged 5", got)
	}
	if len(pub) != 0 {
		t.Errorf("published %d commands for a level the schema cannot hold", len(pub))
	}
}

// ============================================================================
// Backoff
// ============================================================================

func TestBackoff_Next(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 3 * time.Second, MaxAttempts: 5}

	tests := []struct {
		attempt int
		want    time.Duration
		ok      bool
	}{
		{1, time.Second, true},
		{2, 2 * time.Second, true},
		{3, 3 * time.Second, true},
		{4, 3 * time.Second, true},
		{5, 0, false},
	}
	for _, tt := range tests {
		got, ok := b.Next(tt.attempt, nil)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Next(%d) = %v, %v, want %v, %v", tt.attempt, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBackoff_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		b       Backoff
		attempt int
		want    time.Duration
	}{
		{name: "zero initial uses floor", b: Backoff{MaxAttempts: 3}, attempt: 1, want: minRetryDelay},
		{name: "zero initial still doubles", b: Backoff{MaxAttempts: 3}, attempt: 2, want: 2 * minRetryDelay},
		{name: "initial above max is capped", b: Backoff{Initial: 10 * time.Second, Max: 2 * time.Second, MaxAttempts: 3}, attempt: 1, want: 2 * time.Second},
		{name: "no max keeps doubling", b: Backoff{Initial: time.Second, MaxAttempts: 10}, attempt: 4, want: 8 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.b.Next(tt.attempt, nil)
			if !ok || got != tt.want {
				t.Errorf("Next(%d) = %v, %v, want %v, true", tt.attempt, got, ok, tt.want)
			}
		})
	}
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(Options{}); err == nil {
		t.Error("NewManager() with no registry should fail")
	}
}
