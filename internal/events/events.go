package events

import (
	"fmt"
	"sync"
	"time"
)

// Severity grades a device log event.
type Severity string

// Severities, mildest first.
const (
	SeverityInfo    Severity = "info"
	SeverityNotice  Severity = "notice"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityNotice, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Event is one user-visible occurrence for a device: a decoded payload,
// a decode failure, a command sent, a sender starting or stopping.
type Event struct {
	Serial   string    `json:"serial"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	Time     time.Time `json:"time"`
}

// Emitter is the notification hook components report through.
type Emitter interface {
	Emit(serial, message string, severity Severity)
}

// Sink receives every emitted event.
type Sink interface {
	OnLogEvent(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// OnLogEvent calls f(e).
func (f SinkFunc) OnLogEvent(e Event) { f(e) }

// Discard is an Emitter that drops everything.
type Discard struct{}

// Emit does nothing.
func (Discard) Emit(string, string, Severity) {}

// Bus fans events out to its sinks synchronously, in subscription order.
// A panicking sink is isolated from the others and from the emitter, and
// the panic is logged when the Bus has a logger.
type Bus struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger Logger
	now    func() time.Time
}

// NewBus creates a Bus with no sinks.
func NewBus() *Bus {
	return &Bus{now: time.Now}
}

// SetLogger sets the logger for sink panics.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Subscribe adds s to the bus.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Emit stamps and delivers an event to every sink.
func (b *Bus) Emit(serial, message string, severity Severity) {
	if !severity.Valid() {
		severity = SeverityInfo
	}
	e := Event{Serial: serial, Message: message, Severity: severity, Time: b.now()}

	b.mu.RLock()
	sinks, logger := b.sinks, b.logger
	b.mu.RUnlock()

	for _, s := range sinks {
		deliver(s, e, logger)
	}
}

func deliver(s Sink, e Event, logger Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("event sink panic recovered",
				"sink", fmt.Sprintf("%T", s),
				"serial", e.Serial,
				"panic", r,
			)
		}
	}()
	s.OnLogEvent(e)
}
