package device

import (
	"sort"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry owns all per-device session state, keyed by serial: identity,
// last info snapshot, last telemetry snapshot and runtime config.
//
// Each map has its own lock so unrelated maps never contend. Every
// mutation signals Changes.
//
// All public methods are thread-safe.
type Registry struct {
	classifier *Classifier
	defaults   Defaults
	logger     Logger
	now        func() time.Time

	identMu    sync.RWMutex
	identities map[string]Identity

	infoMu sync.RWMutex
	info   map[string]Snapshot

	telemetryMu sync.RWMutex
	telemetry   map[string]Snapshot

	configMu sync.RWMutex
	configs  map[string]*RuntimeConfig

	changed chan struct{}
}

// NewRegistry creates an empty registry. A nil classifier uses DefaultRules.
func NewRegistry(classifier *Classifier, defaults Defaults) *Registry {
	if classifier == nil {
		classifier = NewClassifier(DefaultRules())
	}
	return &Registry{
		classifier: classifier,
		defaults:   defaults,
		logger:     noopLogger{},
		now:        time.Now,
		identities: make(map[string]Identity),
		info:       make(map[string]Snapshot),
		telemetry:  make(map[string]Snapshot),
		configs:    make(map[string]*RuntimeConfig),
		changed:    make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Changes returns the change notification channel. Rapid mutations
// collapse into a single pending signal, so a slow consumer sees at most
// one queued notification. Intended for a single consumer.
func (r *Registry) Changes() <-chan struct{} {
	return r.changed
}

func (r *Registry) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// RecordAnnouncement upserts the identity for id.Serial, creating the
// runtime config with defaults if this serial has none yet.
//
// The config is created before the identity is published so a reader that
// sees the new identity always finds its config.
func (r *Registry) RecordAnnouncement(id Identity) {
	if id.SeenAt.IsZero() {
		id.SeenAt = r.now()
	}

	r.configMu.Lock()
	if _, ok := r.configs[id.Serial]; !ok {
		r.configs[id.Serial] = &RuntimeConfig{
			Level:           r.defaults.Level,
			IntervalSeconds: r.defaults.IntervalSeconds,
		}
	}
	r.configMu.Unlock()

	r.identMu.Lock()
	_, existed := r.identities[id.Serial]
	r.identities[id.Serial] = id
	r.identMu.Unlock()

	if !existed {
		r.logger.Info("device announced", "serial", id.Serial, "category", id.Category)
	}
	r.notify()
}

// RecordInfo stores the latest info payload for serial. A serial with no
// identity is stored anyway; no identity is created.
func (r *Registry) RecordInfo(serial string, msg proto.Message) {
	r.infoMu.Lock()
	r.info[serial] = Snapshot{Message: msg, ReceivedAt: r.now()}
	r.infoMu.Unlock()
	r.notify()
}

// RecordTelemetry stores the latest telemetry payload for serial. Like
// RecordInfo it never creates an identity.
func (r *Registry) RecordTelemetry(serial string, msg proto.Message) {
	r.telemetryMu.Lock()
	r.telemetry[serial] = Snapshot{Message: msg, ReceivedAt: r.now()}
	r.telemetryMu.Unlock()
	r.notify()
}

// Identity returns the identity for serial and whether one exists.
func (r *Registry) Identity(serial string) (Identity, bool) {
	r.identMu.RLock()
	defer r.identMu.RUnlock()
	id, ok := r.identities[serial]
	return id, ok
}

// ResolveFamily classifies the current category of serial. The bool is
// false when the serial has never announced.
func (r *Registry) ResolveFamily(serial string) (Family, bool) {
	id, ok := r.Identity(serial)
	if !ok {
		return FamilyUnknown, false
	}
	return r.classifier.Classify(id.Category), true
}

// Info returns the latest info snapshot and whether one has been received.
func (r *Registry) Info(serial string) (Snapshot, bool) {
	r.infoMu.RLock()
	defer r.infoMu.RUnlock()
	s, ok := r.info[serial]
	return s, ok
}

// Telemetry returns the latest telemetry snapshot and whether one has been received.
func (r *Registry) Telemetry(serial string) (Snapshot, bool) {
	r.telemetryMu.RLock()
	defer r.telemetryMu.RUnlock()
	s, ok := r.telemetry[serial]
	return s, ok
}

// RuntimeConfig returns a copy of the runtime config for serial, or the
// defaults if the serial has none.
func (r *Registry) RuntimeConfig(serial string) RuntimeConfig {
	r.configMu.RLock()
	defer r.configMu.RUnlock()
	if c, ok := r.configs[serial]; ok {
		return *c
	}
	return RuntimeConfig{Level: r.defaults.Level, IntervalSeconds: r.defaults.IntervalSeconds}
}

// UpdateLevel sets the sender level. It reports false if serial has no
// runtime config (never announced).
func (r *Registry) UpdateLevel(serial string, level int) bool {
	return r.mutateConfig(serial, func(c *RuntimeConfig) bool {
		c.Level = level
		return true
	})
}

// UpdateInterval sets the sender interval in seconds. Values below one
// second are rejected.
func (r *Registry) UpdateInterval(serial string, seconds int) bool {
	if seconds < 1 {
		return false
	}
	return r.mutateConfig(serial, func(c *RuntimeConfig) bool {
		c.IntervalSeconds = seconds
		return true
	})
}

// SetSending records the sender state for serial. Setting sending to true
// requires a task; setting it to false drops the task reference.
func (r *Registry) SetSending(serial string, sending bool, task Task) bool {
	if sending && task == nil {
		return false
	}
	return r.mutateConfig(serial, func(c *RuntimeConfig) bool {
		c.Sending = sending
		if sending {
			c.Task = task
		} else {
			c.Task = nil
		}
		return true
	})
}

func (r *Registry) mutateConfig(serial string, fn func(*RuntimeConfig) bool) bool {
	r.configMu.Lock()
	c, ok := r.configs[serial]
	if ok {
		ok = fn(c)
	}
	r.configMu.Unlock()

	if ok {
		r.notify()
	}
	return ok
}

// Devices returns all announced identities sorted by serial.
func (r *Registry) Devices() []Identity {
	r.identMu.RLock()
	out := make([]Identity, 0, len(r.identities))
	for _, id := range r.identities {
		out = append(out, id)
	}
	r.identMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// Stats summarises registry contents.
type Stats struct {
	Devices   int            `json:"devices"`
	Sending   int            `json:"sending"`
	ByFamily  map[string]int `json:"by_family"`
	Info      int            `json:"info_snapshots"`
	Telemetry int            `json:"telemetry_snapshots"`
}

// Stats returns counts across the registry.
func (r *Registry) Stats() Stats {
	s := Stats{ByFamily: make(map[string]int)}

	r.identMu.RLock()
	s.Devices = len(r.identities)
	for _, id := range r.identities {
		s.ByFamily[r.classifier.Classify(id.Category).String()]++
	}
	r.identMu.RUnlock()

	r.configMu.RLock()
	for _, c := range r.configs {
		if c.Sending {
			s.Sending++
		}
	}
	r.configMu.RUnlock()

	r.infoMu.RLock()
	s.Info = len(r.info)
	r.infoMu.RUnlock()

	r.telemetryMu.RLock()
	s.Telemetry = len(r.telemetry)
	r.telemetryMu.RUnlock()

	return s
}
