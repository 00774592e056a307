package sender

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/poolfleet/internal/command"
	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/events"
)

// Registry is the subset of device.Registry the manager uses.
type Registry interface {
	Identity(serial string) (device.Identity, bool)
	RuntimeConfig(serial string) device.RuntimeConfig
	UpdateLevel(serial string, level int) bool
	UpdateInterval(serial string, seconds int) bool
	SetSending(serial string, sending bool, task device.Task) bool
}

// LevelSender publishes the set-level command. *command.Dispatcher satisfies it.
type LevelSender interface {
	// CheckLevel reports whether level can be sent to serial at all.
	CheckLevel(serial string, level int) error
	SendLevel(serial string, level int) (*command.Envelope, error)
}

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Options configures a Manager.
type Options struct {
	Registry Registry
	Sender   LevelSender
	Events   events.Emitter
	Clock    Clock       // optional, defaults to wall time
	Retry    RetryPolicy // optional, defaults to no retry
	Logger   Logger      // optional
}

// Manager runs at most one background sender per device. Each sender
// repeatedly publishes the device's current level, sleeping for the
// device's current interval between sends.
type Manager struct {
	registry Registry
	sender   LevelSender
	events   events.Emitter
	clock    Clock
	retry    RetryPolicy
	logger   Logger

	mu          sync.Mutex
	workers     map[string]*worker
	transitions map[string]*sync.Mutex
}

// worker is the handle of one running sender. It satisfies device.Task.
type worker struct {
	serial string
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *worker) Done() <-chan struct{} { return w.done }

// NewManager validates opts and returns an idle Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil || opts.Sender == nil {
		return nil, errors.New("sender: registry and sender are required")
	}
	m := &Manager{
		registry:    opts.Registry,
		sender:      opts.Sender,
		events:      opts.Events,
		clock:       opts.Clock,
		retry:       opts.Retry,
		logger:      opts.Logger,
		workers:     make(map[string]*worker),
		transitions: make(map[string]*sync.Mutex),
	}
	if m.events == nil {
		m.events = events.Discard{}
	}
	if m.clock == nil {
		m.clock = realClock{}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m, nil
}

// transition returns the lock serialising Start and Stop for serial.
// Transitions for different serials never wait on each other.
func (m *Manager) transition(serial string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.transitions[serial]
	if !ok {
		l = &sync.Mutex{}
		m.transitions[serial] = l
	}
	return l
}

func (m *Manager) worker(serial string) *worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[serial]
}

// Running reports whether serial has an active sender.
func (m *Manager) Running(serial string) bool {
	return m.worker(serial) != nil
}

// Start launches the sender for serial. Starting a running sender is a
// no-op. The device must have announced.
func (m *Manager) Start(serial string) error {
	if _, ok := m.registry.Identity(serial); !ok {
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, serial)
	}

	lock := m.transition(serial)
	lock.Lock()
	defer lock.Unlock()

	if m.worker(serial) != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{serial: serial, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.workers[serial] = w
	m.mu.Unlock()

	m.registry.SetSending(serial, true, w)
	m.logger.Info("background sender started", "serial", serial)
	m.events.Emit(serial, "Background sender started.", events.SeverityNotice)

	go m.run(ctx, w)
	return nil
}

// Stop cancels the sender for serial and waits for it to exit. Stopping
// an idle device is a no-op. Cancellation interrupts the interval sleep,
// so Stop returns promptly.
func (m *Manager) Stop(serial string) {
	lock := m.transition(serial)
	lock.Lock()
	defer lock.Unlock()

	w := m.worker(serial)
	if w == nil {
		return
	}

	w.cancel()
	<-w.done

	m.mu.Lock()
	delete(m.workers, serial)
	m.mu.Unlock()

	m.registry.SetSending(serial, false, nil)
	m.logger.Info("background sender stopped", "serial", serial)
	m.events.Emit(serial, "Background sender stopped.", events.SeverityNotice)
}

// StopAll stops every running sender.
func (m *Manager) StopAll() {
	m.mu.Lock()
	serials := make([]string, 0, len(m.workers))
	for s := range m.workers {
		serials = append(serials, s)
	}
	m.mu.Unlock()

	for _, s := range serials {
		m.Stop(s)
	}
}

func (m *Manager) run(ctx context.Context, w *worker) {
	defer close(w.done)

	for {
		level := m.registry.RuntimeConfig(w.serial).Level
		m.publish(ctx, w.serial, level)

		// Read after publishing so a change made meanwhile applies to this sleep.
		interval := m.registry.RuntimeConfig(w.serial).Interval()
		if err := m.clock.Sleep(ctx, interval); err != nil {
			return
		}
	}
}

func (m *Manager) publish(ctx context.Context, serial string, level int) {
	for attempt := 1; ; attempt++ {
		_, err := m.sender.SendLevel(serial, level)
		if err == nil {
			m.events.Emit(serial, fmt.Sprintf("Background sender: Set power level %d", level), events.SeverityNotice)
			return
		}

		m.logger.Warn("background send failed", "serial", serial, "attempt", attempt, "error", err)

		if m.retry == nil {
			m.events.Emit(serial, fmt.Sprintf("Background sender: publish failed: %v", err), events.SeverityError)
			return
		}
		delay, ok := m.retry.Next(attempt, err)
		if !ok {
			m.events.Emit(serial, fmt.Sprintf("Background sender: publish failed after %d attempts: %v", attempt, err), events.SeverityError)
			return
		}
		if m.clock.Sleep(ctx, delay) != nil {
			return
		}
	}
}

// SetLevel parses raw as the new level for serial, stores it and sends it
// once immediately. Unlike command parameters, a level that is not an
// integer, or that the device's level field cannot hold, is rejected before
// the runtime config changes.
func (m *Manager) SetLevel(serial, raw string) (int, error) {
	level, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		m.events.Emit(serial, fmt.Sprintf("Invalid level value: %q", raw), events.SeverityError)
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, raw)
	}
	if _, ok := m.registry.Identity(serial); !ok {
		return 0, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, serial)
	}

	if err := m.sender.CheckLevel(serial, level); err != nil {
		if errors.Is(err, command.ErrLevelOutOfRange) {
			m.events.Emit(serial, fmt.Sprintf("Invalid level value: %q", raw), events.SeverityError)
			return 0, fmt.Errorf("%w: %w", ErrInvalidLevel, err)
		}
		m.events.Emit(serial, fmt.Sprintf("Failed to send level %d: %v", level, err), events.SeverityError)
		return 0, err
	}

	if !m.registry.UpdateLevel(serial, level) {
		return 0, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, serial)
	}

	if _, err := m.sender.SendLevel(serial, level); err != nil {
		m.events.Emit(serial, fmt.Sprintf("Failed to send level %d: %v", level, err), events.SeverityError)
		return level, err
	}

	m.events.Emit(serial, fmt.Sprintf("Set power level to %d", level), events.SeverityNotice)
	return level, nil
}

// SetInterval changes the interval used from the sender's next cycle.
func (m *Manager) SetInterval(serial string, seconds int) error {
	if seconds < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, seconds)
	}
	if !m.registry.UpdateInterval(serial, seconds) {
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, serial)
	}
	m.events.Emit(serial, fmt.Sprintf("Background sender interval set to %ds", seconds), events.SeverityNotice)
	return nil
}
