package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/poolfleet/internal/events"
)

// DefaultBufferSize is the Sink queue length when none is configured.
const DefaultBufferSize = 256

// appendTimeout bounds a single database write.
const appendTimeout = 5 * time.Second

// Logger defines the logging interface used by the Sink.
type Logger interface {
	Warn(msg string, args ...any)
}

// Sink persists events off the emitting goroutine. Events are queued and
// written by one background writer; when the queue is full new events are
// dropped and counted rather than blocking the MQTT handler.
type Sink struct {
	repo    Repository
	logger  Logger
	queue   chan events.Event
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewSink starts the background writer. Call Close to drain and stop it.
func NewSink(repo Repository, size int, logger Logger) *Sink {
	if size <= 0 {
		size = DefaultBufferSize
	}
	s := &Sink{
		repo:   repo,
		logger: logger,
		queue:  make(chan events.Event, size),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// OnLogEvent queues e for persistence. It never blocks.
func (s *Sink) OnLogEvent(e events.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits until every queued event has
// been written. Safe to call more than once.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)

	for e := range s.queue {
		entry := Entry{
			Serial:    e.Serial,
			Severity:  e.Severity,
			Message:   e.Message,
			CreatedAt: e.Time,
		}

		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := s.repo.Append(ctx, &entry)
		cancel()

		if err != nil && s.logger != nil {
			s.logger.Warn("journal write failed", "serial", e.Serial, "error", err)
		}
	}
}
