package device

import (
	"time"

	"google.golang.org/protobuf/proto"
)

// Identity is what a device tells us about itself in its announcement.
// It is replaced wholesale on every announcement.
type Identity struct {
	Serial      string
	Category    string
	ProductName string

	// Announcement is the decoded announcement message. Treat as read-only.
	Announcement proto.Message
	SeenAt       time.Time
}

// Snapshot is the most recent decoded payload of one kind for a device.
// Message is shared between readers and must not be mutated.
type Snapshot struct {
	Message    proto.Message
	ReceivedAt time.Time
}

// Task is the handle of a running background sender.
type Task interface {
	// Done is closed once the task has fully exited.
	Done() <-chan struct{}
}

// RuntimeConfig is the mutable per-device record driving the background sender.
type RuntimeConfig struct {
	Level           int
	IntervalSeconds int
	Sending         bool

	// Task is non-nil if and only if Sending is true.
	Task Task
}

// Interval returns IntervalSeconds as a Duration.
func (c RuntimeConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Defaults seeds a RuntimeConfig created on first announcement.
type Defaults struct {
	Level           int
	IntervalSeconds int
}

// DefaultRuntime holds the built-in sender defaults: level 5 every 4 seconds.
var DefaultRuntime = Defaults{Level: 5, IntervalSeconds: 4}
