package router

import "strings"

// Kind is the last topic segment: what the payload is.
type Kind string

// Message kinds. Every kind except KindRequest arrives on an async topic.
const (
	KindAnnouncement    Kind = "anc"
	KindInfo            Kind = "info"
	KindTelemetry       Kind = "dt"
	KindCommandResponse Kind = "cmdr"
	KindError           Kind = "error"
	KindRequest         Kind = "req"
)

// Topic prefixes.
const (
	PrefixAsync   = "async"
	PrefixCommand = "cmd"
)

// inbound lists the kinds the router decodes, in subscription order.
var inbound = []Kind{KindAnnouncement, KindInfo, KindTelemetry, KindError, KindCommandResponse}

// Inbound reports whether k is a kind the router handles.
func (k Kind) Inbound() bool {
	for _, in := range inbound {
		if k == in {
			return true
		}
	}
	return false
}

// Topic is a parsed device topic: <prefix>/<category>/<serial>/<kind>.
type Topic struct {
	Prefix   string
	Category string
	Serial   string
	Kind     Kind
}

// ParseTopic splits a topic into its parts. Topics with fewer than four
// segments are rejected. Extra trailing segments are ignored.
func ParseTopic(topic string) (Topic, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return Topic{}, false
	}
	return Topic{
		Prefix:   parts[0],
		Category: parts[1],
		Serial:   parts[2],
		Kind:     Kind(parts[3]),
	}, true
}

// String rebuilds the topic.
func (t Topic) String() string {
	return t.Prefix + "/" + t.Category + "/" + t.Serial + "/" + string(t.Kind)
}

// CommandTopic returns the topic commands for a device are published on.
func CommandTopic(category, serial string) string {
	return Topic{Prefix: PrefixCommand, Category: category, Serial: serial, Kind: KindRequest}.String()
}

// AsyncTopic returns the topic a device publishes kind on.
func AsyncTopic(category, serial string, kind Kind) string {
	return Topic{Prefix: PrefixAsync, Category: category, Serial: serial, Kind: kind}.String()
}

// Subscriptions returns the wildcard patterns covering every inbound kind.
func Subscriptions() []string {
	out := make([]string, 0, len(inbound))
	for _, k := range inbound {
		out = append(out, AsyncTopic("+", "+", k))
	}
	return out
}
