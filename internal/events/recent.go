package events

import "sync"

// DefaultRecentSize is the per-device history kept by Recent.
const DefaultRecentSize = 200

// Recent keeps the latest events for each device in a bounded ring.
type Recent struct {
	mu       sync.Mutex
	size     int
	bySerial map[string]*ring
}

type ring struct {
	buf   []Event
	next  int
	count int
}

// NewRecent creates a Recent holding up to size events per device.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = DefaultRecentSize
	}
	return &Recent{size: size, bySerial: make(map[string]*ring)}
}

// OnLogEvent records e.
func (r *Recent) OnLogEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rg, ok := r.bySerial[e.Serial]
	if !ok {
		rg = &ring{buf: make([]Event, r.size)}
		r.bySerial[e.Serial] = rg
	}
	rg.buf[rg.next] = e
	rg.next = (rg.next + 1) % len(rg.buf)
	if rg.count < len(rg.buf) {
		rg.count++
	}
}

// Entries returns up to limit of the newest events for serial, oldest
// first. A limit of zero or less returns everything held.
func (r *Recent) Entries(serial string, limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	rg, ok := r.bySerial[serial]
	if !ok {
		return nil
	}

	n := rg.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	start := (rg.next - n + len(rg.buf)) % len(rg.buf)
	for i := 0; i < n; i++ {
		out = append(out, rg.buf[(start+i)%len(rg.buf)])
	}
	return out
}
