package memory

import (
	"sync"

	parley "github.com/ostramo/parley"
)

// DefaultRecencyCapacity is the per-channel buffer size.
const DefaultRecencyCapacity = 20

// Recency holds the most recent message records per channel. It
// complements retrieval: search finds relevant history, the buffer
// guarantees the latest messages are present even before they are
// indexed well.
type Recency struct {
	mu       sync.Mutex
	capacity int
	channels map[string][]parley.Record
}

// NewRecency creates a recency buffer. capacity <= 0 selects the
// default of 20 records per channel.
func NewRecency(capacity int) *Recency {
	if capacity <= 0 {
		capacity = DefaultRecencyCapacity
	}
	return &Recency{
		capacity: capacity,
		channels: make(map[string][]parley.Record),
	}
}

// Record appends rec to the channel's buffer, evicting the oldest entry
// when the buffer is full.
func (r *Recency) Record(channel string, rec parley.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := append(r.channels[channel], rec)
	if len(buf) > r.capacity {
		buf = buf[len(buf)-r.capacity:]
	}
	r.channels[channel] = buf
}

// Recent returns a snapshot of the channel's buffer, oldest first.
func (r *Recency) Recent(channel string) []parley.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := r.channels[channel]
	out := make([]parley.Record, len(buf))
	copy(out, buf)
	return out
}

// Channels returns the channels with at least one buffered record.
func (r *Recency) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.channels))
	for ch := range r.channels {
		out = append(out, ch)
	}
	return out
}
