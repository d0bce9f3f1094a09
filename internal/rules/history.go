package rules

import (
	"github.com/lunaform/switchboard/internal/types"
)

// History is a bounded ring of a tenant's recent events, feeding compound
// and temporal predicates. Owned exclusively by the engine; not safe for
// unguarded concurrent use.
type History struct {
	events []types.Event
	head   int
	count  int
}

// NewHistory creates a ring with the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = types.HistoryCapacity
	}
	return &History{events: make([]types.Event, capacity)}
}

// Append records an event, evicting the oldest past capacity.
func (h *History) Append(ev types.Event) {
	h.events[h.head] = ev
	h.head = (h.head + 1) % len(h.events)
	if h.count < len(h.events) {
		h.count++
	}
}

// Len returns the number of retained events.
func (h *History) Len() int {
	return h.count
}

// Snapshot returns retained events oldest-first.
func (h *History) Snapshot() []types.Event {
	out := make([]types.Event, 0, h.count)
	start := h.head - h.count
	if start < 0 {
		start += len(h.events)
	}
	for i := 0; i < h.count; i++ {
		out = append(out, h.events[(start+i)%len(h.events)])
	}
	return out
}
