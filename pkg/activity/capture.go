package activity

import (
	"context"
	"sync"
)

// CaptureHook records stash lifecycle events for assertions in tests and
// examples. When Verbs is set only those verbs are recorded.
type CaptureHook struct {
	Events []Event
	Err    error
	Verbs  []string
	mu     sync.Mutex
}

// Notify records the event and returns any configured error.
func (h *CaptureHook) Notify(_ context.Context, event Event) error {
	normalized := NormalizeEvent(event)
	h.mu.Lock()
	defer h.mu.Unlock()
	if allowed(verbSet(h.Verbs), normalized.Verb) {
		h.Events = append(h.Events, normalized)
	}
	return h.Err
}

// Snapshot returns a copy of the recorded events. Use it when events arrive
// from other goroutines.
func (h *CaptureHook) Snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.Events...)
}

// ByVerb returns the recorded events with verb, in arrival order.
func (h *CaptureHook) ByVerb(verb string) []Event {
	var out []Event
	for _, event := range h.Snapshot() {
		if event.Verb == verb {
			out = append(out, event)
		}
	}
	return out
}

// ObjectIDs returns the object ids of the recorded events, e.g. "local/prefs".
func (h *CaptureHook) ObjectIDs() []string {
	events := h.Snapshot()
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.ObjectID)
	}
	return out
}
