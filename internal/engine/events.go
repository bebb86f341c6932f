package engine

import "sync"

// EventKind classifies a snippet lifecycle transition.
type EventKind string

const (
	// EventScheduled fires when a snippet is accepted under a fresh name.
	EventScheduled EventKind = "scheduled"

	// EventReplaced fires when scheduling superseded a prior instance of the
	// same name. The replaced instance never receives EventEnded.
	EventReplaced EventKind = "replaced"

	// EventRemoved fires when a snippet is explicitly removed.
	EventRemoved EventKind = "removed"

	// EventEnded fires when a non-looping snippet exhausts its timeline.
	EventEnded EventKind = "ended"
)

// Event describes one meaningful snippet state transition. Events fire only
// on transitions, never per tick, so subscriber volume stays bounded.
type Event struct {
	Kind     EventKind
	Name     string
	Category string
}

// hub fans out lifecycle events to subscribers. Callbacks run synchronously
// on the goroutine that produced the transition, outside the engine lock.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func newHub() *hub {
	return &hub{subs: make(map[int]func(Event))}
}

// subscribe registers fn and returns an unsubscribe func. Unsubscribing
// twice is harmless.
func (h *hub) subscribe(fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *hub) publish(evs ...Event) {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, ev := range evs {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
