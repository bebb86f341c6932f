package engine

import (
	"github.com/google/uuid"
)

// instance is a scheduled snippet plus its mutable playhead. The playhead is
// owned exclusively by [Scheduler.Tick]; all access goes through the
// registry mutex.
type instance struct {
	Snippet

	id  uuid.UUID
	seq uint64 // monotonic schedule order, used for tie-breaking

	currentTime float64
}

// Status is a read-only view of an active snippet for introspection.
type Status struct {
	Snippet

	// ID identifies this particular scheduled instance; re-scheduling the
	// same name yields a new ID.
	ID uuid.UUID

	// CurrentTime is the playhead position in seconds at the time of the
	// call.
	CurrentTime float64
}

// Registry owns the set of active snippets. Schedule and Remove are safe to
// call from any goroutine — speech-boundary callbacks, pointer events,
// timers — and take effect atomically with respect to the frame tick: a call
// arriving mid-tick blocks until that tick's evaluation has fully completed.
//
// Create a Registry via [NewScheduler]; the scheduler and registry share one
// lock to guarantee that atomicity.
type Registry struct {
	mu     *stateMu
	events *hub

	active map[string]*instance
	seq    uint64
}

func newRegistry(mu *stateMu, events *hub) *Registry {
	return &Registry{
		mu:     mu,
		events: events,
		active: make(map[string]*instance),
	}
}

// Schedule validates sn, fills defaulted metadata, and activates it. If a
// snippet with the same name is already active it is removed first; this
// replacement path never fires the natural-completion notification.
//
// On success the accepted name is returned. Invalid snippets are rejected
// with a wrapped [ErrInvalidSnippet] and no partial state is registered.
func (r *Registry) Schedule(sn Snippet) (string, error) {
	if err := sn.Validate(); err != nil {
		return "", err
	}
	sn.applyDefaults()

	r.mu.Lock()
	r.seq++
	_, replaced := r.active[sn.Name]
	r.active[sn.Name] = &instance{
		Snippet: sn,
		id:      uuid.New(),
		seq:     r.seq,
	}
	r.mu.Unlock()

	kind := EventScheduled
	if replaced {
		kind = EventReplaced
	}
	r.events.publish(Event{Kind: kind, Name: sn.Name, Category: sn.Category})
	return sn.Name, nil
}

// Remove deactivates the named snippet immediately. Removing an unknown name
// is a no-op. Explicit removal never fires the natural-completion
// notification.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	inst, ok := r.active[name]
	if ok {
		delete(r.active, name)
	}
	r.mu.Unlock()

	if ok {
		r.events.publish(Event{Kind: EventRemoved, Name: name, Category: inst.Category})
	}
}

// Get returns a snapshot of the named active snippet.
func (r *Registry) Get(name string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.active[name]
	if !ok {
		return Status{}, false
	}
	return inst.status(), true
}

// List returns snapshots of all active snippets in unspecified order.
func (r *Registry) List() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.active))
	for _, inst := range r.active {
		out = append(out, inst.status())
	}
	return out
}

// Len reports the number of active snippets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// EvalChannel evaluates the named snippet's curve for channel at the current
// playhead, scaled by the snippet's intensity scale. Producers use this to
// read the value a snippet is presently contributing (e.g. the gaze module
// sampling the in-flight transition it is about to replace). Returns false
// when the snippet or channel is absent.
func (r *Registry) EvalChannel(name, channel string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.active[name]
	if !ok {
		return 0, false
	}
	c, ok := inst.Curves[channel]
	if !ok {
		return 0, false
	}
	return c.Eval(inst.playhead()) * inst.IntensityScale, true
}

func (i *instance) status() Status {
	return Status{Snippet: i.Snippet, ID: i.id, CurrentTime: i.currentTime}
}

// playhead returns the effective evaluation time: looping snippets evaluate
// modulo their duration so that a value at maxTime+ε equals the value at ε.
func (i *instance) playhead() float64 {
	if i.Loop && i.currentTime >= i.MaxTime {
		return mod(i.currentTime, i.MaxTime)
	}
	return i.currentTime
}
