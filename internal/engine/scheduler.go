package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// stateMu serialises all registry mutation against tick evaluation. One lock
// instance is shared by the [Scheduler] and its [Registry].
type stateMu = sync.Mutex

// TickStats summarises one completed tick for observability hooks.
type TickStats struct {
	// Active is the number of snippets evaluated this tick.
	Active int

	// Channels is the number of logical channels that had contributors.
	Channels int

	// Ended is the number of snippets that expired naturally this tick.
	Ended int

	// Duration is the wall time the tick took.
	Duration time.Duration
}

// Scheduler is the frame driver: it advances snippet playheads, blends
// contributions per channel, maps them to physical outputs, and dispatches
// the results to the host.
//
// The scheduler has no internal clock — it is advanced exclusively by the
// external render loop calling [Scheduler.Tick] with the elapsed seconds
// since the previous tick. It is constructed with an injected [Host]; there
// is no ambient global instance.
type Scheduler struct {
	mu  stateMu
	reg *Registry

	host    Host
	blender Blender
	mapper  *Mapper
	axes    []Axis

	events      *hub
	diagnostics func(outputID string, err error)
	stats       func(TickStats)
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithBlender swaps the per-channel combination rule. The default is
// [PriorityComposite] with MaxIntensity 1.
func WithBlender(b Blender) Option {
	return func(s *Scheduler) {
		if b != nil {
			s.blender = b
		}
	}
}

// WithMapper sets the composite output mapper. The default mapper passes
// every channel through unchanged.
func WithMapper(m *Mapper) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.mapper = m
		}
	}
}

// WithAxes registers bidirectional continuum axes. When the host implements
// [AxisSetter], both polarity half-channels of each axis are folded into one
// signed SetAxis call per tick.
func WithAxes(axes ...Axis) Option {
	return func(s *Scheduler) {
		s.axes = append(s.axes, axes...)
	}
}

// WithDiagnostics sets the sink for per-output dispatch failures. The
// default logs through slog. A failing output never aborts the tick or
// hides deliveries to other outputs.
func WithDiagnostics(fn func(outputID string, err error)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.diagnostics = fn
		}
	}
}

// WithTickStats registers a hook receiving a [TickStats] after every tick.
// Used to feed metrics without the engine depending on an exporter.
func WithTickStats(fn func(TickStats)) Option {
	return func(s *Scheduler) {
		s.stats = fn
	}
}

// NewScheduler creates a scheduler dispatching to host. host must not be
// nil; use [NopHost] to run headless.
func NewScheduler(host Host, opts ...Option) *Scheduler {
	s := &Scheduler{
		host:    host,
		blender: PriorityComposite{MaxIntensity: 1},
		mapper:  NewMapper(),
		events:  newHub(),
		diagnostics: func(outputID string, err error) {
			slog.Error("engine: output dispatch failed", "output", outputID, "err", err)
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.reg = newRegistry(&s.mu, s.events)
	return s
}

// Registry returns the snippet registry. Producers schedule and remove
// through it; they never touch blending internals.
func (s *Scheduler) Registry() *Registry { return s.reg }

// Mapper returns the composite output mapper for runtime weight adjustment.
func (s *Scheduler) Mapper() *Mapper { return s.mapper }

// Subscribe registers fn for snippet lifecycle events and returns an
// unsubscribe func. Events fire on meaningful transitions only, never per
// tick.
func (s *Scheduler) Subscribe(fn func(Event)) func() {
	return s.events.subscribe(fn)
}

// Tick advances the engine by delta seconds.
//
// All playheads advance first, then every touched channel is blended and
// dispatched from the same post-advance state — no output ever observes a
// mixture of pre-tick and post-tick playheads. Completed non-looping
// snippets are retired afterwards and their end notifications fire exactly
// once, after the tick's outputs are flushed.
func (s *Scheduler) Tick(delta float64) {
	start := time.Now()

	s.mu.Lock()

	// Advance every playhead.
	for _, inst := range s.reg.active {
		inst.currentTime += delta * inst.PlaybackRate
	}

	// Collect contributions per channel from the post-advance state.
	contribs := make(map[string][]Contribution)
	for _, inst := range s.reg.active {
		t := inst.playhead()
		for ch, curve := range inst.Curves {
			contribs[ch] = append(contribs[ch], Contribution{
				Priority: inst.Priority,
				Category: inst.Category,
				Seq:      inst.seq,
				Value:    curve.Eval(t) * inst.IntensityScale,
			})
		}
	}

	// Blend each channel.
	values := make(map[string]float64, len(contribs))
	for ch, cs := range contribs {
		values[ch] = s.blender.Blend(ch, cs)
	}

	// Retire: wrap loops, collect natural expiries.
	var ended []string
	var endedCats []string
	for name, inst := range s.reg.active {
		if inst.currentTime < inst.MaxTime {
			continue
		}
		if inst.Loop {
			inst.currentTime = mod(inst.currentTime, inst.MaxTime)
			continue
		}
		inst.currentTime = inst.MaxTime
		delete(s.reg.active, name)
		ended = append(ended, name)
		endedCats = append(endedCats, inst.Category)
	}

	active := len(s.reg.active) + len(ended)
	channels := len(values)
	s.mu.Unlock()

	// Flush outputs. Dispatch happens outside the lock: the values map is a
	// private snapshot, and a host that calls back into Schedule/Remove must
	// not deadlock.
	s.dispatch(values)

	// Completion notifications, exactly once per natural expiry.
	sort.Strings(ended)
	for i, name := range ended {
		s.host.SnippetEnded(name)
		s.events.publish(Event{Kind: EventEnded, Name: name, Category: endedCats[i]})
	}

	if s.stats != nil {
		s.stats(TickStats{
			Active:   active,
			Channels: channels,
			Ended:    len(ended),
			Duration: time.Since(start),
		})
	}
}

// dispatch sends blended channel values through the axis fast path where
// available, then the composite mapper, then the generic per-channel host
// call. Each individual output delivery is guarded so one failing channel
// cannot block the rest of the frame.
func (s *Scheduler) dispatch(values map[string]float64) {
	if setter, ok := s.host.(AxisSetter); ok {
		for _, ax := range s.axes {
			neg, hasNeg := values[ax.Neg]
			pos, hasPos := values[ax.Pos]
			if !hasNeg && !hasPos {
				continue
			}
			delete(values, ax.Neg)
			delete(values, ax.Pos)
			s.deliver(ax.Name, func() error { return setter.SetAxis(ax.Name, pos-neg) })
		}
	}

	channels := make([]string, 0, len(values))
	for ch := range values {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	for _, ch := range channels {
		for _, out := range s.mapper.Resolve(ch, values[ch]) {
			out := out
			s.deliver(out.ID, func() error { return s.host.ApplyChannel(out.ID, out.Value) })
		}
	}
}

// deliver runs one host call, converting panics and errors into diagnostics.
func (s *Scheduler) deliver(outputID string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.diagnostics(outputID, fmt.Errorf("engine: host panic: %v", rec))
		}
	}()
	if err := fn(); err != nil {
		s.diagnostics(outputID, err)
	}
}

// NudgeChannel asks the host for a one-shot eased transition on a channel,
// outside the curve system. Hosts without [ChannelTransitioner] degrade to
// an immediate ApplyChannel of the target value.
func (s *Scheduler) NudgeChannel(id string, target float64, d time.Duration) {
	if tr, ok := s.host.(ChannelTransitioner); ok {
		s.deliver(id, func() error { return tr.TransitionChannel(id, target, d) })
		return
	}
	s.deliver(id, func() error { return s.host.ApplyChannel(id, target) })
}

// NudgeAxis is the axis counterpart of [Scheduler.NudgeChannel]. It degrades
// in order: [AxisTransitioner], [AxisSetter], finally per-half-channel
// ApplyChannel through the registered axis definition.
func (s *Scheduler) NudgeAxis(name string, target float64, d time.Duration) {
	if tr, ok := s.host.(AxisTransitioner); ok {
		s.deliver(name, func() error { return tr.TransitionAxis(name, target, d) })
		return
	}
	if setter, ok := s.host.(AxisSetter); ok {
		s.deliver(name, func() error { return setter.SetAxis(name, target) })
		return
	}
	for _, ax := range s.axes {
		if ax.Name != name {
			continue
		}
		neg, pos := 0.0, 0.0
		if target < 0 {
			neg = -target
		} else {
			pos = target
		}
		s.deliver(ax.Neg, func() error { return s.host.ApplyChannel(ax.Neg, neg) })
		s.deliver(ax.Pos, func() error { return s.host.ApplyChannel(ax.Pos, pos) })
		return
	}
}
