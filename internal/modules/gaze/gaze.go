// Package gaze tracks gaze and head orientation targets by emitting
// continuum snippets: every gaze change schedules five snippets (two eye
// axes, three head axes), and each snippet always carries both polarity
// half-channels of its axis so a sign change never produces a directional
// discontinuity.
package gaze

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/modules"
)

// ModuleID is the registry identifier.
const ModuleID = "gaze"

// Axis names. Each has a "<name>.neg" and "<name>.pos" half-channel.
const (
	EyesX     = "eyes.x"
	EyesY     = "eyes.y"
	HeadYaw   = "head.yaw"
	HeadPitch = "head.pitch"
	HeadRoll  = "head.roll"
)

var axes = []string{EyesX, EyesY, HeadYaw, HeadPitch, HeadRoll}

// DefaultAxes are the engine axis definitions for the gaze channels, for
// registration with [engine.WithAxes] so hosts with a dedicated axis setter
// receive one signed value per axis.
func DefaultAxes() []engine.Axis {
	out := make([]engine.Axis, len(axes))
	for i, a := range axes {
		out[i] = engine.Axis{Name: a, Neg: a + ".neg", Pos: a + ".pos"}
	}
	return out
}

// Target is a full gaze/head pose. All values are signed, normalized to
// [-1, 1].
type Target struct {
	EyesX     float64
	EyesY     float64
	HeadYaw   float64
	HeadPitch float64
	HeadRoll  float64
}

func (t Target) byAxis() map[string]float64 {
	return map[string]float64{
		EyesX:     t.EyesX,
		EyesY:     t.EyesY,
		HeadYaw:   t.HeadYaw,
		HeadPitch: t.HeadPitch,
		HeadRoll:  t.HeadRoll,
	}
}

// Config holds the tunable gaze parameters.
type Config struct {
	// MaxDuration is the transition time for a full-magnitude (1.0) change.
	// Default 800ms.
	MaxDuration time.Duration

	// MinDuration floors the transition time for small changes. Default
	// 60ms.
	MinDuration time.Duration

	// EyePriority and HeadPriority order gaze against other producers.
	// Defaults 20 and 15 — eyes lead, both above lip-sync.
	EyePriority  int
	HeadPriority int
}

func (c *Config) applyDefaults() {
	if c.MaxDuration <= 0 {
		c.MaxDuration = 800 * time.Millisecond
	}
	if c.MinDuration <= 0 {
		c.MinDuration = 60 * time.Millisecond
	}
	if c.EyePriority == 0 {
		c.EyePriority = 20
	}
	if c.HeadPriority == 0 {
		c.HeadPriority = 15
	}
}

// Module emits gaze continuum snippets. Create via [Factory].
type Module struct {
	sched *engine.Scheduler

	mu      sync.Mutex
	cfg     Config
	targets map[string]float64 // last commanded signed value per axis
	unsub   func()
	started bool
}

var _ modules.Module = (*Module)(nil)

// Factory returns a module factory for the given config.
func Factory(cfg Config) modules.Factory {
	return func(deps modules.Deps) (modules.Module, error) {
		if deps.Sched == nil {
			return nil, fmt.Errorf("gaze: scheduler is required")
		}
		cfg.applyDefaults()
		return &Module{
			sched:   deps.Sched,
			cfg:     cfg,
			targets: make(map[string]float64, len(axes)),
		}, nil
	}
}

// ID implements [modules.Module].
func (m *Module) ID() string { return ModuleID }

// Start subscribes to engine events: when an axis transition snippet runs
// out it is replaced in place by a constant looping hold at the target, so
// the pose persists without the transition ramp ever restarting.
func (m *Module) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	m.unsub = m.sched.Subscribe(func(ev engine.Event) {
		if ev.Kind != engine.EventEnded {
			return
		}
		axis, ok := axisForSnippet(ev.Name)
		if !ok {
			return
		}
		m.mu.Lock()
		target, tracked := m.targets[axis]
		started := m.started
		prio := m.priorityFor(axis)
		m.mu.Unlock()
		if !tracked || !started {
			return
		}
		m.sched.Registry().Schedule(holdSnippet(axis, target, prio))
	})
	return nil
}

// Stop removes all gaze snippets and stops replacing ended transitions.
func (m *Module) Stop() error {
	m.mu.Lock()
	m.started = false
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	m.mu.Unlock()

	for _, axis := range axes {
		m.sched.Registry().Remove(snippetName(axis))
	}
	return nil
}

// SetDurations adjusts transition timing at runtime (config hot-reload).
func (m *Module) SetDurations(min, max time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if min > 0 {
		m.cfg.MinDuration = min
	}
	if max > 0 {
		m.cfg.MaxDuration = max
	}
}

// Look schedules transitions to the given pose on all five axes. Each axis
// ramps from its currently evaluated value, so re-targeting mid-flight stays
// continuous.
func (m *Module) Look(t Target) {
	for axis, target := range t.byAxis() {
		m.lookAxis(axis, target)
	}
}

// LookAxis schedules a transition on one axis only.
func (m *Module) LookAxis(axis string, target float64) error {
	for _, a := range axes {
		if a == axis {
			m.lookAxis(axis, target)
			return nil
		}
	}
	return fmt.Errorf("gaze: unknown axis %q", axis)
}

// TransitionDuration returns the ramp time for a change of the given signed
// magnitude: the configured maximum at full magnitude, scaled down linearly
// and floored at the minimum.
func (m *Module) TransitionDuration(delta float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	mag := math.Min(1, math.Abs(delta))
	d := time.Duration(float64(m.cfg.MaxDuration) * mag)
	if d < m.cfg.MinDuration {
		d = m.cfg.MinDuration
	}
	return d
}

func (m *Module) lookAxis(axis string, target float64) {
	target = clamp(target, -1, 1)
	from := m.currentValue(axis)
	dur := m.TransitionDuration(target - from)

	m.mu.Lock()
	m.targets[axis] = target
	prio := m.priorityFor(axis)
	m.mu.Unlock()

	m.sched.Registry().Schedule(transitionSnippet(axis, from, target, dur, prio))
}

// currentValue reads the signed value the axis is presently showing: the
// positive half minus the negative half of the active snippet, or the last
// commanded target when nothing is active.
func (m *Module) currentValue(axis string) float64 {
	reg := m.sched.Registry()
	name := snippetName(axis)
	pos, okP := reg.EvalChannel(name, axis+".pos")
	neg, okN := reg.EvalChannel(name, axis+".neg")
	if okP || okN {
		return pos - neg
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets[axis]
}

func (m *Module) priorityFor(axis string) int {
	if axis == EyesX || axis == EyesY {
		return m.cfg.EyePriority
	}
	return m.cfg.HeadPriority
}

func snippetName(axis string) string { return "gaze/" + axis }

func axisForSnippet(name string) (string, bool) {
	const prefix = "gaze/"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return "", false
	}
	return name[len(prefix):], true
}

// transitionSnippet ramps both polarity half-channels from the current to
// the target decomposition over dur.
func transitionSnippet(axis string, from, to float64, dur time.Duration, priority int) engine.Snippet {
	d := dur.Seconds()
	negFrom, posFrom := split(from)
	negTo, posTo := split(to)
	return engine.Snippet{
		Name:     snippetName(axis),
		Category: "gaze",
		Priority: priority,
		MaxTime:  d,
		Curves: map[string]engine.Curve{
			axis + ".neg": {{Time: 0, Intensity: negFrom}, {Time: d, Intensity: negTo}},
			axis + ".pos": {{Time: 0, Intensity: posFrom}, {Time: d, Intensity: posTo}},
		},
	}
}

// holdSnippet pins the axis at its target: constant curves, looping so it
// never self-expires.
func holdSnippet(axis string, target float64, priority int) engine.Snippet {
	neg, pos := split(target)
	return engine.Snippet{
		Name:     snippetName(axis),
		Category: "gaze",
		Priority: priority,
		Loop:     true,
		MaxTime:  1,
		Curves: map[string]engine.Curve{
			axis + ".neg": {{Time: 0, Intensity: neg}},
			axis + ".pos": {{Time: 0, Intensity: pos}},
		},
	}
}

// split decomposes a signed value into its (neg, pos) half-channel pair.
func split(v float64) (neg, pos float64) {
	if v < 0 {
		return -v, 0
	}
	return 0, v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
