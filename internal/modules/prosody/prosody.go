// Package prosody emits short emphasis pulses — head nods, eyebrow beats —
// keyed to stressed words. Pulses sit in the priority band between emotion
// baselines and lip-sync, so speech shapes always win the mouth while a nod
// can still ride on the head.
package prosody

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/modules"
)

// ModuleID is the registry identifier.
const ModuleID = "prosody"

// Pulse kinds.
const (
	PulseNod  = "nod"
	PulseBrow = "brow"
	PulseTilt = "tilt"
)

// pulseShapes maps a pulse kind to its channel and peak on the stored 0–100
// scale. Every pulse is a rise-and-fall envelope over the configured
// duration.
var pulseShapes = map[string]struct {
	channel string
	peak    float64
}{
	PulseNod:  {"head.nod", 45},
	PulseBrow: {"brow.raise", 60},
	PulseTilt: {"head.tilt", 30},
}

// Config holds the tunable prosody parameters.
type Config struct {
	// Duration is the full pulse length. Default 350ms.
	Duration time.Duration

	// Priority for pulse snippets. Default 5.
	Priority int
}

func (c *Config) applyDefaults() {
	if c.Duration <= 0 {
		c.Duration = 350 * time.Millisecond
	}
	if c.Priority == 0 {
		c.Priority = 5
	}
}

// Module emits prosodic pulses. Create via [Factory].
type Module struct {
	sched *engine.Scheduler

	mu  sync.Mutex
	cfg Config
}

var _ modules.Module = (*Module)(nil)

// Factory returns a module factory for the given config.
func Factory(cfg Config) modules.Factory {
	return func(deps modules.Deps) (modules.Module, error) {
		if deps.Sched == nil {
			return nil, fmt.Errorf("prosody: scheduler is required")
		}
		cfg.applyDefaults()
		return &Module{sched: deps.Sched, cfg: cfg}, nil
	}
}

// ID implements [modules.Module].
func (m *Module) ID() string { return ModuleID }

// Start implements [modules.Module]. The prosody module is purely reactive.
func (m *Module) Start(_ context.Context) error { return nil }

// Stop removes any pulse still in flight.
func (m *Module) Stop() error {
	for kind := range pulseShapes {
		m.sched.Registry().Remove("prosody/" + kind)
	}
	return nil
}

// Pulse schedules one emphasis pulse. A pulse of the same kind already in
// flight is replaced, so rapid-fire stresses do not stack. strength scales
// the peak and is clamped to [0, 1].
func (m *Module) Pulse(kind string, strength float64) (string, error) {
	shape, ok := pulseShapes[kind]
	if !ok {
		return "", fmt.Errorf("prosody: unknown pulse kind %q", kind)
	}
	if strength <= 0 || strength > 1 {
		strength = 1
	}

	m.mu.Lock()
	d := m.cfg.Duration.Seconds()
	priority := m.cfg.Priority
	m.mu.Unlock()

	return m.sched.Registry().Schedule(engine.Snippet{
		Name:           "prosody/" + kind,
		Category:       "prosody",
		Priority:       priority,
		IntensityScale: 0.01,
		MaxTime:        d,
		Curves: map[string]engine.Curve{
			shape.channel: {
				{Time: 0, Intensity: 0},
				{Time: d * 0.3, Intensity: shape.peak * strength},
				{Time: d, Intensity: 0},
			},
		},
	})
}
