// Package emotion applies named facial expressions from the snippet
// library: one-shot expression bursts and looping baseline moods, both at
// low priority so gaze and lip-sync always win contention.
package emotion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/modules"
	"github.com/ostrem/visage/internal/snippetstore"
)

// ModuleID is the registry identifier.
const ModuleID = "emotion"

// moodName is the snippet name used for the looping baseline mood; mood
// changes replace each other by name.
const moodName = "emotion/mood"

// Config holds the tunable emotion parameters.
type Config struct {
	// MatchThreshold is the minimum Jaro-Winkler similarity for fuzzy
	// expression lookup. Default 0.84.
	MatchThreshold float64

	// Priority for expression snippets when the library definition carries
	// none. Default 3 (emotion band 0–5).
	Priority int
}

func (c *Config) applyDefaults() {
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = 0.84
	}
	if c.Priority == 0 {
		c.Priority = 3
	}
}

// Module applies expressions. Create via [Factory].
type Module struct {
	sched   *engine.Scheduler
	library snippetstore.Store

	mu  sync.Mutex
	cfg Config
}

var _ modules.Module = (*Module)(nil)

// Factory returns a module factory for the given config.
func Factory(cfg Config) modules.Factory {
	return func(deps modules.Deps) (modules.Module, error) {
		if deps.Sched == nil {
			return nil, fmt.Errorf("emotion: scheduler is required")
		}
		if deps.Library == nil {
			return nil, fmt.Errorf("emotion: snippet library is required")
		}
		cfg.applyDefaults()
		return &Module{sched: deps.Sched, library: deps.Library, cfg: cfg}, nil
	}
}

// ID implements [modules.Module].
func (m *Module) ID() string { return ModuleID }

// Start implements [modules.Module]. The emotion module is purely reactive.
func (m *Module) Start(_ context.Context) error { return nil }

// Stop clears the baseline mood. One-shot expression bursts are left to
// expire naturally.
func (m *Module) Stop() error {
	m.sched.Registry().Remove(moodName)
	return nil
}

// Apply schedules a one-shot expression burst. name is matched fuzzily
// against the expression library ("hapiness" finds "happiness"); intensity
// scales the stored curves and is clamped to [0, 1]. Returns the scheduled
// snippet name.
func (m *Module) Apply(ctx context.Context, name string, intensity float64) (string, error) {
	def, err := m.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	return m.sched.Registry().Schedule(m.expressionSnippet(def, intensity, false))
}

// SetMood schedules a looping baseline expression that persists until
// replaced by another mood or cleared. Only one mood is active at a time.
func (m *Module) SetMood(ctx context.Context, name string, intensity float64) (string, error) {
	def, err := m.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	sn := m.expressionSnippet(def, intensity, true)
	sn.Name = moodName
	return m.sched.Registry().Schedule(sn)
}

// ClearMood removes the baseline mood. No-op when none is set.
func (m *Module) ClearMood() {
	m.sched.Registry().Remove(moodName)
}

// lookup finds the library expression best matching name: an exact ID hit
// first, then the highest Jaro-Winkler similarity at or above the
// threshold.
func (m *Module) lookup(ctx context.Context, name string) (*snippetstore.Definition, error) {
	if def, err := m.library.Get(ctx, name); err != nil {
		return nil, fmt.Errorf("emotion: lookup %q: %w", name, err)
	} else if def != nil {
		return def, nil
	}

	defs, err := m.library.List(ctx, snippetstore.KindExpression)
	if err != nil {
		return nil, fmt.Errorf("emotion: list expressions: %w", err)
	}

	m.mu.Lock()
	threshold := m.cfg.MatchThreshold
	m.mu.Unlock()

	needle := strings.ToLower(name)
	var best *snippetstore.Definition
	bestScore := 0.0
	for i := range defs {
		id := strings.ToLower(strings.TrimPrefix(defs[i].ID, "expr/"))
		score := matchr.JaroWinkler(needle, id, false)
		if score >= threshold && score > bestScore {
			best = &defs[i]
			bestScore = score
		}
	}
	if best == nil {
		return nil, fmt.Errorf("emotion: no expression matching %q", name)
	}
	return best, nil
}

// expressionSnippet instantiates a library definition as a schedulable
// snippet scaled by intensity.
func (m *Module) expressionSnippet(def *snippetstore.Definition, intensity float64, loop bool) engine.Snippet {
	if intensity <= 0 || intensity > 1 {
		intensity = 1
	}

	m.mu.Lock()
	priority := m.cfg.Priority
	m.mu.Unlock()

	sn := def.Snippet
	sn.Name = "emotion/" + def.ID
	if sn.Category == "" {
		sn.Category = "emotion"
	}
	if sn.Priority == 0 {
		sn.Priority = priority
	}
	if sn.IntensityScale == 0 {
		sn.IntensityScale = engine.DefaultIntensityScale
	}
	sn.IntensityScale *= intensity
	sn.Loop = loop
	// Curves are shared with the library definition; the engine never
	// mutates them.
	return sn
}
